// Package workspace allocates per-job scratch directories and
// guarantees they can be destroyed on any exit path.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DirPrefix marks directories this package owns under the root.
const DirPrefix = "repolens-ws-"

// Workspace is an exclusively-owned scratch directory for one job.
type Workspace struct {
	Path string
}

type Manager struct {
	root string
}

// NewManager uses root as the parent for all workspaces, defaulting to
// the system temp dir.
func NewManager(root string) *Manager {
	if root == "" {
		root = os.TempDir()
	}
	return &Manager{root: root}
}

// Create allocates a uniquely-named empty directory.
func (m *Manager) Create() (*Workspace, error) {
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}

	dir, err := os.MkdirTemp(m.root, DirPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{Path: dir}, nil
}

// Destroy removes the workspace recursively. Safe to call with a nil
// workspace, a never-populated directory, or one already removed. It
// refuses to delete paths outside the manager's root.
func (m *Manager) Destroy(ws *Workspace) error {
	if ws == nil || ws.Path == "" {
		return nil
	}

	absDir, err := filepath.Abs(ws.Path)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace path: %w", err)
	}

	absRoot, err := filepath.Abs(m.root)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	if !strings.HasPrefix(absDir, absRoot+string(filepath.Separator)) {
		return fmt.Errorf("refusing to delete directory outside workspace root: %s", absDir)
	}

	return os.RemoveAll(absDir)
}

// Sweep removes workspace directories older than maxAge. Jobs release
// their own workspace; this is a safety net for process crashes.
// Returns the number of directories removed.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read workspace root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), DirPrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.RemoveAll(filepath.Join(m.root, entry.Name())); err == nil {
			removed++
		}
	}

	return removed, nil
}
