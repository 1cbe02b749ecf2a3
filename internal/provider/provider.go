// Package provider holds the external collaborators the orchestrator
// drives: the source hosting platform and the insight engine.
package provider

import (
	"context"

	"github.com/repolens/repolens/internal/model"
)

// RepoRef identifies a repository on its hosting platform.
type RepoRef struct {
	Owner string
	Name  string
}

// ProgressFunc is the sink an insight provider reports sub-progress
// into. Percent is in [0,100] relative to the provider's own work.
type ProgressFunc func(percent int, stage, detail string)

// SourceProvider validates references, fetches metadata and
// materializes working copies.
type SourceProvider interface {
	Validate(ctx context.Context, repoURL string) (*RepoRef, error)
	GetMetadata(ctx context.Context, ref *RepoRef) (*model.RepoMetadata, error)
	Materialize(ctx context.Context, repoURL, dest string) error
}

// InsightReport is everything the insight provider derives from a
// working copy.
type InsightReport struct {
	Structure    model.RepoStructure
	Dependencies model.DependencyList
	CodeQuality  model.CodeQuality
	Insights     string
}

// InsightProvider produces structural facts and narrative insights. Any
// error it returns is treated uniformly as "insight stage failed".
type InsightProvider interface {
	Analyze(ctx context.Context, workspacePath string, meta *model.RepoMetadata, onProgress ProgressFunc) (*InsightReport, error)
}

// Error splits a safe user-facing message from the raw cause, which is
// only ever logged.
type Error struct {
	UserMessage string
	RawError    error
}

func (e *Error) Error() string {
	return e.UserMessage
}

func (e *Error) Unwrap() error {
	return e.RawError
}
