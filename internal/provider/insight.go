package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/repolens/repolens/config"
	"github.com/repolens/repolens/internal/model"
)

// Sub-progress checkpoints inside the insight stage.
const (
	insightStageScanning     = "scanning"
	insightStageDependencies = "dependencies"
	insightStageQuality      = "quality"
	insightStageNarrative    = "narrative"
)

var ErrMissingAPIKey = errors.New("llm api key is not configured")

// LLMInsightProvider derives structural facts locally and asks an
// OpenAI-compatible endpoint for the narrative part.
type LLMInsightProvider struct {
	cfg        config.LLMConfig
	httpClient *http.Client
}

func NewLLMInsightProvider(cfg *config.Config) *LLMInsightProvider {
	return &LLMInsightProvider{
		cfg: cfg.LLM,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		},
	}
}

// Configured reports whether the required credential is present.
func (p *LLMInsightProvider) Configured() bool {
	return p.cfg.APIKey != ""
}

func (p *LLMInsightProvider) Analyze(ctx context.Context, workspacePath string, meta *model.RepoMetadata, onProgress ProgressFunc) (*InsightReport, error) {
	if !p.Configured() {
		return nil, ErrMissingAPIKey
	}
	if onProgress == nil {
		onProgress = func(int, string, string) {}
	}

	onProgress(5, insightStageScanning, "")
	structure, scan, err := scanStructure(workspacePath)
	if err != nil {
		return nil, fmt.Errorf("failed to scan working copy: %w", err)
	}

	onProgress(35, insightStageDependencies, "")
	deps := parseDependencies(workspacePath)

	onProgress(55, insightStageQuality, "")
	quality := assessQuality(structure, scan)

	onProgress(70, insightStageNarrative, "")
	insights, err := p.generateInsights(ctx, meta, structure, deps, quality)
	if err != nil {
		return nil, err
	}

	onProgress(100, insightStageNarrative, "")

	return &InsightReport{
		Structure:    *structure,
		Dependencies: deps,
		CodeQuality:  quality,
		Insights:     insights,
	}, nil
}

// scanStats carries the counters quality heuristics need beyond the
// structure facts themselves.
type scanStats struct {
	codeFiles  int
	testFiles  int
	hasReadme  bool
	hasLicense bool
	hasCI      bool
}

var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true,
	".jsx": true, ".java": true, ".rb": true, ".rs": true, ".c": true,
	".cc": true, ".cpp": true, ".h": true, ".cs": true, ".php": true,
	".kt": true, ".swift": true, ".scala": true,
}

func scanStructure(root string) (*model.RepoStructure, *scanStats, error) {
	structure := &model.RepoStructure{Languages: map[string]int{}}
	stats := &scanStats{}
	var files []model.FileStat

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}

		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" || d.Name() == "vendor" {
				return filepath.SkipDir
			}
			if strings.HasPrefix(rel, ".github") {
				stats.hasCI = true
			}
			structure.TotalDirs++
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		structure.TotalFiles++
		structure.TotalSizeBytes += info.Size()
		files = append(files, model.FileStat{Path: filepath.ToSlash(rel), SizeBytes: info.Size()})

		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != "" {
			structure.Languages[ext]++
		}

		lowerName := strings.ToLower(d.Name())
		switch {
		case strings.HasPrefix(lowerName, "readme"):
			stats.hasReadme = true
		case strings.HasPrefix(lowerName, "license") || strings.HasPrefix(lowerName, "copying"):
			stats.hasLicense = true
		}
		if strings.Contains(filepath.ToSlash(rel), ".gitlab-ci") || lowerName == "jenkinsfile" {
			stats.hasCI = true
		}

		if codeExtensions[ext] {
			stats.codeFiles++
			if strings.Contains(lowerName, "_test.") || strings.Contains(lowerName, ".test.") ||
				strings.Contains(lowerName, ".spec.") || strings.HasPrefix(lowerName, "test_") {
				stats.testFiles++
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].SizeBytes > files[j].SizeBytes })
	if len(files) > 5 {
		files = files[:5]
	}
	structure.LargestFiles = files

	return structure, stats, nil
}

func parseDependencies(root string) model.DependencyList {
	deps := model.DependencyList{}
	deps = append(deps, parseGoMod(filepath.Join(root, "go.mod"))...)
	deps = append(deps, parsePackageJSON(filepath.Join(root, "package.json"))...)
	deps = append(deps, parseRequirementsTxt(filepath.Join(root, "requirements.txt"))...)
	return deps
}

func parseGoMod(path string) model.DependencyList {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var deps model.DependencyList
	inRequire := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case strings.HasPrefix(line, "require ("):
			inRequire = true
			continue
		case inRequire && line == ")":
			inRequire = false
			continue
		}

		var entry string
		if inRequire {
			entry = line
		} else if strings.HasPrefix(line, "require ") {
			entry = strings.TrimPrefix(line, "require ")
		} else {
			continue
		}

		fields := strings.Fields(entry)
		if len(fields) < 2 || strings.HasPrefix(fields[0], "//") {
			continue
		}
		deps = append(deps, model.Dependency{
			Name:      fields[0],
			Version:   fields[1],
			Ecosystem: "go",
		})
	}
	return deps
}

func parsePackageJSON(path string) model.DependencyList {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil
	}

	var deps model.DependencyList
	for _, section := range []map[string]string{pkg.Dependencies, pkg.DevDependencies} {
		names := make([]string, 0, len(section))
		for name := range section {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			deps = append(deps, model.Dependency{
				Name:      name,
				Version:   section[name],
				Ecosystem: "npm",
			})
		}
	}
	return deps
}

func parseRequirementsTxt(path string) model.DependencyList {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var deps model.DependencyList
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}

		name := line
		version := ""
		for _, sep := range []string{"==", ">=", "<=", "~=", ">", "<"} {
			if idx := strings.Index(line, sep); idx > 0 {
				name = strings.TrimSpace(line[:idx])
				version = strings.TrimSpace(line[idx+len(sep):])
				break
			}
		}
		deps = append(deps, model.Dependency{
			Name:      name,
			Version:   version,
			Ecosystem: "pip",
		})
	}
	return deps
}

func assessQuality(structure *model.RepoStructure, stats *scanStats) model.CodeQuality {
	quality := model.CodeQuality{
		HasReadme:  stats.hasReadme,
		HasLicense: stats.hasLicense,
		HasCI:      stats.hasCI,
	}
	if stats.codeFiles > 0 {
		quality.TestFileRatio = float64(stats.testFiles) / float64(stats.codeFiles)
	}
	if structure.TotalFiles > 0 {
		quality.AvgFileSizeBytes = structure.TotalSizeBytes / int64(structure.TotalFiles)
	}
	return quality
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *LLMInsightProvider) generateInsights(ctx context.Context, meta *model.RepoMetadata, structure *model.RepoStructure, deps model.DependencyList, quality model.CodeQuality) (string, error) {
	facts, err := json.Marshal(map[string]interface{}{
		"metadata":     meta,
		"structure":    structure,
		"dependencies": deps,
		"code_quality": quality,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode analysis facts: %w", err)
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{
				Role: "system",
				Content: "You are a senior engineer reviewing a source repository. " +
					"Given structural facts about it, write a concise qualitative assessment: " +
					"architecture, maintainability, dependency health, notable risks.",
			},
			{Role: "user", Content: string(facts)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	endpoint := strings.TrimSuffix(p.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return "", fmt.Errorf("failed to decode llm response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if chat.Error != nil {
			msg = chat.Error.Message
		}
		return "", fmt.Errorf("llm returned error: %s", msg)
	}
	if len(chat.Choices) == 0 || chat.Choices[0].Message.Content == "" {
		return "", errors.New("llm returned no content")
	}

	return chat.Choices[0].Message.Content, nil
}
