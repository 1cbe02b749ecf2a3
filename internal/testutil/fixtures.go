package testutil

import (
	"testing"

	"gorm.io/gorm"

	"github.com/repolens/repolens/internal/model"
)

// ResultOption mutates a fixture before insertion.
type ResultOption func(*model.AnalysisResult)

func WithMode(mode string) ResultOption {
	return func(r *model.AnalysisResult) { r.Mode = mode }
}

func WithStatus(status string) ResultOption {
	return func(r *model.AnalysisResult) { r.Status = status }
}

func WithInsights(insights string) ResultOption {
	return func(r *model.AnalysisResult) { r.Insights = insights }
}

// TestResult inserts a full analysis result for the given repository.
func TestResult(t *testing.T, db *gorm.DB, repoURL string, opts ...ResultOption) *model.AnalysisResult {
	t.Helper()

	result := &model.AnalysisResult{
		RepoURL: repoURL,
		Mode:    model.ModeStandard,
		Status:  model.ResultStatusFull,
		Metadata: model.RepoMetadata{
			Owner: "acme",
			Name:  "widgets",
		},
		Structure: model.RepoStructure{
			TotalFiles: 12,
			TotalDirs:  3,
		},
		Dependencies: model.DependencyList{
			{Name: "github.com/gin-gonic/gin", Version: "v1.11.0", Ecosystem: "go"},
		},
		Insights: "looks healthy",
	}
	for _, opt := range opts {
		opt(result)
	}

	if err := db.Create(result).Error; err != nil {
		t.Fatalf("Failed to insert test result: %v", err)
	}
	return result
}
