package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/repolens/repolens/internal/model"
	"github.com/repolens/repolens/internal/pkg/jobid"
)

var ErrResultNotFound = errors.New("analysis result not found")

type ResultRepository struct {
	db *gorm.DB
}

func NewResultRepository(db *gorm.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Save upserts by (repo_url, mode) so re-analyzing a repository
// replaces the previous result instead of stacking rows.
func (r *ResultRepository) Save(result *model.AnalysisResult) error {
	result.RepoURL = jobid.Normalize(result.RepoURL)
	if result.Mode == "" {
		result.Mode = model.ModeStandard
	}
	// The conflict target decides the row; a stale primary key from a
	// cached payload must not collide on insert.
	result.ID = 0

	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "repo_url"}, {Name: "mode"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "metadata", "structure", "dependencies",
			"code_quality", "insights", "insights_url",
			"elapsed_seconds", "updated_at",
		}),
	}).Create(result).Error
}

// GetByReference loads the result for a repository reference.
func (r *ResultRepository) GetByReference(repoURL, mode string) (*model.AnalysisResult, error) {
	if mode == "" {
		mode = model.ModeStandard
	}

	var result model.AnalysisResult
	err := r.db.Where("repo_url = ? AND mode = ?", jobid.Normalize(repoURL), mode).
		First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	return &result, nil
}

// GetByID resolves a job identity back to its reference and loads the
// result for it.
func (r *ResultRepository) GetByID(id, mode string) (*model.AnalysisResult, error) {
	repoURL, err := jobid.RepoURL(id)
	if err != nil {
		return nil, ErrResultNotFound
	}
	return r.GetByReference(repoURL, mode)
}
