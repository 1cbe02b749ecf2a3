package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repolens/repolens/internal/model"
	"github.com/repolens/repolens/internal/pkg/jobid"
	"github.com/repolens/repolens/internal/testutil"
)

func setupResultRepo(t *testing.T) (*ResultRepository, func()) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	return NewResultRepository(db), func() { testutil.CleanupTestDB(t, db) }
}

func TestResultRepository_SaveAndGet(t *testing.T) {
	repo, cleanup := setupResultRepo(t)
	defer cleanup()

	result := &model.AnalysisResult{
		RepoURL: "https://github.com/acme/widgets",
		Status:  model.ResultStatusFull,
		Metadata: model.RepoMetadata{
			Owner: "acme",
			Name:  "widgets",
		},
		Dependencies: model.DependencyList{
			{Name: "github.com/spf13/viper", Version: "v1.21.0", Ecosystem: "go"},
		},
		Insights: "nice",
	}
	require.NoError(t, repo.Save(result))

	got, err := repo.GetByReference("https://github.com/acme/widgets", "")
	require.NoError(t, err)
	assert.Equal(t, model.ModeStandard, got.Mode)
	assert.Equal(t, "acme", got.Metadata.Owner)
	require.Len(t, got.Dependencies, 1)
	assert.Equal(t, "github.com/spf13/viper", got.Dependencies[0].Name)
}

func TestResultRepository_Save_UpsertsByRepoAndMode(t *testing.T) {
	repo, cleanup := setupResultRepo(t)
	defer cleanup()

	first := &model.AnalysisResult{
		RepoURL:  "https://github.com/acme/widgets",
		Status:   model.ResultStatusBasic,
		Insights: model.InsightsUnavailable,
	}
	require.NoError(t, repo.Save(first))

	second := &model.AnalysisResult{
		RepoURL:  "https://github.com/acme/widgets",
		Status:   model.ResultStatusFull,
		Insights: "now with insights",
	}
	require.NoError(t, repo.Save(second))

	got, err := repo.GetByReference("https://github.com/acme/widgets", model.ModeStandard)
	require.NoError(t, err)
	assert.Equal(t, model.ResultStatusFull, got.Status)
	assert.Equal(t, "now with insights", got.Insights)

	var count int64
	require.NoError(t, repo.db.Model(&model.AnalysisResult{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestResultRepository_Get_NormalizesReference(t *testing.T) {
	repo, cleanup := setupResultRepo(t)
	defer cleanup()

	testutil.TestResult(t, repo.db, "https://github.com/acme/widgets")

	got, err := repo.GetByReference("https://github.com/acme/widgets.git", "")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets", got.RepoURL)
}

func TestResultRepository_GetByID(t *testing.T) {
	repo, cleanup := setupResultRepo(t)
	defer cleanup()

	require.NoError(t, repo.Save(&model.AnalysisResult{
		RepoURL: "https://github.com/acme/widgets",
		Status:  model.ResultStatusFull,
	}))

	id := jobid.FromRepoURL("https://github.com/acme/widgets")
	got, err := repo.GetByID(id, "")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets", got.RepoURL)

	_, err = repo.GetByID("!!!bad!!!", "")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestResultRepository_Get_NotFound(t *testing.T) {
	repo, cleanup := setupResultRepo(t)
	defer cleanup()

	_, err := repo.GetByReference("https://github.com/acme/absent", "")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestResultRepository_ModesAreSeparate(t *testing.T) {
	repo, cleanup := setupResultRepo(t)
	defer cleanup()

	testutil.TestResult(t, repo.db, "https://github.com/acme/widgets")
	testutil.TestResult(t, repo.db, "https://github.com/acme/widgets",
		testutil.WithMode(model.ModeDeep),
		testutil.WithStatus(model.ResultStatusBasic),
		testutil.WithInsights(model.InsightsUnavailable))

	std, err := repo.GetByReference("https://github.com/acme/widgets", model.ModeStandard)
	require.NoError(t, err)
	deep, err := repo.GetByReference("https://github.com/acme/widgets", model.ModeDeep)
	require.NoError(t, err)

	assert.Equal(t, model.ResultStatusFull, std.Status)
	assert.Equal(t, model.ResultStatusBasic, deep.Status)
}
