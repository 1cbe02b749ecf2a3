package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repolens/repolens/internal/model"
)

func setupTestCache(t *testing.T) (*ResultCache, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cleanup := func() {
		client.Close()
		mr.Close()
	}
	return NewResultCache(client), mr, cleanup
}

func TestKey(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t,
			Key("https://github.com/acme/widgets", "standard"),
			Key("https://github.com/acme/widgets", "standard"))
	})

	t.Run("mode separates entries", func(t *testing.T) {
		assert.NotEqual(t,
			Key("https://github.com/acme/widgets", "standard"),
			Key("https://github.com/acme/widgets", "deep"))
	})

	t.Run("empty mode defaults to standard", func(t *testing.T) {
		assert.Equal(t,
			Key("https://github.com/acme/widgets", ""),
			Key("https://github.com/acme/widgets", model.ModeStandard))
	})

	t.Run("equivalent references share a key", func(t *testing.T) {
		assert.Equal(t,
			Key("https://github.com/acme/widgets", "standard"),
			Key("https://github.com/acme/widgets.git", "standard"))
	})
}

func TestResultCache_SetGet(t *testing.T) {
	c, _, cleanup := setupTestCache(t)
	defer cleanup()
	ctx := context.Background()

	result := &model.AnalysisResult{
		RepoURL: "https://github.com/acme/widgets",
		Mode:    model.ModeStandard,
		Status:  model.ResultStatusFull,
		Metadata: model.RepoMetadata{
			Owner: "acme",
			Name:  "widgets",
		},
		Insights: "well structured project",
	}

	key := Key(result.RepoURL, result.Mode)
	require.NoError(t, c.Set(ctx, key, result, time.Hour))

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Metadata.Owner)
	assert.Equal(t, model.ResultStatusFull, got.Status)
	assert.Equal(t, "well structured project", got.Insights)
}

func TestResultCache_Miss(t *testing.T) {
	c, _, cleanup := setupTestCache(t)
	defer cleanup()

	_, err := c.Get(context.Background(), "result:absent:standard")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestResultCache_TTLExpiry(t *testing.T) {
	c, mr, cleanup := setupTestCache(t)
	defer cleanup()
	ctx := context.Background()

	key := Key("https://github.com/acme/widgets", "standard")
	require.NoError(t, c.Set(ctx, key, &model.AnalysisResult{}, 10*time.Minute))

	mr.FastForward(11 * time.Minute)

	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)
}
