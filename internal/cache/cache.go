// Package cache memoizes completed analysis results in Redis so a
// resubmission inside the TTL window skips the whole pipeline.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/repolens/repolens/internal/model"
	"github.com/repolens/repolens/internal/pkg/jobid"
)

var ErrMiss = errors.New("cache miss")

type ResultCache struct {
	client *redis.Client
}

func NewResultCache(client *redis.Client) *ResultCache {
	return &ResultCache{client: client}
}

// Key derives the cache key from the repository reference and the
// analysis mode. Equivalent references share a key via jobid.
func Key(repoURL, mode string) string {
	if mode == "" {
		mode = model.ModeStandard
	}
	return fmt.Sprintf("result:%s:%s", jobid.FromRepoURL(repoURL), mode)
}

// Get returns the cached result or ErrMiss.
func (c *ResultCache) Get(ctx context.Context, key string) (*model.AnalysisResult, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var result model.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &result, nil
}

// Set stores the result under key for ttl.
func (c *ResultCache) Set(ctx context.Context, key string, result *model.AnalysisResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}
