// Package progress holds the Redis-backed lifecycle snapshots for
// analysis jobs. Records expire a fixed TTL after their last update, so
// a missing record means "unknown job", never "failed job".
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Job lifecycle statuses. Completed and failed are terminal.
const (
	StatusPending   = "pending"
	StatusAnalyzing = "analyzing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Stage tokens are machine-readable so callers can localize them.
const (
	StageValidating = "validating"
	StageMetadata   = "metadata"
	StageCloning    = "cloning"
	StageInsight    = "insight-analysis"
	StageSaving     = "saving"
)

var (
	ErrNotFound = errors.New("progress record not found")
	ErrTerminal = errors.New("progress record is terminal")
)

// Record is one job's lifecycle snapshot.
type Record struct {
	JobID     string    `json:"job_id"`
	RepoURL   string    `json:"repo_url"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Stage     string    `json:"stage,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the record can no longer change.
func (r *Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Update is a partial mutation; nil fields are left untouched.
type Update struct {
	Status   *string
	Progress *int
	Stage    *string
	Detail   *string
}

// Store reads and writes records under progress:<job id>. All
// operations are single-key; cross-record atomicity is never needed.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{client: client, ttl: ttl}
}

func key(jobID string) string {
	return "progress:" + jobID
}

// Create writes a fresh pending record, overwriting any previous record
// for the same job identity (re-submission uses the same key).
func (s *Store) Create(ctx context.Context, jobID, repoURL string) (*Record, error) {
	now := time.Now().UTC()
	rec := &Record{
		JobID:     jobID,
		RepoURL:   repoURL,
		Status:    StatusPending,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.write(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the current snapshot, or ErrNotFound once the record has
// expired or was never created.
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	data, err := s.client.Get(ctx, key(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get progress record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode progress record: %w", err)
	}
	return &rec, nil
}

// Apply merges an update into the stored record and refreshes its TTL.
// An expired record is never resurrected (ErrNotFound) and a terminal
// record is never mutated (ErrTerminal). Progress is clamped so it can
// only move forward.
func (s *Store) Apply(ctx context.Context, jobID string, upd Update) (*Record, error) {
	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if rec.Terminal() {
		return nil, ErrTerminal
	}

	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.Progress != nil && *upd.Progress > rec.Progress {
		rec.Progress = *upd.Progress
	}
	if upd.Stage != nil {
		rec.Stage = *upd.Stage
	}
	if upd.Detail != nil {
		rec.Detail = *upd.Detail
	}
	rec.UpdatedAt = time.Now().UTC()

	if err := s.write(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes the record. Deleting an absent record is a no-op.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, key(jobID)).Err()
}

func (s *Store) write(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode progress record: %w", err)
	}
	if err := s.client.Set(ctx, key(rec.JobID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write progress record: %w", err)
	}
	return nil
}
