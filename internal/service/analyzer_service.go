package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/repolens/repolens/config"
	"github.com/repolens/repolens/internal/cache"
	"github.com/repolens/repolens/internal/model"
	"github.com/repolens/repolens/internal/pkg/jobid"
	"github.com/repolens/repolens/internal/pkg/oss"
	"github.com/repolens/repolens/internal/progress"
	"github.com/repolens/repolens/internal/provider"
	"github.com/repolens/repolens/internal/repository"
	"github.com/repolens/repolens/internal/workspace"
)

var ErrEmptyReference = errors.New("repository reference must not be empty")

// Detail tokens surfaced on terminal progress records. Provider detail
// is appended after the token so callers can match on the prefix.
const (
	DetailProviderValidationFailed = "provider-validation-failed"
	DetailConfigurationMissing     = "configuration-missing"
	DetailInsightProviderFailed    = "insight-provider-failed"
	DetailStorageFailure           = "storage-failure"
	DetailCancelled                = "cancelled"
)

// Pipeline progress checkpoints. The insight stage owns the band
// between insightBandStart and insightBandEnd.
const (
	pctValidating    = 5
	pctMetadata      = 15
	pctCloningStart  = 20
	pctCloned        = 30
	insightBandStart = 30
	insightBandEnd   = 95
	pctSaving        = 97
	pctDone          = 100
)

// configuredProvider is implemented by insight providers that need a
// credential; absence of the method means nothing to check.
type configuredProvider interface {
	Configured() bool
}

// AnalyzerService owns the job lifecycle: it spawns one detached
// pipeline goroutine per submission and coordinates only through the
// progress store, the result cache and durable storage.
type AnalyzerService struct {
	source     provider.SourceProvider
	insight    provider.InsightProvider
	progress   *progress.Store
	cache      *cache.ResultCache
	results    *repository.ResultRepository
	workspaces *workspace.Manager
	ossClient  *oss.Client // optional
	cfg        *config.Config

	// Cancellation is cooperative: Cancel writes the terminal record
	// and signals the pipeline's context through this registry.
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewAnalyzerService(
	source provider.SourceProvider,
	insight provider.InsightProvider,
	progressStore *progress.Store,
	resultCache *cache.ResultCache,
	results *repository.ResultRepository,
	workspaces *workspace.Manager,
	ossClient *oss.Client,
	cfg *config.Config,
) *AnalyzerService {
	return &AnalyzerService{
		source:     source,
		insight:    insight,
		progress:   progressStore,
		cache:      resultCache,
		results:    results,
		workspaces: workspaces,
		ossClient:  ossClient,
		cfg:        cfg,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Submit registers a job and schedules its pipeline on a detached
// goroutine. It never waits for the pipeline.
func (s *AnalyzerService) Submit(ctx context.Context, repoURL, mode string) (string, error) {
	repoURL = jobid.Normalize(repoURL)
	if repoURL == "" {
		return "", ErrEmptyReference
	}
	if mode == "" {
		mode = model.ModeStandard
	}

	id := jobid.FromRepoURL(repoURL)

	if _, err := s.progress.Create(ctx, id, repoURL); err != nil {
		return "", fmt.Errorf("failed to create progress record: %w", err)
	}

	// Two overlapping submissions for one reference both run and share
	// the progress key, last writer wins. The cache still bounds the
	// expensive work to one run per TTL window in the common case.
	jobCtx, cancel := context.WithCancel(context.Background())
	s.registerCancel(id, cancel)

	go s.runPipeline(jobCtx, id, repoURL, mode)

	return id, nil
}

// Cancel terminates the progress record for a reference and signals
// the owning pipeline, if any. Cancelling an unknown or finished job is
// a no-op.
func (s *AnalyzerService) Cancel(ctx context.Context, repoURL string) error {
	id := jobid.FromRepoURL(jobid.Normalize(repoURL))

	s.mu.Lock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()

	_, err := s.progress.Apply(ctx, id, progress.Update{
		Status: strPtr(progress.StatusFailed),
		Detail: strPtr(DetailCancelled + ": cancelled by caller"),
	})
	if errors.Is(err, progress.ErrNotFound) || errors.Is(err, progress.ErrTerminal) {
		return nil
	}
	return err
}

// GetProgress returns the current snapshot for a job identity.
func (s *AnalyzerService) GetProgress(ctx context.Context, id string) (*progress.Record, error) {
	return s.progress.Get(ctx, id)
}

// GetProgressByReference returns the snapshot for a repository URL.
func (s *AnalyzerService) GetProgressByReference(ctx context.Context, repoURL string) (*progress.Record, error) {
	return s.progress.Get(ctx, jobid.FromRepoURL(jobid.Normalize(repoURL)))
}

// GetResultByReference loads the durable result for a reference.
func (s *AnalyzerService) GetResultByReference(repoURL, mode string) (*model.AnalysisResult, error) {
	return s.results.GetByReference(repoURL, mode)
}

// GetResultByID loads the durable result for a job identity.
func (s *AnalyzerService) GetResultByID(id, mode string) (*model.AnalysisResult, error) {
	return s.results.GetByID(id, mode)
}

func (s *AnalyzerService) registerCancel(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.cancels[id]; ok {
		prev()
	}
	s.cancels[id] = cancel
}

func (s *AnalyzerService) unregisterCancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, id)
}

// runPipeline executes the staged analysis for one job. Every exit path
// releases the workspace and leaves the progress record terminal.
func (s *AnalyzerService) runPipeline(ctx context.Context, id, repoURL, mode string) {
	defer s.unregisterCancel(id)
	startedAt := time.Now()

	setProgress := func(pct int, stage string) {
		_, err := s.progress.Apply(ctx, id, progress.Update{
			Status:   strPtr(progress.StatusAnalyzing),
			Progress: intPtr(pct),
			Stage:    strPtr(stage),
		})
		if err != nil && !errors.Is(err, progress.ErrTerminal) {
			log.Printf("Job %s: failed to update progress: %v", id, err)
		}
	}

	fail := func(detail string) {
		_, err := s.progress.Apply(ctx, id, progress.Update{
			Status: strPtr(progress.StatusFailed),
			Detail: strPtr(detail),
		})
		if err != nil && !errors.Is(err, progress.ErrTerminal) {
			log.Printf("Job %s: failed to record failure: %v", id, err)
		}
	}

	complete := func(detail string) {
		_, err := s.progress.Apply(ctx, id, progress.Update{
			Status:   strPtr(progress.StatusCompleted),
			Progress: intPtr(pctDone),
			Detail:   strPtr(detail),
		})
		if err != nil && !errors.Is(err, progress.ErrTerminal) {
			log.Printf("Job %s: failed to record completion: %v", id, err)
		}
	}

	cancelled := func() bool {
		return ctx.Err() != nil
	}

	setProgress(pctValidating, progress.StageValidating)

	// Cache hit short-circuits the whole pipeline.
	cacheKey := cache.Key(repoURL, mode)
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil {
		log.Printf("Job %s: cache hit, skipping pipeline", id)
		cached.ElapsedSeconds = int(time.Since(startedAt).Seconds())
		if err := s.results.Save(cached); err != nil {
			log.Printf("Job %s: failed to persist cached result: %v", id, err)
			fail(DetailStorageFailure + ": could not persist result")
			return
		}
		setProgress(pctSaving, progress.StageSaving)
		complete("")
		return
	} else if !errors.Is(err, cache.ErrMiss) {
		log.Printf("Job %s: cache lookup failed: %v", id, err)
	}

	if cancelled() {
		return
	}

	ref, err := s.source.Validate(ctx, repoURL)
	if err != nil {
		log.Printf("Job %s: validation failed: %v", id, rawError(err))
		fail(DetailProviderValidationFailed + ": " + userMessage(err))
		return
	}

	setProgress(pctMetadata, progress.StageMetadata)
	meta, err := s.source.GetMetadata(ctx, ref)
	if err != nil {
		log.Printf("Job %s: metadata fetch failed: %v", id, rawError(err))
		fail(DetailProviderValidationFailed + ": " + userMessage(err))
		return
	}

	setProgress(pctCloningStart, progress.StageCloning)
	ws, err := s.workspaces.Create()
	if err != nil {
		log.Printf("Job %s: workspace allocation failed: %v", id, err)
		fail(DetailStorageFailure + ": could not allocate workspace")
		return
	}
	defer func() {
		if err := s.workspaces.Destroy(ws); err != nil {
			log.Printf("Job %s: workspace cleanup failed: %v", id, err)
		}
	}()

	if err := s.source.Materialize(ctx, repoURL, ws.Path); err != nil {
		log.Printf("Job %s: clone failed: %v", id, rawError(err))
		fail(DetailProviderValidationFailed + ": " + userMessage(err))
		return
	}
	setProgress(pctCloned, progress.StageCloning)

	if cancelled() {
		return
	}

	// Fail fast on missing credentials instead of attempting partial
	// insight work.
	if cp, ok := s.insight.(configuredProvider); ok && !cp.Configured() {
		fail(DetailConfigurationMissing + ": llm.api_key is not set")
		return
	}

	onProgress := func(percent int, stage, detail string) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		mapped := insightBandStart + int(math.Round(float64(percent)*0.7))
		if mapped > insightBandEnd {
			mapped = insightBandEnd
		}
		_, err := s.progress.Apply(ctx, id, progress.Update{
			Progress: intPtr(mapped),
			Stage:    strPtr(progress.StageInsight),
			Detail:   strPtr(detail),
		})
		if err != nil && !errors.Is(err, progress.ErrTerminal) {
			log.Printf("Job %s: failed to forward sub-progress: %v", id, err)
		}
	}

	setProgress(insightBandStart, progress.StageInsight)
	report, insightErr := s.insight.Analyze(ctx, ws.Path, meta, onProgress)

	if cancelled() {
		return
	}

	result := &model.AnalysisResult{
		RepoURL:  repoURL,
		Mode:     mode,
		Metadata: *meta,
	}

	cacheTTL := time.Duration(s.cfg.Analysis.CacheTTLSeconds) * time.Second
	if insightErr != nil {
		// The insight stage is best-effort: degrade to a metadata-only
		// result instead of failing the job.
		log.Printf("Job %s: insight stage failed, producing basic result: %v", id, insightErr)
		result.Status = model.ResultStatusBasic
		result.Structure = model.RepoStructure{}
		result.Dependencies = model.DependencyList{}
		result.CodeQuality = model.CodeQuality{}
		result.Insights = model.InsightsUnavailable
		cacheTTL = time.Duration(s.cfg.Analysis.BasicCacheTTLSeconds) * time.Second
	} else {
		result.Status = model.ResultStatusFull
		result.Structure = report.Structure
		result.Dependencies = report.Dependencies
		result.CodeQuality = report.CodeQuality
		result.Insights = report.Insights
		s.offloadInsights(id, result)
	}

	setProgress(pctSaving, progress.StageSaving)
	result.ElapsedSeconds = int(time.Since(startedAt).Seconds())
	if err := s.results.Save(result); err != nil {
		log.Printf("Job %s: failed to persist result: %v", id, err)
		fail(DetailStorageFailure + ": could not persist result")
		return
	}

	if err := s.cache.Set(ctx, cacheKey, result, cacheTTL); err != nil {
		// Cache is a memo, not the source of truth.
		log.Printf("Job %s: failed to write result cache: %v", id, err)
	}

	// A degraded job still completes; the detail token records why.
	if insightErr != nil {
		complete(DetailInsightProviderFailed + ": " + insightErr.Error())
	} else {
		complete("")
	}
	log.Printf("Job %s: completed in %d seconds (status=%s)", id, result.ElapsedSeconds, result.Status)
}

// offloadInsights moves a large narrative payload to object storage
// when a client is configured. Best-effort: the database copy stays
// authoritative on failure.
func (s *AnalyzerService) offloadInsights(id string, result *model.AnalysisResult) {
	if s.ossClient == nil || result.Insights == "" {
		return
	}

	payload, err := json.Marshal(map[string]string{"insights": result.Insights})
	if err != nil {
		return
	}

	url, err := s.ossClient.UploadInsights(id, payload)
	if err != nil {
		log.Printf("Job %s: insight offload failed: %v", id, err)
		return
	}
	result.InsightsURL = url
}

// userMessage extracts the safe message from a provider error; any
// other error is reduced to a generic string so internals never leak.
func userMessage(err error) string {
	var perr *provider.Error
	if errors.As(err, &perr) {
		return perr.UserMessage
	}
	return "analysis failed unexpectedly"
}

// rawError prefers the wrapped cause for logging.
func rawError(err error) error {
	var perr *provider.Error
	if errors.As(err, &perr) && perr.RawError != nil {
		return perr.RawError
	}
	return err
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

// Status summarizes whether a reference currently has an active job.
type Status struct {
	JobID     string
	Active    bool
	HasResult bool
	Record    *progress.Record
}

// GetStatus reports the job and result state for a reference without
// treating "no active job" as an error.
func (s *AnalyzerService) GetStatus(ctx context.Context, repoURL, mode string) (*Status, error) {
	repoURL = jobid.Normalize(repoURL)
	if repoURL == "" {
		return nil, ErrEmptyReference
	}
	id := jobid.FromRepoURL(repoURL)

	status := &Status{JobID: id}

	rec, err := s.progress.Get(ctx, id)
	switch {
	case err == nil:
		status.Record = rec
		status.Active = !rec.Terminal()
	case errors.Is(err, progress.ErrNotFound):
		// Unknown or expired: distinct from failed.
	default:
		return nil, err
	}

	if _, err := s.results.GetByReference(repoURL, mode); err == nil {
		status.HasResult = true
	} else if !errors.Is(err, repository.ErrResultNotFound) {
		return nil, err
	}

	return status, nil
}
