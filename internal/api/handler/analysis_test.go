package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repolens/repolens/config"
	"github.com/repolens/repolens/internal/cache"
	"github.com/repolens/repolens/internal/model"
	"github.com/repolens/repolens/internal/model/dto"
	"github.com/repolens/repolens/internal/pkg/jobid"
	"github.com/repolens/repolens/internal/pkg/response"
	"github.com/repolens/repolens/internal/progress"
	"github.com/repolens/repolens/internal/provider"
	"github.com/repolens/repolens/internal/repository"
	"github.com/repolens/repolens/internal/service"
	"github.com/repolens/repolens/internal/testutil"
	"github.com/repolens/repolens/internal/workspace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSource struct{}

func (stubSource) Validate(_ context.Context, _ string) (*provider.RepoRef, error) {
	return &provider.RepoRef{Owner: "acme", Name: "widgets"}, nil
}

func (stubSource) GetMetadata(_ context.Context, _ *provider.RepoRef) (*model.RepoMetadata, error) {
	return &model.RepoMetadata{Owner: "acme", Name: "widgets", SizeKB: 120}, nil
}

func (stubSource) Materialize(_ context.Context, _, _ string) error { return nil }

type stubInsight struct{}

func (stubInsight) Configured() bool { return true }

func (stubInsight) Analyze(_ context.Context, _ string, _ *model.RepoMetadata, _ provider.ProgressFunc) (*provider.InsightReport, error) {
	return &provider.InsightReport{Insights: "looks fine"}, nil
}

type handlerContext struct {
	analysis *AnalysisHandler
	progress *ProgressHandler
	store    *progress.Store
}

func setupHandlers(t *testing.T) *handlerContext {
	t.Helper()

	client, _ := testutil.SetupTestRedis(t)
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := &config.Config{}
	cfg.Analysis.ProgressTTLSeconds = 1800
	cfg.Analysis.CacheTTLSeconds = 3600
	cfg.Analysis.BasicCacheTTLSeconds = 600

	store := progress.NewStore(client, 30*time.Minute)
	analyzer := service.NewAnalyzerService(
		stubSource{},
		stubInsight{},
		store,
		cache.NewResultCache(client),
		repository.NewResultRepository(db),
		workspace.NewManager(t.TempDir()),
		nil,
		cfg,
	)

	return &handlerContext{
		analysis: NewAnalysisHandler(analyzer),
		progress: NewProgressHandler(analyzer, 20*time.Millisecond),
		store:    store,
	}
}

func performRequest(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

func waitForCompletion(t *testing.T, store *progress.Store, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec, err := store.Get(context.Background(), id)
		return err == nil && rec.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAnalysisHandler_Submit_Success(t *testing.T) {
	ctx := setupHandlers(t)

	router := gin.New()
	router.POST("/analyses", ctx.analysis.Submit)

	w := performRequest(router, "POST", "/analyses", dto.SubmitAnalysisRequest{
		RepoURL: "https://github.com/acme/widgets",
	})
	resp := parseResponse(t, w)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.CodeSuccess, resp.Code)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, data["job_id"])
	assert.Equal(t, "https://github.com/acme/widgets", data["repo_url"])

	waitForCompletion(t, ctx.store, data["job_id"].(string))
}

func TestAnalysisHandler_Submit_MissingRepoURL(t *testing.T) {
	ctx := setupHandlers(t)

	router := gin.New()
	router.POST("/analyses", ctx.analysis.Submit)

	w := performRequest(router, "POST", "/analyses", map[string]string{"mode": "standard"})
	resp := parseResponse(t, w)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestAnalysisHandler_Submit_InvalidMode(t *testing.T) {
	ctx := setupHandlers(t)

	router := gin.New()
	router.POST("/analyses", ctx.analysis.Submit)

	w := performRequest(router, "POST", "/analyses", dto.SubmitAnalysisRequest{
		RepoURL: "https://github.com/acme/widgets",
		Mode:    "exhaustive",
	})
	resp := parseResponse(t, w)

	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestAnalysisHandler_GetStatus_NoJob(t *testing.T) {
	ctx := setupHandlers(t)

	router := gin.New()
	router.GET("/analyses/status", ctx.analysis.GetStatus)

	w := performRequest(router, "GET", "/analyses/status?repo_url=https://github.com/acme/idle", nil)
	resp := parseResponse(t, w)

	assert.Equal(t, response.CodeSuccess, resp.Code)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.False(t, data["active"].(bool))
	assert.False(t, data["has_result"].(bool))
}

func TestAnalysisHandler_GetStatus_AfterCompletion(t *testing.T) {
	ctx := setupHandlers(t)

	router := gin.New()
	router.POST("/analyses", ctx.analysis.Submit)
	router.GET("/analyses/status", ctx.analysis.GetStatus)

	w := performRequest(router, "POST", "/analyses", dto.SubmitAnalysisRequest{
		RepoURL: "https://github.com/acme/widgets",
	})
	resp := parseResponse(t, w)
	id := resp.Data.(map[string]interface{})["job_id"].(string)
	waitForCompletion(t, ctx.store, id)

	w = performRequest(router, "GET", "/analyses/status?repo_url=https://github.com/acme/widgets", nil)
	resp = parseResponse(t, w)

	assert.Equal(t, response.CodeSuccess, resp.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, id, data["job_id"])
	assert.False(t, data["active"].(bool))
	assert.True(t, data["has_result"].(bool))

	prog, ok := data["progress"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "completed", prog["status"])
	assert.Equal(t, float64(100), prog["progress"])
}

func TestAnalysisHandler_GetStatus_MissingRepoURL(t *testing.T) {
	ctx := setupHandlers(t)

	router := gin.New()
	router.GET("/analyses/status", ctx.analysis.GetStatus)

	w := performRequest(router, "GET", "/analyses/status", nil)
	resp := parseResponse(t, w)

	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestAnalysisHandler_Cancel_NoActiveJob(t *testing.T) {
	ctx := setupHandlers(t)

	router := gin.New()
	router.DELETE("/analyses", ctx.analysis.Cancel)

	w := performRequest(router, "DELETE", "/analyses?repo_url=https://github.com/acme/idle", nil)
	resp := parseResponse(t, w)

	assert.Equal(t, response.CodeSuccess, resp.Code)
}

func TestAnalysisHandler_Cancel_MissingRepoURL(t *testing.T) {
	ctx := setupHandlers(t)

	router := gin.New()
	router.DELETE("/analyses", ctx.analysis.Cancel)

	w := performRequest(router, "DELETE", "/analyses", nil)
	resp := parseResponse(t, w)

	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestAnalysisHandler_GetResult_NotFound(t *testing.T) {
	ctx := setupHandlers(t)

	router := gin.New()
	router.GET("/analyses/result", ctx.analysis.GetResult)

	w := performRequest(router, "GET", "/analyses/result?repo_url=https://github.com/acme/idle", nil)
	resp := parseResponse(t, w)

	assert.Equal(t, response.CodeResourceNotFound, resp.Code)
}

func TestAnalysisHandler_GetResult_AfterCompletion(t *testing.T) {
	ctx := setupHandlers(t)

	router := gin.New()
	router.POST("/analyses", ctx.analysis.Submit)
	router.GET("/analyses/result", ctx.analysis.GetResult)

	w := performRequest(router, "POST", "/analyses", dto.SubmitAnalysisRequest{
		RepoURL: "https://github.com/acme/widgets",
	})
	resp := parseResponse(t, w)
	id := resp.Data.(map[string]interface{})["job_id"].(string)
	waitForCompletion(t, ctx.store, id)

	w = performRequest(router, "GET", "/analyses/result?repo_url=https://github.com/acme/widgets", nil)
	resp = parseResponse(t, w)

	assert.Equal(t, response.CodeSuccess, resp.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "full", data["status"])
	assert.Equal(t, "looks fine", data["insights"])
}

func TestAnalysisHandler_GetResultByID(t *testing.T) {
	ctx := setupHandlers(t)

	router := gin.New()
	router.POST("/analyses", ctx.analysis.Submit)
	router.GET("/analyses/result/id/:id", ctx.analysis.GetResultByID)

	w := performRequest(router, "POST", "/analyses", dto.SubmitAnalysisRequest{
		RepoURL: "https://github.com/acme/widgets",
	})
	resp := parseResponse(t, w)
	id := resp.Data.(map[string]interface{})["job_id"].(string)
	waitForCompletion(t, ctx.store, id)

	w = performRequest(router, "GET", "/analyses/result/id/"+id, nil)
	resp = parseResponse(t, w)

	assert.Equal(t, response.CodeSuccess, resp.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, jobid.Normalize("https://github.com/acme/widgets"), data["repo_url"])
}

func TestAnalysisHandler_GetResultByID_InvalidID(t *testing.T) {
	ctx := setupHandlers(t)

	router := gin.New()
	router.GET("/analyses/result/id/:id", ctx.analysis.GetResultByID)

	w := performRequest(router, "GET", "/analyses/result/id/not-base64!!", nil)
	resp := parseResponse(t, w)

	assert.Equal(t, response.CodeResourceNotFound, resp.Code)
}
