package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repolens/repolens/internal/model/dto"
	"github.com/repolens/repolens/internal/pkg/response"
	"github.com/repolens/repolens/internal/progress"
)

func TestProgressHandler_Get_NotFound(t *testing.T) {
	ctx := setupHandlers(t)

	router := gin.New()
	router.GET("/progress/:id", ctx.progress.Get)

	w := performRequest(router, "GET", "/progress/unknown-job", nil)
	resp := parseResponse(t, w)

	assert.Equal(t, response.CodeResourceNotFound, resp.Code)
	assert.Equal(t, "no active job", resp.Message)
}

func TestProgressHandler_Get_Snapshot(t *testing.T) {
	ctx := setupHandlers(t)

	rec, err := ctx.store.Create(context.Background(), "job-1", "https://github.com/acme/widgets")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/progress/:id", ctx.progress.Get)

	w := performRequest(router, "GET", "/progress/job-1", nil)
	resp := parseResponse(t, w)

	assert.Equal(t, response.CodeSuccess, resp.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, rec.JobID, data["job_id"])
	assert.Equal(t, progress.StatusPending, data["status"])
	assert.Equal(t, float64(0), data["progress"])
}

func TestProgressHandler_Stream_TerminalRecordClosesStream(t *testing.T) {
	ctx := setupHandlers(t)

	_, err := ctx.store.Create(context.Background(), "job-2", "https://github.com/acme/widgets")
	require.NoError(t, err)
	completed := progress.StatusCompleted
	hundred := 100
	_, err = ctx.store.Apply(context.Background(), "job-2", progress.Update{
		Status:   &completed,
		Progress: &hundred,
	})
	require.NoError(t, err)

	router := gin.New()
	router.GET("/progress/:id/stream", ctx.progress.Stream)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/progress/job-2/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// One final snapshot, then a normal close.
	var snapshot dto.ProgressResponse
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, progress.StatusCompleted, snapshot.Status)
	assert.Equal(t, 100, snapshot.Progress)

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestProgressHandler_Stream_PushesUntilTerminal(t *testing.T) {
	ctx := setupHandlers(t)

	_, err := ctx.store.Create(context.Background(), "job-3", "https://github.com/acme/widgets")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/progress/:id/stream", ctx.progress.Stream)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/progress/job-3/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first dto.ProgressResponse
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, progress.StatusPending, first.Status)

	// Advance the job while the stream is live.
	analyzing := progress.StatusAnalyzing
	fifty := 50
	_, err = ctx.store.Apply(context.Background(), "job-3", progress.Update{
		Status:   &analyzing,
		Progress: &fifty,
	})
	require.NoError(t, err)

	var snapshot dto.ProgressResponse
	for snapshot.Progress < 50 {
		require.NoError(t, conn.ReadJSON(&snapshot))
	}
	assert.Equal(t, progress.StatusAnalyzing, snapshot.Status)

	completed := progress.StatusCompleted
	hundred := 100
	_, err = ctx.store.Apply(context.Background(), "job-3", progress.Update{
		Status:   &completed,
		Progress: &hundred,
	})
	require.NoError(t, err)

	// The stream delivers the terminal snapshot and then closes.
	for {
		var s dto.ProgressResponse
		if err := conn.ReadJSON(&s); err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
			break
		}
		if s.Status == progress.StatusCompleted {
			assert.Equal(t, 100, s.Progress)
		}
	}
}
