package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/repolens/repolens/internal/pkg/response"
	"github.com/repolens/repolens/internal/progress"
	"github.com/repolens/repolens/internal/service"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict Origin before exposing the stream publicly
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type ProgressHandler struct {
	analyzer       *service.AnalyzerService
	streamInterval time.Duration
}

func NewProgressHandler(analyzer *service.AnalyzerService, streamInterval time.Duration) *ProgressHandler {
	if streamInterval <= 0 {
		streamInterval = time.Second
	}
	return &ProgressHandler{
		analyzer:       analyzer,
		streamInterval: streamInterval,
	}
}

// Get returns a point-in-time progress snapshot. An unknown or expired
// job is reported as not found, which callers must treat as "no active
// job" rather than a failure.
// GET /api/v1/progress/:id
func (h *ProgressHandler) Get(c *gin.Context) {
	rec, err := h.analyzer.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, progress.ErrNotFound) {
			response.NotFoundError(c, "no active job")
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, progressToDTO(rec))
}

// Stream pushes progress snapshots over a WebSocket until the job
// reaches a terminal status or the client goes away.
// GET /api/v1/progress/:id/stream
func (h *ProgressHandler) Stream(c *gin.Context) {
	id := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	// The read pump exists to detect client disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	// First snapshot goes out immediately, then one per tick.
	if terminal := h.push(conn, id); terminal {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if terminal := h.push(conn, id); terminal {
				return
			}
		}
	}
}

// push writes the current snapshot and reports whether streaming should
// stop. A missing record ends the stream with a close frame so clients
// can distinguish expiry from failure.
func (h *ProgressHandler) push(conn *websocket.Conn, id string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := h.analyzer.GetProgress(ctx, id)
	if err != nil {
		if errors.Is(err, progress.ErrNotFound) {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "no active job")
			_ = conn.WriteMessage(websocket.CloseMessage, msg)
			return true
		}
		log.Printf("Progress stream %s: lookup failed: %v", id, err)
		return false
	}

	if err := conn.WriteJSON(progressToDTO(rec)); err != nil {
		return true
	}

	if rec.Terminal() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, rec.Status)
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		return true
	}
	return false
}
