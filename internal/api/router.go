package api

import (
	"github.com/gin-gonic/gin"

	"github.com/repolens/repolens/config"
	"github.com/repolens/repolens/internal/api/handler"
	"github.com/repolens/repolens/internal/api/middleware"
)

type Router struct {
	analysisHandler *handler.AnalysisHandler
	progressHandler *handler.ProgressHandler
	cfg             *config.Config
}

func NewRouter(
	analysisHandler *handler.AnalysisHandler,
	progressHandler *handler.ProgressHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		analysisHandler: analysisHandler,
		progressHandler: progressHandler,
		cfg:             cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		// Progress delivery. The stream carries no mutating operations,
		// so it stays outside the auth group like the snapshot endpoint.
		api.GET("/progress/:id", r.progressHandler.Get)
		api.GET("/progress/:id/stream", r.progressHandler.Stream)

		// An empty secret disables auth (development mode).
		analyses := api.Group("/analyses")
		if r.cfg.Auth.JWTSecret != "" {
			analyses.Use(middleware.Auth(r.cfg.Auth.JWTSecret))
		}
		{
			analyses.POST("", r.analysisHandler.Submit)
			analyses.DELETE("", r.analysisHandler.Cancel)
			analyses.GET("/status", r.analysisHandler.GetStatus)
			analyses.GET("/result", r.analysisHandler.GetResult)
			analyses.GET("/result/id/:id", r.analysisHandler.GetResultByID)
		}
	}

	return engine
}
