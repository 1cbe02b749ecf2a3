package main

import (
	"fmt"
	"log"
	"time"

	"github.com/repolens/repolens/config"
	"github.com/repolens/repolens/internal/api"
	"github.com/repolens/repolens/internal/api/handler"
	"github.com/repolens/repolens/internal/cache"
	"github.com/repolens/repolens/internal/database"
	"github.com/repolens/repolens/internal/pkg/oss"
	"github.com/repolens/repolens/internal/progress"
	"github.com/repolens/repolens/internal/provider"
	"github.com/repolens/repolens/internal/repository"
	"github.com/repolens/repolens/internal/service"
	"github.com/repolens/repolens/internal/workspace"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// OSS offload is optional; without it insights stay in the database.
	var ossClient *oss.Client
	if cfg.OSS.Endpoint != "" && cfg.OSS.BucketName != "" {
		ossClient, err = oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Fatalf("Failed to init OSS client: %v", err)
		}
		log.Println("OSS client initialized")
	}

	progressStore := progress.NewStore(rdb, time.Duration(cfg.Analysis.ProgressTTLSeconds)*time.Second)
	resultCache := cache.NewResultCache(rdb)
	resultRepo := repository.NewResultRepository(db)
	workspaces := workspace.NewManager(cfg.Analysis.TempDir)

	sourceProvider := provider.NewGitHubProvider(cfg)
	insightProvider := provider.NewLLMInsightProvider(cfg)

	analyzer := service.NewAnalyzerService(
		sourceProvider,
		insightProvider,
		progressStore,
		resultCache,
		resultRepo,
		workspaces,
		ossClient,
		cfg,
	)

	analysisHandler := handler.NewAnalysisHandler(analyzer)
	progressHandler := handler.NewProgressHandler(analyzer,
		time.Duration(cfg.Analysis.StreamIntervalMS)*time.Millisecond)

	router := api.NewRouter(analysisHandler, progressHandler, cfg)
	engine := router.Setup()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	if err := engine.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
