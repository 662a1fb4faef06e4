package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/stwalsh4118/appraisal/internal/cache"
	"github.com/stwalsh4118/appraisal/internal/config"
	"github.com/stwalsh4118/appraisal/internal/database"
	"github.com/stwalsh4118/appraisal/internal/handlers"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/middleware"
	"github.com/stwalsh4118/appraisal/internal/reference"
	"github.com/stwalsh4118/appraisal/internal/repository"
	"github.com/stwalsh4118/appraisal/internal/services"
)

const (
	shutdownTimeout = 30 * time.Second
)

func main() {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Env)
	log.Info("Starting appraisal API", map[string]interface{}{
		"version":       handlers.APIVersion,
		"environment":   cfg.Server.Env,
		"port":          cfg.Server.Port,
		"cache_backend": cfg.Cache.Backend,
	})

	tables, err := reference.Load(cfg.Reference.TablesPath)
	if err != nil {
		log.Fatal("Failed to load reference tables", err, map[string]interface{}{
			"path": cfg.Reference.TablesPath,
		})
	}

	ctx := context.Background()
	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", err, map[string]interface{}{
			"host": cfg.Database.Host,
			"port": cfg.Database.Port,
			"name": cfg.Database.Name,
		})
	}
	defer db.Close()

	log.Info("Database connection established", map[string]interface{}{
		"host":     cfg.Database.Host,
		"database": cfg.Database.Name,
		"pool_min": cfg.Database.PoolMin,
		"pool_max": cfg.Database.PoolMax,
	})

	gdb, err := database.NewGorm(db)
	if err != nil {
		log.Fatal("Failed to open analysis store", err, nil)
	}
	analysisRepo := repository.NewAnalysisRepository(gdb)
	if err := analysisRepo.Migrate(ctx); err != nil {
		log.Fatal("Failed to migrate analysis tables", err, nil)
	}

	backend, err := cache.Open(ctx, cfg.Cache, repository.NewCacheRepository(db))
	if err != nil {
		log.Fatal("Failed to open comparable cache", err, map[string]interface{}{
			"backend": cfg.Cache.Backend,
		})
	}
	defer backend.Close()

	// Repositories
	parcelRepo := repository.NewParcelRepository(db)
	coefficientRepo := repository.NewCoefficientRepository(db)
	metricsRepo := repository.NewMetricsRepository(db)

	// Services
	ratioService := services.NewRatioStudyService(parcelRepo, metricsRepo, cfg.Ratio, cfg.Comparables, log)
	comparableService := services.NewComparableService(parcelRepo, backend.Store, tables, cfg.Comparables, cfg.Cache.Freshness, log)
	coefficientService := services.NewCoefficientService(coefficientRepo, log)
	parcelService := services.NewParcelService(parcelRepo, ratioService, tables, log)
	analysisService := services.NewAnalysisService(analysisRepo, comparableService, coefficientService, parcelService, tables, log)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// RequestID -> Logger -> Recovery -> Timeout -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	router.Use(middleware.CORS(cfg.CORS.Origins))

	deps := map[string]handlers.Pinger{"database": db}
	if backend.Redis != nil {
		deps["cache"] = backend.Redis
	}
	healthHandler := handlers.NewHealthHandler(cfg.Server.Env, deps)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)

	parcelHandler := handlers.NewParcelHandler(parcelService, comparableService)
	analysisHandler := handlers.NewAnalysisHandler(analysisService)
	ratioHandler := handlers.NewRatioHandler(ratioService, coefficientService)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/info", healthHandler.Info)

		parcels := v1.Group("/parcels/:parcel")
		{
			parcels.GET("/summary", parcelHandler.Summary)
			parcels.GET("/comparables", parcelHandler.Comparables)
			parcels.POST("/appeal-score", parcelHandler.AppealScore)
		}

		analyses := v1.Group("/analyses")
		{
			analyses.POST("", analysisHandler.Create)
			analyses.GET("/:id", analysisHandler.Get)
			analyses.DELETE("/:id", analysisHandler.Delete)
			analyses.GET("/:id/score", analysisHandler.Score)
			analyses.PATCH("/:id/selections/:selection", analysisHandler.SetIncluded)
			analyses.PUT("/:id/selections/:selection/adjustments/:term", analysisHandler.SetAdjustment)
			analyses.DELETE("/:id/selections/:selection/adjustments/:term", analysisHandler.ClearAdjustment)
		}

		v1.GET("/neighborhoods/:code/ratio-study", ratioHandler.RatioStudy)
		v1.POST("/neighborhoods/:code/ratio-study/refresh", ratioHandler.RefreshRatioStudy)
		v1.GET("/runs", ratioHandler.Runs)
		v1.GET("/runs/:run_id", ratioHandler.RunSummary)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server listening", map[string]interface{}{
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	log.Info("Server exited", nil)
}
