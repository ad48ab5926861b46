// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gauthier-th/whisper-dashboard/auth"
	"github.com/gauthier-th/whisper-dashboard/config"
	"github.com/gauthier-th/whisper-dashboard/docs"
	"github.com/gauthier-th/whisper-dashboard/engine"
	"github.com/gauthier-th/whisper-dashboard/events"
	"github.com/gauthier-th/whisper-dashboard/links"
	"github.com/gauthier-th/whisper-dashboard/middleware"
	"github.com/gauthier-th/whisper-dashboard/scheduler"
	"github.com/gauthier-th/whisper-dashboard/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
)

const shutdownTimeout = 15 * time.Second

// @title           Whisper Dashboard API
// @version         1.0
// @description     Queue audio files for background transcription with Whisper and download the results.
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	setupLogging(cfg)

	for _, dir := range []string{cfg.Storage.FilesDir, cfg.Storage.InboxDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize %s engine: %v", cfg.Whisper.Engine, err)
	}
	defer eng.Close()

	linkStore, err := newLinkStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize download links: %v", err)
	}

	authMiddleware, err := middleware.NewAuthMiddleware(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize auth middleware: %v", err)
	}
	defer authMiddleware.Close()

	hub := events.NewHub()
	sched := scheduler.New(st, eng, scheduler.Options{
		MaxParallel:  cfg.Scheduler.MaxParallel,
		PollInterval: cfg.PollInterval(),
		FilesDir:     cfg.Storage.FilesDir,
		Model:        cfg.Whisper.Model,
		ModelDir:     cfg.Whisper.ModelDir,
		Language:     cfg.Whisper.Language,
	}, hub.Publish)

	service := NewTranscriptionService(cfg, st, sched, linkStore, hub)
	r := setupRouter(cfg, service, authMiddleware.Handler())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil {
			slog.Error("scheduler stopped", "error", err)
			stop()
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		slog.Info("starting server", "addr", addr, "engine", eng.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	<-schedDone
}

// setupRouter registers every endpoint. Download links carry their own
// token, so the file routes stay outside the auth middleware.
func setupRouter(cfg *config.Config, service *TranscriptionService, authHandler gin.HandlerFunc) *gin.Engine {
	r := gin.Default()

	docs.SwaggerInfo.BasePath = cfg.API.BasePath
	if cfg.API.SwaggerHost != "" {
		docs.SwaggerInfo.Host = cfg.API.SwaggerHost
	}

	api := r.Group("/api", authHandler)
	api.POST("/transcriptions", service.ImportHandler)
	api.GET("/transcriptions", service.ListHandler)
	api.GET("/transcriptions/events", service.EventsHandler)
	api.GET("/transcriptions/:id", service.GetHandler)
	api.DELETE("/transcriptions/:id", service.DeleteHandler)
	api.GET("/transcriptions/:id/download", service.DownloadLinkHandler)
	api.GET("/scheduler", service.SchedulerHandler)

	r.GET("/api/transcriptions/file/:token", service.FileHandler)
	r.GET("/api/transcriptions/file/:token/:format", service.FileHandler)

	// These endpoints remain public
	r.GET("/health", healthCheck)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Add Prometheus metrics endpoint if enabled
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}
	return r
}

// setupLogging installs the slog default handler. gin's own request log is
// only kept at debug level.
func setupLogging(cfg *config.Config) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Log.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))

	if level > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
}

// newLinkStore keeps download links in Redis when it is configured so they
// work across instances, and in memory otherwise.
func newLinkStore(cfg *config.Config) (links.Store, error) {
	if !cfg.Auth.Redis.Enabled {
		return links.NewMemoryStore(cfg.LinkTTL()), nil
	}
	client, err := auth.NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return links.NewRedisStore(client, cfg.LinkTTL()), nil
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status"`
}

// @Summary     Health check endpoint
// @Description Get API health status
// @Tags        health
// @Produce     json
// @Success     200 {object} HealthResponse
// @Router      /health [get]
func healthCheck(c *gin.Context) {
	c.JSON(200, HealthResponse{Status: "ok"})
}
