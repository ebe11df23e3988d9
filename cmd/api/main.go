package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/github-repo-insights/internal/api"
	"github.com/kurihiro0119/github-repo-insights/internal/app"
	"github.com/kurihiro0119/github-repo-insights/internal/batch"
	"github.com/kurihiro0119/github-repo-insights/internal/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	app.SetupLogger(cfg)
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	application, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	manager := batch.NewManager(application.Aggregator, application.Store, batch.ManagerOptions{
		Retention:   cfg.BatchRetention,
		MaxFinished: cfg.BatchMaxFinished,
	})
	handler := api.NewHandler(application.Aggregator, manager, application.Store, api.HandlerOptions{
		DefaultToken:     cfg.GitHubToken,
		HideMergeCommits: cfg.HideMergeCommits,
	})
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	server := api.NewServer(addr, router)

	go func() {
		_ = server.Run()
	}()

	slog.Info("API server started", "addr", addr, "storage", cfg.StorageType)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server.Stop(ctx)
	if err := manager.Shutdown(ctx); err != nil {
		slog.Warn("batch runs did not stop in time", "error", err)
	}
	slog.Info("API server stopped")
}
