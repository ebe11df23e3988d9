package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kurihiro0119/github-repo-insights/internal/aggregator"
	"github.com/kurihiro0119/github-repo-insights/internal/collector"
	"github.com/kurihiro0119/github-repo-insights/internal/config"
	"github.com/kurihiro0119/github-repo-insights/internal/storage"
	"github.com/kurihiro0119/github-repo-insights/internal/storage/postgres"
	"github.com/kurihiro0119/github-repo-insights/internal/storage/sqlite"
)

// App wires the collector, aggregator and run journal from configuration
type App struct {
	Aggregator aggregator.Aggregator
	// Store is nil when STORAGE_TYPE is "none"
	Store storage.RunStore
}

// New builds the application components for cfg
func New(cfg *config.Config) (*App, error) {
	coll, err := collector.NewGitHubCollector(collector.Options{
		GraphQLURL:      cfg.GraphQLURL,
		APIURL:          cfg.APIURL,
		MinRequestDelay: cfg.RequestMinDelay,
		StatsRetries:    cfg.StatsRetries,
		StatsRetryDelay: cfg.StatsRetryDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize collector: %w", err)
	}

	store, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		Aggregator: aggregator.NewAggregator(coll),
		Store:      store,
	}, nil
}

// OpenStore opens the run journal selected by STORAGE_TYPE
func OpenStore(cfg *config.Config) (storage.RunStore, error) {
	switch cfg.StorageType {
	case "none":
		return nil, nil
	case "postgres":
		store, err := postgres.NewPostgresStorage(cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL storage: %w", err)
		}
		return store, nil
	default:
		store, err := sqlite.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite storage: %w", err)
		}
		return store, nil
	}
}

// Close releases the run journal
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// SetupLogger installs a text slog handler on stderr at cfg's level
func SetupLogger(cfg *config.Config) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	slog.SetDefault(slog.New(handler))
}
