package storage

import (
	"context"

	"github.com/kurihiro0119/github-repo-insights/internal/domain"
)

// RunStore is the abstract interface for the batch run journal.
// It records states and item statuses only; analysis results and credentials are never stored.
type RunStore interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.BatchRun) error
	UpdateRunStatus(ctx context.Context, runID string, state domain.RunState, message string) error
	GetRun(ctx context.Context, runID string) (*domain.BatchRun, error)
	ListRuns(ctx context.Context, limit int) ([]*domain.BatchRun, error)

	// Item operations
	SaveRunItem(ctx context.Context, item *domain.BatchItemRecord) error
	UpdateRunItemStatus(ctx context.Context, runID, itemID string, status domain.BatchStatus, errMsg string) error
	GetRunItems(ctx context.Context, runID string) ([]*domain.BatchItemRecord, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}

// DefaultListLimit is used when ListRuns is called with a non-positive limit
const DefaultListLimit = 50
