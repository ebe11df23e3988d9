package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/kurihiro0119/github-repo-insights/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-insights/internal/errors"
	"github.com/kurihiro0119/github-repo-insights/internal/storage"
)

// postgresStorage implements the RunStore interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL run journal
func NewPostgresStorage(connStr string) (storage.RunStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS batch_runs (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		item_count INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_batch_runs_started_at ON batch_runs(started_at);

	CREATE TABLE IF NOT EXISTS batch_items (
		run_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		input TEXT NOT NULL,
		owner TEXT NOT NULL,
		repo_name TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, item_id),
		FOREIGN KEY (run_id) REFERENCES batch_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_batch_items_status ON batch_items(run_id, status);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateRun inserts a new run
func (s *postgresStorage) CreateRun(ctx context.Context, run *domain.BatchRun) error {
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batch_runs (id, state, message, item_count, started_at, finished_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.ID, string(run.State), run.Message, run.ItemCount, run.StartedAt, run.FinishedAt, run.CreatedAt, run.UpdatedAt)
	return err
}

// UpdateRunStatus updates the state of a run; terminal states also set finished_at
func (s *postgresStorage) UpdateRunStatus(ctx context.Context, runID string, state domain.RunState, message string) error {
	now := time.Now()
	var finishedAt *time.Time
	if state.Terminal() {
		finishedAt = &now
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE batch_runs
		SET state = $1, message = $2, finished_at = COALESCE($3, finished_at), updated_at = $4
		WHERE id = $5
	`, string(state), message, finishedAt, now, runID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NewNotFoundError("run " + runID)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *postgresStorage) GetRun(ctx context.Context, runID string) (*domain.BatchRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, state, message, item_count, started_at, finished_at, created_at, updated_at
		FROM batch_runs
		WHERE id = $1
	`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run " + runID)
	}
	return run, err
}

// ListRuns returns the most recent runs first
func (s *postgresStorage) ListRuns(ctx context.Context, limit int) ([]*domain.BatchRun, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, message, item_count, started_at, finished_at, created_at, updated_at
		FROM batch_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.BatchRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveRunItem saves or updates an item record
func (s *postgresStorage) SaveRunItem(ctx context.Context, item *domain.BatchItemRecord) error {
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batch_items
		(run_id, item_id, position, input, owner, repo_name, status, error, started_at, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id, item_id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			started_at = COALESCE(EXCLUDED.started_at, batch_items.started_at),
			completed_at = COALESCE(EXCLUDED.completed_at, batch_items.completed_at),
			updated_at = EXCLUDED.updated_at
	`, item.RunID, item.ItemID, item.Position, item.Input, item.Owner, item.RepoName,
		string(item.Status), item.Error, item.StartedAt, item.CompletedAt, item.CreatedAt, item.UpdatedAt)
	return err
}

// UpdateRunItemStatus moves an item to status, stamping started_at or completed_at
func (s *postgresStorage) UpdateRunItemStatus(ctx context.Context, runID, itemID string, status domain.BatchStatus, errMsg string) error {
	now := time.Now()
	var startedAt, completedAt *time.Time
	switch status {
	case domain.BatchStatusProcessing:
		startedAt = &now
	case domain.BatchStatusCompleted, domain.BatchStatusError:
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE batch_items
		SET status = $1, error = $2,
		    started_at = COALESCE($3, started_at),
		    completed_at = COALESCE($4, completed_at),
		    updated_at = $5
		WHERE run_id = $6 AND item_id = $7
	`, string(status), errMsg, startedAt, completedAt, now, runID, itemID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NewNotFoundError("item " + itemID + " of run " + runID)
	}
	return nil
}

// GetRunItems returns the items of a run in input order
func (s *postgresStorage) GetRunItems(ctx context.Context, runID string) ([]*domain.BatchItemRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, item_id, position, input, owner, repo_name, status, error,
		       started_at, completed_at, created_at, updated_at
		FROM batch_items
		WHERE run_id = $1
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.BatchItemRecord
	for rows.Next() {
		var item domain.BatchItemRecord
		var status string
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&item.RunID, &item.ItemID, &item.Position, &item.Input, &item.Owner, &item.RepoName,
			&status, &item.Error, &startedAt, &completedAt, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		item.Status = domain.BatchStatus(status)
		item.StartedAt = nullTime(startedAt)
		item.CompletedAt = nullTime(completedAt)
		items = append(items, &item)
	}
	return items, rows.Err()
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.BatchRun, error) {
	var run domain.BatchRun
	var state string
	var finishedAt sql.NullTime
	if err := row.Scan(&run.ID, &state, &run.Message, &run.ItemCount, &run.StartedAt, &finishedAt, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.State = domain.RunState(state)
	run.FinishedAt = nullTime(finishedAt)
	return &run, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
