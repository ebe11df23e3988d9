package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/github-repo-insights/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-insights/internal/errors"
	"github.com/kurihiro0119/github-repo-insights/internal/storage"
)

// sqliteStorage implements the RunStore interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite run journal
func NewSQLiteStorage(dbPath string) (storage.RunStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
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
		FOREIGN KEY (run_id) REFERENCES batch_runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_batch_items_status ON batch_items(run_id, status);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateRun inserts a new run
func (s *sqliteStorage) CreateRun(ctx context.Context, run *domain.BatchRun) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, string(run.State), run.Message, run.ItemCount, run.StartedAt, run.FinishedAt, run.CreatedAt, run.UpdatedAt)
	return err
}

// UpdateRunStatus updates the state of a run; terminal states also set finished_at
func (s *sqliteStorage) UpdateRunStatus(ctx context.Context, runID string, state domain.RunState, message string) error {
	now := time.Now()
	var finishedAt *time.Time
	if state.Terminal() {
		finishedAt = &now
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE batch_runs
		SET state = ?, message = ?, finished_at = COALESCE(?, finished_at), updated_at = ?
		WHERE id = ?
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
func (s *sqliteStorage) GetRun(ctx context.Context, runID string) (*domain.BatchRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, state, message, item_count, started_at, finished_at, created_at, updated_at
		FROM batch_runs
		WHERE id = ?
	`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run " + runID)
	}
	return run, err
}

// ListRuns returns the most recent runs first
func (s *sqliteStorage) ListRuns(ctx context.Context, limit int) ([]*domain.BatchRun, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, message, item_count, started_at, finished_at, created_at, updated_at
		FROM batch_runs
		ORDER BY started_at DESC
		LIMIT ?
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
func (s *sqliteStorage) SaveRunItem(ctx context.Context, item *domain.BatchItemRecord) error {
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batch_items
		(run_id, item_id, position, input, owner, repo_name, status, error, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, item_id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			started_at = COALESCE(excluded.started_at, batch_items.started_at),
			completed_at = COALESCE(excluded.completed_at, batch_items.completed_at),
			updated_at = excluded.updated_at
	`, item.RunID, item.ItemID, item.Position, item.Input, item.Owner, item.RepoName,
		string(item.Status), item.Error, item.StartedAt, item.CompletedAt, item.CreatedAt, item.UpdatedAt)
	return err
}

// UpdateRunItemStatus moves an item to status, stamping started_at or completed_at
func (s *sqliteStorage) UpdateRunItemStatus(ctx context.Context, runID, itemID string, status domain.BatchStatus, errMsg string) error {
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
		SET status = ?, error = ?,
		    started_at = COALESCE(?, started_at),
		    completed_at = COALESCE(?, completed_at),
		    updated_at = ?
		WHERE run_id = ? AND item_id = ?
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
func (s *sqliteStorage) GetRunItems(ctx context.Context, runID string) ([]*domain.BatchItemRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, item_id, position, input, owner, repo_name, status, error,
		       started_at, completed_at, created_at, updated_at
		FROM batch_items
		WHERE run_id = ?
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
func (s *sqliteStorage) Close() error {
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
