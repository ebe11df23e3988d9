package batch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kurihiro0119/github-repo-insights/internal/aggregator"
	"github.com/kurihiro0119/github-repo-insights/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-insights/internal/errors"
	"github.com/kurihiro0119/github-repo-insights/internal/storage"
)

const (
	msgNoValidInputs   = "No valid repository URLs found. Please check your input."
	msgNothingAnalyzed = "Failed to analyze any repositories. Please check your input or token."
	msgSkipped         = "skipped due to interruption"
	msgInterrupted     = "interrupted during analysis"
)

// ProgressFunc receives a copy of every item after each status change, with the overall progress percentage
type ProgressFunc func(items []domain.BatchItem, progress int)

// Validate parses inputs in order, dropping unparsable and duplicate entries.
// Duplicates are detected on the case-insensitive owner/repo pair.
func Validate(inputs []string) ([]domain.BatchItem, []string) {
	var items []domain.BatchItem
	var warnings []string
	seen := make(map[string]struct{}, len(inputs))

	for _, input := range inputs {
		trimmed := strings.TrimSpace(input)
		repo, ok := domain.ParseRepoIdentifier(trimmed)
		if !ok {
			warnings = append(warnings, "Invalid repository URL format: "+trimmed)
			continue
		}
		if _, dup := seen[repo.Key()]; dup {
			warnings = append(warnings, "Duplicate repository URL: "+trimmed)
			continue
		}
		seen[repo.Key()] = struct{}{}
		items = append(items, domain.BatchItem{
			ID:     uuid.NewString(),
			Input:  trimmed,
			Repo:   repo,
			Status: domain.BatchStatusPending,
		})
	}
	return items, warnings
}

// Session runs one batch of repositories at a time, strictly sequentially
type Session struct {
	agg   aggregator.Aggregator
	store storage.RunStore

	mu      sync.Mutex
	running bool
	report  domain.BatchReport
}

// NewSession creates an idle session. store may be nil to disable the run journal.
func NewSession(agg aggregator.Aggregator, store storage.RunStore) *Session {
	return &Session{
		agg:   agg,
		store: store,
		report: domain.BatchReport{
			RunID: uuid.NewString(),
			State: domain.RunStateIdle,
		},
	}
}

// ID returns the id of the current or most recent run
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report.RunID
}

// Snapshot returns a copy of the current run state
func (s *Session) Snapshot() domain.BatchReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() domain.BatchReport {
	r := s.report
	r.Items = append([]domain.BatchItem(nil), s.report.Items...)
	r.Results = append([]domain.RepoResult(nil), s.report.Results...)
	r.Warnings = append([]string(nil), s.report.Warnings...)
	return r
}

// Run analyzes inputs one repository at a time.
//
// handle may be nil, in which case only ctx stops the run. An interrupted
// run returns the results completed so far with a nil error. A run with no
// valid input, or one where every repository failed, ends Failed and
// returns a batch failed error alongside the report.
func (s *Session) Run(ctx context.Context, inputs []string, token string, opts domain.FetchOptions, handle *CancellationHandle, onProgress ProgressFunc) (*domain.BatchReport, error) {
	if handle == nil {
		handle = NewCancellationHandle(ctx)
		defer handle.Signal()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(handle.Context(), cancel)
	defer stop()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, apperrors.NewConflictError("batch run " + s.report.RunID + " is already in progress")
	}
	s.running = true
	if s.report.State.Terminal() {
		s.report = domain.BatchReport{RunID: uuid.NewString()}
	}
	s.report.State = domain.RunStateValidating
	runID := s.report.RunID
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	items, warnings := Validate(inputs)
	for _, w := range warnings {
		slog.Warn("skipping batch input", "run", runID, "reason", w)
	}

	s.mu.Lock()
	s.report.Items = items
	s.report.Warnings = warnings
	s.mu.Unlock()

	s.journalRun(ctx, runID, len(items))
	for i, item := range items {
		s.journalItem(ctx, runID, i, item)
	}

	if len(items) == 0 {
		return s.finish(ctx, domain.RunStateFailed, msgNoValidInputs, apperrors.NewBatchFailedError(msgNoValidInputs))
	}

	s.setState(domain.RunStateRunning)
	slog.Info("batch run started", "run", runID, "repositories", len(items), "skipped", len(warnings))

	for i := range items {
		if runCtx.Err() != nil || handle.Signaled() {
			s.skipFrom(ctx, i, onProgress)
			return s.finish(ctx, domain.RunStateInterrupted, "interrupted by user", nil)
		}

		s.setProgress(int(math.Round(float64(i) / float64(len(items)) * 100)))
		s.updateItem(ctx, i, domain.BatchStatusProcessing, nil, "", onProgress)

		input := items[i].Input
		result, err := s.agg.AnalyzeRepository(runCtx, input, token, opts)
		switch {
		case err == nil:
			s.updateItem(ctx, i, domain.BatchStatusCompleted, result, "", onProgress)
		case apperrors.IsCancelled(err) || runCtx.Err() != nil:
			s.updateItem(ctx, i, domain.BatchStatusError, nil, msgInterrupted, onProgress)
			s.skipFrom(ctx, i+1, onProgress)
			return s.finish(ctx, domain.RunStateInterrupted, "interrupted by user", nil)
		default:
			slog.Error("repository analysis failed", "run", runID, "repo", input, "error", err)
			s.updateItem(ctx, i, domain.BatchStatusError, nil, "Failed to analyze: "+err.Error(), onProgress)
		}
	}

	s.setProgress(100)
	s.notify(onProgress)

	s.mu.Lock()
	succeeded := len(s.report.Results)
	s.mu.Unlock()
	if succeeded == 0 {
		return s.finish(ctx, domain.RunStateFailed, msgNothingAnalyzed, apperrors.NewBatchFailedError(msgNothingAnalyzed))
	}
	return s.finish(ctx, domain.RunStateCompleted, fmt.Sprintf("%d of %d repositories analyzed", succeeded, len(items)), nil)
}

func (s *Session) setState(state domain.RunState) {
	s.mu.Lock()
	s.report.State = state
	s.mu.Unlock()
}

func (s *Session) setProgress(p int) {
	s.mu.Lock()
	s.report.Progress = p
	s.mu.Unlock()
}

// updateItem applies one status transition, journals it and notifies onProgress outside the lock
func (s *Session) updateItem(ctx context.Context, i int, status domain.BatchStatus, result *domain.RepoResult, errMsg string, onProgress ProgressFunc) {
	s.mu.Lock()
	item := &s.report.Items[i]
	item.Status = status
	item.Result = result
	item.Error = errMsg
	if result != nil {
		s.report.Results = append(s.report.Results, *result)
	}
	runID, itemID := s.report.RunID, item.ID
	s.mu.Unlock()

	s.journal(ctx, "update item status", func(jctx context.Context) error {
		return s.store.UpdateRunItemStatus(jctx, runID, itemID, status, errMsg)
	})
	s.notify(onProgress)
}

// skipFrom marks every item from index i onwards as skipped
func (s *Session) skipFrom(ctx context.Context, i int, onProgress ProgressFunc) {
	s.mu.Lock()
	n := len(s.report.Items)
	s.mu.Unlock()
	for ; i < n; i++ {
		s.updateItem(ctx, i, domain.BatchStatusError, nil, msgSkipped, onProgress)
	}
}

func (s *Session) notify(onProgress ProgressFunc) {
	if onProgress == nil {
		return
	}
	s.mu.Lock()
	items := append([]domain.BatchItem(nil), s.report.Items...)
	progress := s.report.Progress
	s.mu.Unlock()
	onProgress(items, progress)
}

func (s *Session) finish(ctx context.Context, state domain.RunState, message string, err error) (*domain.BatchReport, error) {
	s.mu.Lock()
	s.report.State = state
	if err != nil {
		s.report.Error = message
	}
	report := s.snapshot()
	s.mu.Unlock()

	s.journal(ctx, "update run status", func(jctx context.Context) error {
		return s.store.UpdateRunStatus(jctx, report.RunID, state, message)
	})
	slog.Info("batch run finished",
		"run", report.RunID,
		"state", state,
		"results", len(report.Results),
		"items", len(report.Items))
	return &report, err
}

func (s *Session) journalRun(ctx context.Context, runID string, count int) {
	s.journal(ctx, "create run", func(jctx context.Context) error {
		return s.store.CreateRun(jctx, &domain.BatchRun{
			ID:        runID,
			State:     domain.RunStateRunning,
			ItemCount: count,
		})
	})
}

func (s *Session) journalItem(ctx context.Context, runID string, position int, item domain.BatchItem) {
	s.journal(ctx, "save item", func(jctx context.Context) error {
		return s.store.SaveRunItem(jctx, &domain.BatchItemRecord{
			RunID:    runID,
			ItemID:   item.ID,
			Position: position,
			Input:    item.Input,
			Owner:    item.Repo.Owner,
			RepoName: item.Repo.Repo,
			Status:   item.Status,
		})
	})
}

// journal writes to the run store, ignoring cancellation so an interrupted run is still recorded.
// Failures are logged and never affect the run.
func (s *Session) journal(ctx context.Context, op string, fn func(ctx context.Context) error) {
	if s.store == nil {
		return
	}
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("run journal write failed", "op", op, "error", err)
	}
}
