package batch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kurihiro0119/github-repo-insights/internal/aggregator"
	"github.com/kurihiro0119/github-repo-insights/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-insights/internal/errors"
	"github.com/kurihiro0119/github-repo-insights/internal/storage"
)

const (
	DefaultRetention   = 15 * time.Minute
	DefaultMaxFinished = 100
)

// ManagerOptions bounds how long finished runs stay in memory.
// Zero values select the defaults.
type ManagerOptions struct {
	Retention   time.Duration
	MaxFinished int
}

type managedRun struct {
	session    *Session
	handle     *CancellationHandle
	done       chan struct{}
	finishedAt time.Time
}

// Manager runs batch sessions in the background and keeps them addressable by run id.
// Finished runs are dropped after the retention period or once more than
// MaxFinished have accumulated; the journal keeps their item status.
type Manager struct {
	agg   aggregator.Aggregator
	store storage.RunStore
	opts  ManagerOptions
	now   func() time.Time

	mu   sync.RWMutex
	runs map[string]*managedRun
	wg   sync.WaitGroup
}

// NewManager creates a new run manager. store may be nil.
func NewManager(agg aggregator.Aggregator, store storage.RunStore, opts ManagerOptions) *Manager {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.MaxFinished <= 0 {
		opts.MaxFinished = DefaultMaxFinished
	}
	return &Manager{
		agg:   agg,
		store: store,
		opts:  opts,
		now:   time.Now,
		runs:  make(map[string]*managedRun),
	}
}

// Start validates inputs and launches a batch run in the background.
// It fails without starting anything when no input is valid.
func (m *Manager) Start(inputs []string, token string, opts domain.FetchOptions) (string, []string, error) {
	items, warnings := Validate(inputs)
	if len(items) == 0 {
		return "", warnings, apperrors.NewBadRequestError(msgNoValidInputs)
	}

	session := NewSession(m.agg, m.store)
	run := &managedRun{
		session: session,
		handle:  NewCancellationHandle(context.Background()),
		done:    make(chan struct{}),
	}
	id := session.ID()

	m.mu.Lock()
	m.evictLocked()
	m.runs[id] = run
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.finished(run)
		if _, err := session.Run(run.handle.Context(), inputs, token, opts, run.handle, nil); err != nil {
			slog.Warn("batch run ended with error", "run", id, "error", err)
		}
	}()

	return id, warnings, nil
}

// Get returns a snapshot of run id. A run no longer held in memory is
// rebuilt from the journal without its results.
func (m *Manager) Get(ctx context.Context, id string) (domain.BatchReport, error) {
	run, err := m.lookup(id)
	if err == nil {
		return run.session.Snapshot(), nil
	}
	if m.store == nil {
		return domain.BatchReport{}, err
	}
	return m.fromJournal(ctx, id)
}

func (m *Manager) fromJournal(ctx context.Context, id string) (domain.BatchReport, error) {
	rec, err := m.store.GetRun(ctx, id)
	if err != nil {
		return domain.BatchReport{}, err
	}
	records, err := m.store.GetRunItems(ctx, id)
	if err != nil {
		return domain.BatchReport{}, err
	}

	report := domain.BatchReport{
		RunID:   rec.ID,
		State:   rec.State,
		Items:   make([]domain.BatchItem, 0, len(records)),
		Results: []domain.RepoResult{},
	}
	done := 0
	for _, r := range records {
		report.Items = append(report.Items, domain.BatchItem{
			ID:     r.ItemID,
			Input:  r.Input,
			Repo:   domain.RepoIdentifier{Owner: r.Owner, Repo: r.RepoName},
			Status: r.Status,
			Error:  r.Error,
		})
		if r.Status == domain.BatchStatusCompleted || r.Status == domain.BatchStatusError {
			done++
		}
	}
	if rec.State != domain.RunStateInterrupted && rec.State.Terminal() {
		report.Progress = 100
	} else if len(records) > 0 {
		report.Progress = done * 100 / len(records)
	}
	if rec.State == domain.RunStateFailed {
		report.Error = rec.Message
	}
	return report, nil
}

// Interrupt signals run id to stop. Interrupting a finished run is a no-op.
func (m *Manager) Interrupt(id string) error {
	run, err := m.lookup(id)
	if err != nil {
		return err
	}
	run.handle.Signal()
	slog.Info("batch run interrupt requested", "run", id)
	return nil
}

// Wait blocks until run id has finished or ctx is done
func (m *Manager) Wait(ctx context.Context, id string) (domain.BatchReport, error) {
	run, err := m.lookup(id)
	if err != nil {
		return domain.BatchReport{}, err
	}
	select {
	case <-run.done:
		return run.session.Snapshot(), nil
	case <-ctx.Done():
		return run.session.Snapshot(), apperrors.NewCancelledError("stopped waiting for batch run " + id)
	}
}

// Shutdown interrupts every active run and waits for them to stop, or for ctx to end
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, run := range m.runs {
		run.handle.Signal()
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finished marks run as done and drops expired runs
func (m *Manager) finished(run *managedRun) {
	m.mu.Lock()
	run.finishedAt = m.now()
	close(run.done)
	m.evictLocked()
	m.mu.Unlock()
}

// evictLocked drops finished runs past the retention period, then the
// oldest finished runs beyond MaxFinished. Callers hold m.mu.
func (m *Manager) evictLocked() {
	now := m.now()
	var kept []string
	for id, run := range m.runs {
		if run.finishedAt.IsZero() {
			continue
		}
		if now.Sub(run.finishedAt) >= m.opts.Retention {
			delete(m.runs, id)
			continue
		}
		kept = append(kept, id)
	}
	if len(kept) <= m.opts.MaxFinished {
		return
	}
	sort.Slice(kept, func(i, j int) bool {
		return m.runs[kept[i]].finishedAt.Before(m.runs[kept[j]].finishedAt)
	})
	for _, id := range kept[:len(kept)-m.opts.MaxFinished] {
		delete(m.runs, id)
	}
}

func (m *Manager) lookup(id string) (*managedRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("batch run " + id)
	}
	return run, nil
}
