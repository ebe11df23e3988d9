package batch

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-repo-insights/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-insights/internal/errors"
	"github.com/kurihiro0119/github-repo-insights/internal/storage/sqlite"
)

func TestManager_StartAndWait(t *testing.T) {
	store, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	m := NewManager(&fakeAggregator{}, store, ManagerOptions{})
	id, warnings, err := m.Start([]string{"octo/a", "bad", "octo/b"}, "t", domain.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Invalid repository URL format: bad"}, warnings)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err := m.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStateCompleted, report.State)
	assert.Len(t, report.Results, 2)

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, domain.RunStateCompleted, runs[0].State)

	items, err := store.GetRunItems(ctx, id)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, domain.BatchStatusCompleted, items[1].Status)
}

func TestManager_Interrupt(t *testing.T) {
	agg := &fakeAggregator{hook: func(ctx context.Context, input string) error {
		<-ctx.Done()
		return apperrors.NewCancelledError("aborted")
	}}
	m := NewManager(agg, nil, ManagerOptions{})

	id, _, err := m.Start([]string{"octo/a", "octo/b"}, "t", domain.FetchOptions{})
	require.NoError(t, err)
	require.NoError(t, m.Interrupt(id))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err := m.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStateInterrupted, report.State)
	assert.Empty(t, report.Results)
}

func TestManager_Errors(t *testing.T) {
	m := NewManager(&fakeAggregator{}, nil, ManagerOptions{})

	_, warnings, err := m.Start([]string{"bad"}, "t", domain.FetchOptions{})
	assert.Error(t, err)
	assert.Len(t, warnings, 1)

	_, err = m.Get(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
	assert.True(t, apperrors.IsNotFound(m.Interrupt("missing")))
	assert.NoError(t, m.Shutdown(context.Background()))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (m *Manager) held() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs)
}

func startAndWait(t *testing.T, m *Manager, inputs ...string) string {
	t.Helper()
	id, _, err := m.Start(inputs, "t", domain.FetchOptions{})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = m.Wait(ctx, id)
	require.NoError(t, err)
	return id
}

func TestManager_EvictsBeyondMaxFinished(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := NewManager(&fakeAggregator{}, nil, ManagerOptions{Retention: time.Hour, MaxFinished: 2})
	m.now = clock.Now

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, startAndWait(t, m, "octo/a"))
		clock.Advance(time.Second)
	}

	assert.Equal(t, 2, m.held())
	for _, id := range ids[:3] {
		_, err := m.Get(context.Background(), id)
		assert.True(t, apperrors.IsNotFound(err), id)
	}
	for _, id := range ids[3:] {
		report, err := m.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Len(t, report.Results, 1)
	}
}

func TestManager_EvictsAfterRetention(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := NewManager(&fakeAggregator{}, nil, ManagerOptions{Retention: time.Minute, MaxFinished: 10})
	m.now = clock.Now

	old := startAndWait(t, m, "octo/a")
	clock.Advance(2 * time.Minute)
	fresh := startAndWait(t, m, "octo/b")

	assert.Equal(t, 1, m.held())
	_, err := m.Get(context.Background(), old)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = m.Get(context.Background(), fresh)
	assert.NoError(t, err)
}

func TestManager_EvictedRunFromJournal(t *testing.T) {
	store, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := NewManager(&fakeAggregator{}, store, ManagerOptions{MaxFinished: 1})
	m.now = clock.Now

	first := startAndWait(t, m, "octo/a", "octo/b")
	clock.Advance(time.Second)
	startAndWait(t, m, "octo/c")
	require.Equal(t, 1, m.held())

	report, err := m.Get(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, first, report.RunID)
	assert.Equal(t, domain.RunStateCompleted, report.State)
	assert.Equal(t, 100, report.Progress)
	assert.Empty(t, report.Results)
	require.Len(t, report.Items, 2)
	assert.Equal(t, "octo/a", report.Items[0].Input)
	assert.Equal(t, domain.RepoIdentifier{Owner: "octo", Repo: "b"}, report.Items[1].Repo)
	assert.Equal(t, []domain.BatchStatus{domain.BatchStatusCompleted, domain.BatchStatusCompleted}, statuses(report.Items))

	_, err = m.Get(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
}
