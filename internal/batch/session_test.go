package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-repo-insights/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-insights/internal/errors"
)

// fakeAggregator answers AnalyzeRepository from a per-input hook
type fakeAggregator struct {
	mu    sync.Mutex
	calls []string
	hook  func(ctx context.Context, input string) error
}

func (f *fakeAggregator) Aggregate(ctx context.Context, input, token string, opts domain.FetchOptions) (*domain.RepoData, error) {
	return domain.NewRepoData(), nil
}

func (f *fakeAggregator) AnalyzeRepository(ctx context.Context, input, token string, opts domain.FetchOptions) (*domain.RepoResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, input)
	f.mu.Unlock()

	if f.hook != nil {
		if err := f.hook(ctx, input); err != nil {
			return nil, err
		}
	}
	repo, _ := domain.ParseRepoIdentifier(input)
	data := domain.NewRepoData()
	data.Commits["alice"] = []domain.Commit{{ID: input}}
	return domain.NewRepoResult(input, repo, data), nil
}

func (f *fakeAggregator) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func statuses(items []domain.BatchItem) []domain.BatchStatus {
	out := make([]domain.BatchStatus, 0, len(items))
	for _, it := range items {
		out = append(out, it.Status)
	}
	return out
}

func TestValidate(t *testing.T) {
	items, warnings := Validate([]string{
		" https://github.com/Octo/Hello ",
		"octo/hello",
		"not-a-repo",
		"octo/world.git",
	})

	require.Len(t, items, 2)
	assert.Equal(t, "https://github.com/Octo/Hello", items[0].Input)
	assert.Equal(t, "world", items[1].Repo.Repo)
	assert.Equal(t, domain.BatchStatusPending, items[0].Status)
	assert.NotEqual(t, items[0].ID, items[1].ID)
	assert.Equal(t, []string{
		"Duplicate repository URL: octo/hello",
		"Invalid repository URL format: not-a-repo",
	}, warnings)
}

func TestSessionRun_Completed(t *testing.T) {
	agg := &fakeAggregator{hook: func(ctx context.Context, input string) error {
		if input == "octo/b" {
			return apperrors.NewAggregationError("octo/b", errors.New("boom"))
		}
		return nil
	}}
	s := NewSession(agg, nil)

	var mu sync.Mutex
	var maxProcessing int
	transitions := make(map[string][]domain.BatchStatus)
	onProgress := func(items []domain.BatchItem, progress int) {
		mu.Lock()
		defer mu.Unlock()
		processing := 0
		for _, it := range items {
			if it.Status == domain.BatchStatusProcessing {
				processing++
			}
			seq := transitions[it.Input]
			if len(seq) == 0 || seq[len(seq)-1] != it.Status {
				transitions[it.Input] = append(seq, it.Status)
			}
		}
		if processing > maxProcessing {
			maxProcessing = processing
		}
	}

	report, err := s.Run(context.Background(), []string{"octo/a", "octo/b", "octo/c"}, "t", domain.FetchOptions{}, nil, onProgress)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStateCompleted, report.State)
	assert.Equal(t, 100, report.Progress)
	assert.Equal(t, []string{"octo/a", "octo/b", "octo/c"}, agg.called())
	require.Len(t, report.Results, 2)
	assert.Equal(t, "a", report.Results[0].RepoName)
	assert.Equal(t, "c", report.Results[1].RepoName)

	assert.Equal(t, []domain.BatchStatus{domain.BatchStatusCompleted, domain.BatchStatusError, domain.BatchStatusCompleted}, statuses(report.Items))
	assert.True(t, strings.HasPrefix(report.Items[1].Error, "Failed to analyze: "))
	assert.Contains(t, report.Items[1].Error, "octo/b")

	assert.Equal(t, 1, maxProcessing, "items are processed one at a time")
	assert.Equal(t, []domain.BatchStatus{domain.BatchStatusPending, domain.BatchStatusProcessing, domain.BatchStatusError}, transitions["octo/b"])
	assert.Equal(t, []domain.BatchStatus{domain.BatchStatusPending, domain.BatchStatusProcessing, domain.BatchStatusCompleted}, transitions["octo/c"])
}

func TestSessionRun_InterruptBetweenRepositories(t *testing.T) {
	handle := NewCancellationHandle(context.Background())
	agg := &fakeAggregator{hook: func(ctx context.Context, input string) error {
		if input == "octo/two" {
			handle.Signal()
		}
		return nil
	}}
	s := NewSession(agg, nil)

	inputs := []string{"octo/one", "octo/two", "octo/three", "octo/four", "octo/five"}
	report, err := s.Run(context.Background(), inputs, "t", domain.FetchOptions{}, handle, nil)
	require.NoError(t, err, "interruption is not a failure")

	assert.Equal(t, domain.RunStateInterrupted, report.State)
	assert.Equal(t, []string{"octo/one", "octo/two"}, agg.called())
	require.Len(t, report.Results, 2)
	for _, it := range report.Items[2:] {
		assert.Equal(t, domain.BatchStatusError, it.Status)
		assert.Equal(t, "skipped due to interruption", it.Error)
	}
	assert.Equal(t, domain.BatchStatusCompleted, report.Items[1].Status)
}

func TestSessionRun_InterruptMidFlight(t *testing.T) {
	handle := NewCancellationHandle(context.Background())
	started := make(chan struct{})
	agg := &fakeAggregator{hook: func(ctx context.Context, input string) error {
		if input != "octo/two" {
			return nil
		}
		close(started)
		select {
		case <-ctx.Done():
			return apperrors.NewCancelledError("aborted")
		case <-time.After(5 * time.Second):
			return errors.New("request was not aborted")
		}
	}}
	s := NewSession(agg, nil)

	go func() {
		<-started
		handle.Signal()
	}()

	report, err := s.Run(context.Background(), []string{"octo/one", "octo/two", "octo/three"}, "t", domain.FetchOptions{}, handle, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStateInterrupted, report.State)
	assert.Len(t, report.Results, 1)
	assert.Equal(t, "interrupted during analysis", report.Items[1].Error)
	assert.Equal(t, "skipped due to interruption", report.Items[2].Error)
	assert.Equal(t, []string{"octo/one", "octo/two"}, agg.called())
}

func TestSessionRun_AllFailed(t *testing.T) {
	agg := &fakeAggregator{hook: func(ctx context.Context, input string) error {
		return apperrors.NewAggregationError(input, errors.New("boom"))
	}}
	s := NewSession(agg, nil)

	report, err := s.Run(context.Background(), []string{"octo/a", "octo/b"}, "t", domain.FetchOptions{}, nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsBatchFailed(err))
	assert.Equal(t, domain.RunStateFailed, report.State)
	assert.Equal(t, 100, report.Progress)
	assert.Empty(t, report.Results)
	assert.Equal(t, "Failed to analyze any repositories. Please check your input or token.", report.Error)
}

func TestSessionRun_NoValidInputs(t *testing.T) {
	agg := &fakeAggregator{}
	s := NewSession(agg, nil)

	report, err := s.Run(context.Background(), []string{"nope", ""}, "t", domain.FetchOptions{}, nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsBatchFailed(err))
	assert.Equal(t, domain.RunStateFailed, report.State)
	assert.Len(t, report.Warnings, 2)
	assert.Empty(t, agg.called())
}

func TestSessionRun_DuplicatesSkipped(t *testing.T) {
	agg := &fakeAggregator{}
	s := NewSession(agg, nil)

	report, err := s.Run(context.Background(), []string{"octo/a", "https://github.com/OCTO/A", "octo/b"}, "t", domain.FetchOptions{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"octo/a", "octo/b"}, agg.called())
	assert.Equal(t, []string{"Duplicate repository URL: https://github.com/OCTO/A"}, report.Warnings)
}

func TestSessionRun_Conflict(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	agg := &fakeAggregator{hook: func(ctx context.Context, input string) error {
		close(started)
		<-release
		return nil
	}}
	s := NewSession(agg, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Run(context.Background(), []string{"octo/a"}, "t", domain.FetchOptions{}, nil, nil)
	}()

	<-started
	_, err := s.Run(context.Background(), []string{"octo/b"}, "t", domain.FetchOptions{}, nil, nil)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, domain.RunStateRunning, s.Snapshot().State)

	close(release)
	<-done
	assert.Equal(t, domain.RunStateCompleted, s.Snapshot().State)
}

// registrationCtx counts contexts derived from it that are still registered for cancellation
type registrationCtx struct {
	done   chan struct{}
	mu     sync.Mutex
	active int
}

func (c *registrationCtx) Deadline() (time.Time, bool) { return time.Time{}, false }
func (c *registrationCtx) Done() <-chan struct{} { return c.done }
func (c *registrationCtx) Err() error { return nil }
func (c *registrationCtx) Value(any) any { return nil }

func (c *registrationCtx) AfterFunc(f func()) func() bool {
	c.mu.Lock()
	c.active++
	c.mu.Unlock()
	var once sync.Once
	return func() bool {
		stopped := false
		once.Do(func() {
			c.mu.Lock()
			c.active--
			c.mu.Unlock()
			stopped = true
		})
		return stopped
	}
}

func (c *registrationCtx) registered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func TestSessionRun_ReleasesParentContext(t *testing.T) {
	parent := &registrationCtx{done: make(chan struct{})}
	s := NewSession(&fakeAggregator{}, nil)

	report, err := s.Run(parent, []string{"octo/a"}, "t", domain.FetchOptions{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStateCompleted, report.State)
	assert.Zero(t, parent.registered())
}

func TestCancellationHandle(t *testing.T) {
	h := NewCancellationHandle(context.Background())
	assert.False(t, h.Signaled())

	h.Signal()
	h.Signal()
	assert.True(t, h.Signaled())
	assert.ErrorIs(t, h.Context().Err(), context.Canceled)

	parent, cancel := context.WithCancel(context.Background())
	child := NewCancellationHandle(parent)
	cancel()
	assert.True(t, child.Signaled())
}
