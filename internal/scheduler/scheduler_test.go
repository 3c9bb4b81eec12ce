package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	idempotencydomain "github.com/apexhq/apex/internal/idempotency/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubExecutor struct {
	mu    sync.Mutex
	calls int
	err   error
	block time.Duration
}

func (e *stubExecutor) ProcessCampaigns(ctx context.Context) error {
	e.mu.Lock()
	e.calls++
	block := e.block
	err := e.err
	e.mu.Unlock()

	if block > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(block):
		}
	}
	return err
}

func (e *stubExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type stubStore struct {
	mu      sync.Mutex
	calls   int
	removed int64
	err     error
}

func (s *stubStore) CheckOrReserve(context.Context, string, string) (idempotencydomain.Result, error) {
	return idempotencydomain.Result{}, nil
}

func (s *stubStore) Commit(context.Context, string, string, int, []byte, time.Duration) error {
	return nil
}

func (s *stubStore) Release(context.Context, string) error { return nil }

func (s *stubStore) Cleanup(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.removed, s.err
}

func (s *stubStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestScheduler(t *testing.T, cfg Config, exec *stubExecutor, store *stubStore) *Scheduler {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	sched, err := New(Params{
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fixedClock{now: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)},
		Executor: exec,
		Store:    store,
		Config:   cfg,
	})
	require.NoError(t, err)
	return sched
}

func TestRunOnceDrivesExecutorAndCleanup(t *testing.T) {
	exec := &stubExecutor{}
	store := &stubStore{removed: 3}
	sched := newTestScheduler(t, Config{}, exec, store)

	require.NoError(t, sched.RunOnce(context.Background()))
	require.Equal(t, 1, exec.callCount())
	require.Equal(t, 1, store.callCount())
}

func TestRunOnceJoinsJobFailures(t *testing.T) {
	execErr := errors.New("campaign 1: provider down")
	exec := &stubExecutor{err: execErr}
	store := &stubStore{}
	sched := newTestScheduler(t, Config{}, exec, store)

	err := sched.RunOnce(context.Background())
	require.ErrorIs(t, err, execErr)

	// The cleanup job still ran.
	require.Equal(t, 1, store.callCount())
}

func TestJobTimeoutIsSoft(t *testing.T) {
	exec := &stubExecutor{block: time.Second}
	store := &stubStore{}
	sched := newTestScheduler(t, Config{JobTimeout: 20 * time.Millisecond}, exec, store)

	// The deadline surfaces as a warning, not a tick failure.
	require.NoError(t, sched.RunOnce(context.Background()))
	require.Equal(t, 1, store.callCount())
}

func TestEnabledJobsFiltersJobs(t *testing.T) {
	exec := &stubExecutor{}
	store := &stubStore{}
	sched := newTestScheduler(t, Config{EnabledJobs: []string{"idempotency_cleanup"}}, exec, store)

	require.NoError(t, sched.RunOnce(context.Background()))
	require.Equal(t, 0, exec.callCount())
	require.Equal(t, 1, store.callCount())
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	exec := &stubExecutor{}
	store := &stubStore{}
	sched := newTestScheduler(t, Config{RunInterval: 10 * time.Millisecond}, exec, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.RunForever(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return exec.callCount() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunForever did not stop after cancel")
	}
}
