package sweeper

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

type countingRunner struct {
	runs  atomic.Int32
	block chan struct{}
}

func (r *countingRunner) Run(ctx context.Context) (Result, error) {
	r.runs.Add(1)
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
		}
	}
	return Result{Rooms: Counts{Total: 1, Success: 1}, Timestamp: time.Now()}, nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestStartValidatesInterval(t *testing.T) {
	s := NewScheduler(&countingRunner{}, quietLogger())
	for _, h := range []int{0, -1, 169} {
		assert.ErrorIs(t, s.Start(h), turtlesoup.ErrInvalidInput, "hours=%d", h)
	}
	assert.False(t, s.Status().Running)
}

func TestScheduleRunsOnInterval(t *testing.T) {
	r := &countingRunner{}
	at := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewScheduler(r, quietLogger(), WithUnit(10*time.Millisecond), WithSchedulerClock(func() time.Time { return at }))

	require.NoError(t, s.Start(1))
	st := s.Status()
	assert.True(t, st.Running)
	assert.True(t, st.Timestamp.Equal(at))
	assert.Equal(t, 1, st.IntervalHours)
	assert.NotNil(t, st.NextRun)

	assert.Eventually(t, func() bool { return r.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)

	assert.True(t, s.Stop())
	st = s.Status()
	assert.False(t, st.Running)
	assert.Nil(t, st.NextRun)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, 1, st.LastRun.Rooms.Success)

	n := r.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, r.runs.Load(), "ran after stop")

	// Stopping twice is harmless and reports that nothing was running.
	assert.False(t, s.Stop())
}

func TestRunOnStart(t *testing.T) {
	r := &countingRunner{}
	s := NewScheduler(r, quietLogger(), WithRunOnStart())
	require.NoError(t, s.Start(24))
	defer s.Stop()
	assert.Eventually(t, func() bool { return r.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRestartReplacesInterval(t *testing.T) {
	s := NewScheduler(&countingRunner{}, quietLogger())
	require.NoError(t, s.Start(24))
	require.NoError(t, s.Start(6))
	defer s.Stop()
	assert.Equal(t, 6, s.Status().IntervalHours)
}

func TestRunNowRejectsOverlap(t *testing.T) {
	r := &countingRunner{block: make(chan struct{})}
	s := NewScheduler(r, quietLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.RunNow(ctx)
	}()
	assert.Eventually(t, func() bool { return r.runs.Load() == 1 }, time.Second, time.Millisecond)

	_, err := s.RunNow(ctx)
	assert.ErrorIs(t, err, turtlesoup.ErrConflict)

	close(r.block)
	wg.Wait()

	res, err := s.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rooms.Total)
}

func TestRunStopsScheduleOnCancel(t *testing.T) {
	s := NewScheduler(&countingRunner{}, quietLogger())
	require.NoError(t, s.Start(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, s.Status().Running)
}
