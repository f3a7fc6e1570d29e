package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

// Interval bounds accepted by Start, in hours.
const (
	MinIntervalHours     = 1
	MaxIntervalHours     = 168
	DefaultIntervalHours = 24
)

// Runner performs one sweep.
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

// Status is a snapshot of the schedule taken at Timestamp.
type Status struct {
	Running       bool       `json:"isRunning"`
	Timestamp     time.Time  `json:"timestamp"`
	IntervalHours int        `json:"intervalHours"`
	NextRun       *time.Time `json:"nextRun,omitempty"`
	LastRun       *Result    `json:"lastRun,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}

// Scheduler runs sweeps on a fixed interval and on demand. Only one sweep
// runs at a time.
type Scheduler struct {
	runner Runner
	logger *slog.Logger
	unit   time.Duration
	now    func() time.Time

	// sweeping serialises sweeps; ctl serialises Start and Stop.
	sweeping sync.Mutex
	ctl      sync.Mutex

	mu        sync.Mutex
	hours     int
	cancel    context.CancelFunc
	done      chan struct{}
	nextRun   time.Time
	last      *Result
	lastErr   error
	immediate bool
}

type SchedulerOption func(*Scheduler)

// WithUnit scales the interval; one interval "hour" lasts d.
func WithUnit(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.unit = d }
}

// WithRunOnStart makes Start sweep once immediately.
func WithRunOnStart() SchedulerOption {
	return func(s *Scheduler) { s.immediate = true }
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(runner Runner, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		runner: runner,
		logger: logger,
		unit:   time.Hour,
		now:    time.Now,
		hours:  DefaultIntervalHours,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins sweeping every hours hours, replacing any running schedule.
func (s *Scheduler) Start(hours int) error {
	if hours < MinIntervalHours || hours > MaxIntervalHours {
		return fmt.Errorf("%w: interval must be between %d and %d hours, got %d",
			turtlesoup.ErrInvalidInput, MinIntervalHours, MaxIntervalHours, hours)
	}
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	interval := time.Duration(hours) * s.unit

	s.mu.Lock()
	s.hours = hours
	s.cancel = cancel
	s.done = done
	s.nextRun = s.now().Add(interval)
	immediate := s.immediate
	s.mu.Unlock()

	s.logger.Info("cleanup schedule started", "interval_hours", hours)
	go s.loop(ctx, interval, immediate, done)
	return nil
}

// Stop cancels the schedule and waits for an in-flight scheduled sweep to
// finish. It reports whether a schedule was running; stopping a stopped
// scheduler does nothing.
func (s *Scheduler) Stop() bool {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	return s.stop()
}

func (s *Scheduler) stop() bool {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.nextRun = time.Time{}
	s.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	s.logger.Info("cleanup schedule stopped")
	return true
}

// Run blocks until ctx is done and then stops the schedule. It lets the
// scheduler join a server's run group.
func (s *Scheduler) Run(ctx context.Context) error {
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Running:       s.cancel != nil,
		Timestamp:     s.now().UTC(),
		IntervalHours: s.hours,
	}
	if st.Running {
		next := s.nextRun
		st.NextRun = &next
	}
	if s.last != nil {
		last := *s.last
		st.LastRun = &last
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// RunNow sweeps immediately. It fails with ErrConflict if a sweep is already
// in progress.
func (s *Scheduler) RunNow(ctx context.Context) (Result, error) {
	if !s.sweeping.TryLock() {
		return Result{}, fmt.Errorf("%w: cleanup already running", turtlesoup.ErrConflict)
	}
	defer s.sweeping.Unlock()
	return s.sweep(ctx)
}

func (s *Scheduler) sweep(ctx context.Context) (Result, error) {
	res, err := s.runner.Run(ctx)
	s.mu.Lock()
	s.last = &res
	s.lastErr = err
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("cleanup run failed", "error", err)
	}
	return res, err
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, immediate bool, done chan struct{}) {
	defer close(done)

	if immediate {
		s.tick(ctx)
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.mu.Lock()
			s.nextRun = s.now().Add(interval)
			s.mu.Unlock()
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.sweeping.TryLock() {
		s.logger.Warn("skipping scheduled cleanup, previous run still in progress")
		return
	}
	defer s.sweeping.Unlock()
	s.sweep(ctx)
}
