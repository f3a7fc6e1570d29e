// Package retry wraps calls to external stores with a per-attempt timeout
// and a bounded, linearly backed-off retry loop for transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/playperu/turtlesoup/internal/turtlesoup"
)

// Policy describes how a call is bounded and retried. The zero value makes a
// single attempt with no timeout.
type Policy struct {
	// Retries is the number of extra attempts after the first one.
	Retries int
	// Timeout bounds each attempt. Zero means no per-attempt deadline.
	Timeout time.Duration
	// Backoff returns the wait before retry number attempt (1-based).
	Backoff func(attempt int) time.Duration
	// Transient classifies errors worth retrying. Defaults to IsTransient.
	Transient func(error) bool

	Logger *slog.Logger

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Linear returns a backoff of step × attempt.
func Linear(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration { return step * time.Duration(attempt) }
}

// Default is the store write policy: 30 s per attempt, 3 retries, waiting
// 1 s, 2 s, then 3 s.
func Default(logger *slog.Logger) Policy {
	return Policy{
		Retries: 3,
		Timeout: 30 * time.Second,
		Backoff: Linear(time.Second),
		Logger:  logger,
	}
}

// Once returns a copy of p that keeps the timeout but never retries. Reads
// use it.
func (p Policy) Once() Policy {
	p.Retries = 0
	return p
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// retries are exhausted. The last error is returned.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	transient := p.Transient
	if transient == nil {
		transient = IsTransient
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = p.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if attempt >= p.Retries || !transient(err) || ctx.Err() != nil {
			break
		}

		wait := time.Duration(0)
		if p.Backoff != nil {
			wait = p.Backoff(attempt + 1)
		}
		if p.Logger != nil {
			p.Logger.Warn("retrying after transient error",
				"op", op,
				"attempt", attempt+1,
				"of", p.Retries,
				"wait_ms", wait.Milliseconds(),
				"error", err,
			)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return err
}

func (p Policy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, turtlesoup.ErrTransient) {
		err = fmt.Errorf("%w: %w", turtlesoup.ErrTransient, err)
	}
	return err
}

// Value is Do for calls that return a result.
func Value[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// IsTransient reports whether err looks like a network, timeout or
// lock-contention failure. Domain errors such as not-found or validation are
// never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	for _, permanent := range []error{
		turtlesoup.ErrNotFound,
		turtlesoup.ErrInvalidInput,
		turtlesoup.ErrInvalidState,
		turtlesoup.ErrForbidden,
		turtlesoup.ErrConflict,
		context.Canceled,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	if errors.Is(err, turtlesoup.ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"database is locked", "database is busy", "sqlite_busy", "connection reset", "connection refused", "broken pipe", "timeout", "network"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
