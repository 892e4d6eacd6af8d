package portal

import (
	"context"
	"time"

	"github.com/timmy/rerasync/internal/logger"
)

// RetryPolicy retries transient transport failures with an incrementing,
// capped delay. HTTP status errors and caller cancellation are returned
// immediately.
type RetryPolicy struct {
	MaxAttempts int
	Start       time.Duration
	Step        time.Duration
	Max         time.Duration

	// OnRetry fires before each sleep. Defaults to an info log line.
	OnRetry func(ctx context.Context, attempt int, delay time.Duration, err error)

	// Sleep waits for d or until ctx is done. Replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns 3 attempts with delays 0.5s, 0.75s (capped at 1s).
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		Start:       500 * time.Millisecond,
		Step:        250 * time.Millisecond,
		Max:         time.Second,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Start + time.Duration(attempt-1)*p.Step
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Do runs fn until it succeeds, fails non-transiently, or attempts run out.
// The last error is returned unchanged.
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !IsTransient(err) || attempt >= maxAttempts {
			return err
		}

		delay := p.Delay(attempt)
		p.onRetry(ctx, attempt, delay, err)

		if serr := p.sleep(ctx, delay); serr != nil {
			return err
		}
	}
}

func (p *RetryPolicy) onRetry(ctx context.Context, attempt int, delay time.Duration, err error) {
	if p.OnRetry != nil {
		p.OnRetry(ctx, attempt, delay, err)
		return
	}
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldAttempt: attempt,
		"delay":             delay.String(),
	}).WithError(err).Info("Retrying portal request")
}

func (p *RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
