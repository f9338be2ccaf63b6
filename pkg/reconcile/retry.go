package reconcile

import (
	"context"
	"time"

	"github.com/taskdeck/taskgraph/pkg/errors"
)

// Policy bounds retries of transient persistence failures.
// The delay doubles after each failed attempt.
type Policy struct {
	Attempts     int
	InitialDelay time.Duration
}

// DefaultPolicy is applied when Options.Retry is the zero value:
// 3 attempts with 500ms initial delay, doubling each retry.
var DefaultPolicy = Policy{Attempts: 3, InitialDelay: 500 * time.Millisecond}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultPolicy.Attempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultPolicy.InitialDelay
	}
	return p
}

// retryTransient executes fn up to p.Attempts times with exponential
// backoff. Only errors classified transient by pkg/errors are retried;
// validation rejections are terminal for the attempt and returned
// immediately so the caller can roll back. Returns ctx.Err() if cancelled
// while waiting.
func retryTransient(ctx context.Context, p Policy, fn func() error) error {
	p = p.withDefaults()
	delay := p.InitialDelay

	var lastErr error
	for i := 0; i < p.Attempts; i++ {
		if err := fn(); err == nil {
			return nil
		} else if lastErr = err; !errors.IsTransient(err) {
			return err
		}

		if i < p.Attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
	}
	return lastErr
}
