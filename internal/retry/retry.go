// Package retry runs operations with bounded exponential backoff. Only
// errors classified as transient are retried.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is used when a component is not given one.
var DefaultPolicy = Policy{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     10 * time.Second,
}

// Do calls op until it succeeds, fails with a non-transient error, exhausts
// p.MaxAttempts, or ctx is done. It returns the number of calls made and
// the last error.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) (int, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx)
		if err != nil && !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)

	return attempts, err
}

// WithTimeout bounds one external call to d. A call that runs out of time
// while ctx is still live fails transiently. A zero d leaves fn unbounded.
func WithTimeout(ctx context.Context, d time.Duration, op string, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return domain.Transient(op, err)
	}
	return err
}
