// Package retry consolidates the ad-hoc retry loop the teacher wrote inline
// in stellar-postgres-ingester's streamLedgers (manual attempt counter,
// sleep, retry) into a single chunk-boundary policy built on
// cenkalti/backoff, per spec.md §7's TransientDBError handling
// ("retried with exponential backoff up to 3 attempts at chunk
// granularity; then surfaced as FAILED").
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialInterval: 200 * time.Millisecond}
}

// Retryable marks an error as safe to retry at chunk granularity
// (TransientDBError). Anything else is surfaced immediately.
type Retryable struct {
	Err error
}

func (r Retryable) Error() string { return r.Err.Error() }
func (r Retryable) Unwrap() error { return r.Err }

func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return Retryable{Err: err}
}

// Do runs fn up to policy.MaxAttempts times, backing off exponentially
// between attempts, but only when fn's error is Retryable. A
// non-retryable error or a cancelled context aborts immediately.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	bctx := backoff.WithContext(b, ctx)

	attempt := 0
	op := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		var r Retryable
		if !errors.As(err, &r) {
			return backoff.Permanent(err)
		}
		if attempt >= policy.MaxAttempts {
			return backoff.Permanent(r.Err)
		}
		return err
	}

	return backoff.Retry(op, bctx)
}
