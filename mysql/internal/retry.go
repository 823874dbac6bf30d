package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
)

// Run runs fn once, recovering from panics, e.g. in fn.
func Run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if rerr := recover(); rerr != nil {
			err = fmt.Errorf("%v", rerr)
		}
	}()
	return fn(ctx)
}

// RunWithRetry runs fn, repeating it with exponential backoff as long
// as retryable classifies the returned error as transient.
//
// fn must be idempotent, i.e. it may be called several times without
// side effects.
func RunWithRetry(ctx context.Context, fn func(context.Context) error, retryable func(error) bool) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 15 * time.Second
	return RunWithRetryBackoff(ctx, fn, retryable, b)
}

// RunWithRetryBackoff is like RunWithRetry but with configurable backoff.
func RunWithRetryBackoff(ctx context.Context, fn func(context.Context) error, retryable func(error) bool, b backoff.BackOff) (err error) {
	b.Reset()
	for {
		if err = Run(ctx, fn); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
