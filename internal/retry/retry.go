// Package retry runs operations with exponential backoff and jitter.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/doccrawler/internal/crawler"
)

// Executor retries an operation according to a crawler.RetryPolicy.
type Executor struct {
	policy  crawler.RetryPolicy
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func(limit time.Duration) time.Duration
	onRetry func(attempt int, err error, delay time.Duration)
}

// Option customizes an Executor.
type Option func(*Executor)

// WithSleep replaces the sleep function (tests use a recorder).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = fn
	}
}

// WithJitter replaces the jitter source.
func WithJitter(fn func(limit time.Duration) time.Duration) Option {
	return func(e *Executor) {
		e.jitter = fn
	}
}

// WithOnRetry registers a hook invoked before each backoff sleep.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(e *Executor) {
		e.onRetry = fn
	}
}

// New builds an Executor. MaxAttempts below one is treated as one.
func New(policy crawler.RetryPolicy, opts ...Option) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	e := &Executor{
		policy: policy,
		sleep:  sleepContext,
		jitter: randomJitter,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Backoff returns min(max, base*2^attempt) plus up to Jitter of random delay.
// attempt is zero-based.
func (e *Executor) Backoff(attempt int) time.Duration {
	delay := float64(e.policy.BackoffBase) * math.Pow(2, float64(attempt))
	if e.policy.BackoffMax > 0 && delay > float64(e.policy.BackoffMax) {
		delay = float64(e.policy.BackoffMax)
	}
	return time.Duration(delay) + e.jitter(e.policy.Jitter)
}

// Run invokes op until it succeeds, returns a permanent error, or the
// attempts are exhausted. The last error is returned unwrapped.
func (e *Executor) Run(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Do(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do is the value-returning form of Executor.Run.
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, fmt.Errorf("retry canceled: %w", err)
		}
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if crawler.IsPermanent(err) || attempt == e.policy.MaxAttempts-1 {
			break
		}
		delay := e.Backoff(attempt)
		if e.onRetry != nil {
			e.onRetry(attempt+1, err, delay)
		}
		if serr := e.sleep(ctx, delay); serr != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit) + 1)
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
