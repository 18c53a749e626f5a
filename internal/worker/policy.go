package worker

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy bounds how a remote call is retried and paced
type Policy struct {
	MaxRetry   int
	RetryDelay time.Duration
	Interval   time.Duration
}

// NewPolicy builds a policy from config values in milliseconds
func NewPolicy(maxRetry, retryDelayMs, intervalMs int) Policy {
	return Policy{
		MaxRetry:   maxRetry,
		RetryDelay: time.Duration(retryDelayMs) * time.Millisecond,
		Interval:   time.Duration(intervalMs) * time.Millisecond,
	}
}

// Do runs op up to MaxRetry times with a constant delay between attempts,
// then sleeps Interval. Failures matching an ignore rule count as success.
// Every other failure is retried; the caller classifies the last one.
func (p Policy) Do(ctx context.Context, ignores []ignoreRule, op func(ctx context.Context) error) error {
	attempts := p.MaxRetry
	if attempts < 1 {
		attempts = 1
	}
	delay := p.RetryDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(delay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := op(ctx)
		if err == nil || ignored(err, ignores) {
			return nil
		}
		if isContextErr(err) {
			return err
		}
		return retry.RetryableError(err)
	})

	p.pace(ctx)
	return err
}

func (p Policy) pace(ctx context.Context) {
	if p.Interval <= 0 {
		return
	}
	t := time.NewTimer(p.Interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
