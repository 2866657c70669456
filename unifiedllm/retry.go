package unifiedllm

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy configures retry behavior with exponential backoff.
type RetryPolicy struct {
	MaxRetries    int           // retry attempts, not counting the initial call
	BaseDelay     time.Duration // delay before the first retry
	MaxDelay      time.Duration // cap on any single delay
	JitterPercent uint64        // +/- jitter applied to each delay
	OnRetry       func(err error, attempt int)
}

// DefaultRetryPolicy returns the retry policy used for model calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    2,
		BaseDelay:     time.Second,
		MaxDelay:      time.Minute,
		JitterPercent: 50,
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	if p.JitterPercent > 0 {
		b = retry.WithJitterPercent(p.JitterPercent, b)
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return retry.WithMaxRetries(uint64(maxRetries), b)
}

// Retry executes fn with the configured retry policy.
// Only retryable errors are retried. A rate limit whose Retry-After exceeds
// MaxDelay is returned immediately.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	attempt := 0
	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			result = v
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter != nil && policy.MaxDelay > 0 {
			if time.Duration(*rl.RetryAfter*float64(time.Second)) > policy.MaxDelay {
				return err
			}
		}
		attempt++
		if attempt <= policy.MaxRetries && policy.OnRetry != nil {
			policy.OnRetry(err, attempt)
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		var zero T
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctxErr}}
		}
		return zero, err
	}
	return result, nil
}
