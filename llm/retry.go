package llm

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy bounds the calls made for one request. Backoff[n] is the base
// delay after the (n+1)th failed attempt; the last entry repeats.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
	Jitter      bool // scale each delay by a factor in [0.5, 1.5)
	OnRetry     func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy allows three attempts with base delays of 1s, 2s, 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		Jitter:      true,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait after failed attempt n (0-indexed).
func (p RetryPolicy) Delay(n int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	delay := p.Backoff[min(n, len(p.Backoff)-1)]
	if p.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))
	}
	return delay
}

// Retry calls fn until it succeeds, fails with a non-retryable error, or the
// policy runs out of attempts. A retryable failure on the last attempt is
// wrapped in a RetriesExhaustedError.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	limit := policy.attempts()
	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			return zero, err
		}
		if attempt >= limit {
			return zero, &RetriesExhaustedError{
				SDKError: SDKError{Message: "retries exhausted", Cause: err},
				Attempts: attempt,
			}
		}

		delay := policy.Delay(attempt - 1)
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-timer.C:
		}
	}
}
