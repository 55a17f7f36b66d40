package ingest

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// WithRetry runs fn under a bounded exponential backoff schedule: at most
// maxAttempts invocations with sleeps of base, 2*base, 4*base… between
// them. fn signals a retryable failure by wrapping it with
// retry.RetryableError; a bare error aborts the schedule immediately and is
// returned as-is. The error of the final failed attempt is returned.
func WithRetry(ctx context.Context, maxAttempts int, base time.Duration, fn func(context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	b := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewExponential(base))
	return retry.Do(ctx, b, fn)
}
