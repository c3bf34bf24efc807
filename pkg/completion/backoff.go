package completion

import (
	"context"
	"time"
)

// ExponentialBackoff computes a deterministic capped backoff duration.
// Attempt 0 waits base, each later attempt doubles it up to limit.
func ExponentialBackoff(attempt int, base, limit time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		if limit > 0 && base > limit {
			return limit
		}
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if limit > 0 && d >= limit {
			return limit
		}
	}
	return d
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
