package responder

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig controls exponential backoff for failed sends.
type RetryConfig struct {
	MaxRetries int           // max retry attempts (default 2, 0 = no retry)
	BaseDelay  time.Duration // initial backoff delay (default 500ms)
	MaxDelay   time.Duration // maximum backoff delay (default 5s)
}

// DefaultRetryConfig returns the defaults used for chat replies.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// ExecuteWithRetry runs fn, retrying on error with exponential backoff + jitter
// until it succeeds, retries run out, or ctx ends.
func ExecuteWithRetry(ctx context.Context, fn func() error, cfg RetryConfig) (attempts int, err error) {
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err = fn(); err == nil {
			return attempt + 1, nil
		}
		if attempt == cfg.MaxRetries {
			break
		}
		t := time.NewTimer(backoffWithJitter(cfg.BaseDelay, cfg.MaxDelay, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt + 1, err
		case <-t.C:
		}
	}
	return cfg.MaxRetries + 1, err
}

// backoffWithJitter computes delay = min(base * 2^attempt, max) + jitter(±25%).
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}

	quarter := delay / 4
	if quarter > 0 {
		jitter := time.Duration(rand.Int64N(int64(quarter*2))) - quarter
		delay += jitter
	}
	return delay
}
