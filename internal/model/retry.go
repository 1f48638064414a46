package model

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docextract/internal/common"
)

// Policy is the injectable retry/backoff policy shared by every tier
// adapter.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // wait before the second attempt
	Multiplier  float64       // backoff growth per attempt
}

func (p *Policy) defaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
}

// Delay returns the backoff before retry attempt n (1-based count of
// retries already performed).
func (p Policy) Delay(n int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < n; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// Do runs fn under the policy. Retries stop early on context cancellation
// and on quota errors, which retrying cannot fix.
func (p Policy) Do(ctx context.Context, logger *slog.Logger, fn func(context.Context) error) error {
	p.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return lastErr
		}
		if errors.Is(err, common.ErrModelQuotaExceeded) {
			return err
		}

		if attempt < p.MaxAttempts {
			wait := p.Delay(attempt)
			logger.WarnContext(ctx, "model.retry",
				"attempt", attempt,
				"max_attempts", p.MaxAttempts,
				"backoff_ms", wait.Milliseconds(),
				"error", err)
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(wait):
			}
		}
	}
	return lastErr
}
