package auth

import (
	"context"
	"time"

	apperrors "github.com/jrsteele09/go-connecteddrive/internal/errors"
)

// withThrottleRetry runs fn until it succeeds, fails with something other
// than throttling, or the attempts are used up.
func (n *Negotiator) withThrottleRetry(ctx context.Context, stage string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= n.throttleAttempts; attempt++ {
		err = fn()
		if err == nil || !apperrors.Is(err, apperrors.ErrThrottled) {
			return err
		}
		if attempt == n.throttleAttempts {
			break
		}
		n.logger.Warn().
			Str("stage", stage).
			Int("attempt", attempt).
			Dur("cooldown", n.throttleCooldown).
			Msg("identity provider throttled, cooling down")
		if err := sleep(ctx, n.throttleCooldown); err != nil {
			return err
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
