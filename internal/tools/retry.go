package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"loom/internal/logging"
)

const (
	defaultMaxAttempts = 2
	defaultRetryDelay  = 50 * time.Millisecond
)

// RetryPolicy bounds how often a tool invocation may be repeated after a
// failure. The zero value is replaced with the package defaults.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.Delay < 0 {
		p.Delay = defaultRetryDelay
	}
	return p
}

// CallWithRetry invokes fn up to the policy's attempt budget, logging each
// failure and the eventual recovery. The final error is returned unwrapped so
// callers can classify it.
func CallWithRetry(ctx context.Context, logger *slog.Logger, name string, policy RetryPolicy, fn func(context.Context) (string, error)) (string, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	policy = policy.normalized()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("tool succeeded after retry",
					logging.String("tool", name),
					logging.Int("attempt", attempt),
				)
			}
			return result, nil
		}
		lastErr = err
		logger.Warn("tool invocation failed",
			logging.String("tool", name),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", policy.MaxAttempts),
			logging.Error(err),
		)
		if attempt == policy.MaxAttempts {
			break
		}
		if policy.Delay > 0 {
			select {
			case <-time.After(policy.Delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("tool %s failed after %d attempts: %w", name, policy.MaxAttempts, lastErr)
}
