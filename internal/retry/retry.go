package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNotReady is returned by Until when the condition never became true.
var ErrNotReady = errors.New("condition not met")

// Config holds retry configuration
type Config struct {
	MaxAttempts  int           // Retries after the first attempt
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Upper bound for a single delay
	Multiplier   float64       // Backoff multiplier, 1 keeps the delay constant
}

// DefaultConfig returns the polling configuration used for page readiness checks
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  20,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.5,
	}
}

// Do runs fn until it succeeds or the attempts are exhausted.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		if err := sleep(ctx, Delay(cfg, attempt)); err != nil {
			return fmt.Errorf("retry cancelled during wait: %w", err)
		}
	}

	return fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}

// Until polls cond until it reports true. Errors from cond abort immediately.
func Until(ctx context.Context, cfg Config, cond func(ctx context.Context) (bool, error)) error {
	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("poll cancelled: %w", err)
		}

		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		if err := sleep(ctx, Delay(cfg, attempt)); err != nil {
			return fmt.Errorf("poll cancelled during wait: %w", err)
		}
	}

	return fmt.Errorf("%w after %d attempts", ErrNotReady, cfg.MaxAttempts+1)
}

// Delay returns the wait before retry number attempt+1.
func Delay(cfg Config, attempt int) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(cfg.InitialDelay) * math.Pow(multiplier, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	return time.Duration(delay)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
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
