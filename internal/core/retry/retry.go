// Package retry implements the backoff policy, the error classifier and the
// call wrapper that applies both around a single external call.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/noteably/internal/core/apperr"
	"github.com/vietddude/noteably/internal/metrics"
)

// Config defines retry behavior.
type Config struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"`
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxAttempts: apperr.DefaultMaxAttempts,
	BaseDelay:   1 * time.Second,
	MaxDelay:    60 * time.Second,
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Retrier applies the classifier and backoff around calls.
type Retrier struct {
	// MaxAttempts caps total attempts regardless of what the classifier allows.
	MaxAttempts int
	Backoff     Backoff
	Sleep       SleepFunc
	log         *slog.Logger
}

// New creates a Retrier from cfg, filling zero values from DefaultConfig.
func New(cfg Config) *Retrier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	return &Retrier{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     Backoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay, Jitter: cfg.Jitter},
		Sleep:       sleepContext,
		log:         slog.Default().With("component", "retry"),
	}
}

// Do executes fn, retrying classified-retryable failures with backoff.
// Non-retryable failures are returned immediately; once attempts run out the
// last error is returned.
func Do[T any](ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			metrics.ExternalCallsTotal.WithLabelValues(op, "success").Inc()
			return result, nil
		}
		lastErr = err

		decision := Classify(err, attempt, r.Backoff)
		if decision.Action == ActionFail {
			metrics.ExternalCallsTotal.WithLabelValues(op, "failed").Inc()
			return zero, err
		}

		limit := decision.MaxAttempts
		if r.MaxAttempts > 0 && r.MaxAttempts < limit {
			limit = r.MaxAttempts
		}
		if attempt+1 >= limit {
			metrics.ExternalCallsTotal.WithLabelValues(op, "exhausted").Inc()
			return zero, fmt.Errorf("%s failed after %d attempts: %w", op, attempt+1, lastErr)
		}

		metrics.RetriesTotal.WithLabelValues(op, kindLabel(err)).Inc()
		r.logger().Warn("Retrying call",
			"op", op,
			"attempt", attempt+1,
			"delay", decision.Delay,
			"error", err,
		)

		if err := r.Sleep(ctx, decision.Delay); err != nil {
			return zero, err
		}
	}
}

// Run is Do for calls that only return an error.
func Run(ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (r *Retrier) logger() *slog.Logger {
	if r.log == nil {
		return slog.Default()
	}
	return r.log
}

func kindLabel(err error) string {
	if k := apperr.KindOf(err); k != "" {
		return string(k)
	}
	return "unknown"
}

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
