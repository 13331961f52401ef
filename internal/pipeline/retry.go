package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/petscheit/bankai-sub001/internal/metrics"
)

// RetryPolicy wraps external-collaborator calls with bounded exponential
// backoff. Retry state lives only in memory; a crash mid-retry restarts
// the attempt counter.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Classifier   Classifier
}

// DefaultRetryPolicy provides sensible defaults: 2s, 4s, 8s (max 60s),
// 3 attempts.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Classifier:   DefaultClassifier,
	}
}

// Do runs fn, retrying transient failures up to the attempt cap. A
// terminal failure or an exhausted cap returns an error satisfying
// errors.Is(err, ErrTerminal); the caller escalates it to job Error.
func (p *RetryPolicy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	classify := p.Classifier
	if classify == nil {
		classify = DefaultClassifier
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if classify(err) == CategoryTerminal {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.delay(attempt)
		metrics.RetryAttempts.WithLabelValues(op).Inc()
		slog.Warn("Retrying after transient failure",
			"op", op, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return Terminal(fmt.Errorf("%s failed after %d attempts: %w", op, p.MaxAttempts, lastErr))
}

func (p *RetryPolicy) delay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}
