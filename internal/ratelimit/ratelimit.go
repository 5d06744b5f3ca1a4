// Package ratelimit implements fixed-window request limits keyed by
// operation and subject. Counting is delegated to a Counter so one instance
// can keep state in memory while several instances share Redis.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/canvasgate/canvasgate/internal/apierr"
)

// Counter atomically increments the counter for key, starting a window of
// the given length on the first increment. It returns the count after the
// increment and the time left in the window.
type Counter interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetIn time.Duration, err error)
}

// Rule is a limit for one operation class.
type Rule struct {
	Operation   string
	MaxRequests int
	Window      time.Duration
}

// Limiter applies rules to subjects.
type Limiter struct {
	counter Counter
	logger  *slog.Logger
	onDeny  func(operation string)
}

// New creates a limiter over counter. onDeny, if set, is called for every
// rejected request.
func New(counter Counter, logger *slog.Logger, onDeny func(operation string)) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{counter: counter, logger: logger, onDeny: onDeny}
}

// Allow reports whether one more request for key is within max per window.
// The first max requests of a window are allowed; the rest are denied until
// the window expires.
func (l *Limiter) Allow(ctx context.Context, key string, max int, window time.Duration) (bool, time.Duration, error) {
	count, resetIn, err := l.counter.Increment(ctx, key, window)
	if err != nil {
		return false, window, err
	}
	return count <= int64(max), resetIn, nil
}

// Check enforces rule for subjectID and returns a RateLimitExceeded error
// when the window is exhausted. Counter failures also deny.
func (l *Limiter) Check(ctx context.Context, rule Rule, subjectID string) error {
	ok, resetIn, err := l.Allow(ctx, rule.Operation+":"+subjectID, rule.MaxRequests, rule.Window)
	if err != nil {
		l.logger.Error("rate limit counter failed, denying request",
			"operation", rule.Operation, "subject_id", subjectID, "error", err)
	}
	if !ok {
		if l.onDeny != nil {
			l.onDeny(rule.Operation)
		}
		return apierr.RateLimited(resetIn)
	}
	return nil
}
