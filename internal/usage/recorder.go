// Package usage writes the append-only billing ledger. Every completion
// attempt produces exactly one event, success or failure.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/canvasgate/canvasgate/internal/model"
)

// DefaultWriteTimeout bounds a single ledger insert.
const DefaultWriteTimeout = 5 * time.Second

// Ledger is the append-only store behind the recorder.
type Ledger interface {
	InsertUsageEvent(ctx context.Context, e *model.UsageEvent) error
}

// Observer is notified after an event has been persisted.
type Observer func(ctx context.Context, e model.UsageEvent)

// Recorder inserts usage events and fans them out to observers.
type Recorder struct {
	ledger    Ledger
	logger    *slog.Logger
	timeout   time.Duration
	observers []Observer
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithObserver adds an observer, e.g. anomaly cost accrual.
func WithObserver(o Observer) Option {
	return func(r *Recorder) { r.observers = append(r.observers, o) }
}

// WithWriteTimeout bounds each insert.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.timeout = d }
}

// New creates a Recorder. logger may be nil.
func New(ledger Ledger, logger *slog.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{ledger: ledger, logger: logger, timeout: DefaultWriteTimeout}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Record inserts e once. The insert is detached from ctx cancellation so an
// abandoned request is still billed. Observers run only after a successful
// insert.
func (r *Recorder) Record(ctx context.Context, e model.UsageEvent) error {
	if e.Status == "" {
		e.Status = model.UsageFailed
	}
	if e.InputTokens < 0 {
		e.InputTokens = 0
	}
	if e.OutputTokens < 0 {
		e.OutputTokens = 0
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.ledger.InsertUsageEvent(wctx, &e); err != nil {
		r.logger.Error("usage event not recorded",
			"request_id", e.RequestID, "subject_id", e.SubjectID, "provider", string(e.Provider), "error", err)
		return fmt.Errorf("record usage: %w", err)
	}

	r.logger.Info("usage recorded",
		"request_id", e.RequestID,
		"subject_id", e.SubjectID,
		"provider", string(e.Provider),
		"model", e.Model,
		"input_tokens", e.InputTokens,
		"output_tokens", e.OutputTokens,
		"cost_estimate", e.CostEstimate,
		"status", string(e.Status),
	)
	for _, o := range r.observers {
		o(wctx, e)
	}
	return nil
}
