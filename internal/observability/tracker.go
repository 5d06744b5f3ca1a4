package observability

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/canvasgate/canvasgate/internal/model"
)

// Outcome carries the optional results reported when a request completes.
type Outcome struct {
	Tokens *int
	Cost   *float64
	Err    error
}

// Tracker records the lifecycle of every gateway request. It never gates a
// request: unknown ids and repeated completions are logged and ignored.
type Tracker struct {
	mu      sync.Mutex
	metrics map[string]*model.RequestMetric

	prom   *Metrics
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a tracker. prom may be nil.
func NewTracker(prom *Metrics, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		metrics: make(map[string]*model.RequestMetric),
		prom:    prom,
		logger:  logger,
		now:     time.Now,
	}
}

// Start begins tracking an operation and returns its request id. subjectID
// may be empty for unauthenticated requests.
func (t *Tracker) Start(operation, subjectID string) string {
	return t.StartWithID("", operation, subjectID)
}

// StartWithID is Start reusing an upstream request id, such as the one set
// by the HTTP middleware. A new id is generated when requestID is empty or
// already tracked.
func (t *Tracker) StartWithID(requestID, operation, subjectID string) string {
	start := t.now()

	t.mu.Lock()
	id := requestID
	if _, dup := t.metrics[id]; id == "" || dup {
		id = uuid.Must(uuid.NewV7()).String()
	}
	t.metrics[id] = &model.RequestMetric{
		RequestID: id,
		SubjectID: subjectID,
		Operation: operation,
		StartTime: start,
		Status:    model.MetricPending,
	}
	t.mu.Unlock()

	t.logger.Debug("request started", "request_id", id, "operation", operation, "subject_id", subjectID)
	return id
}

// Complete finalizes a tracked request. A metric is mutated at most once.
func (t *Tracker) Complete(requestID string, status model.MetricStatus, out Outcome) {
	end := t.now()

	t.mu.Lock()
	m, ok := t.metrics[requestID]
	if !ok || m.Status != model.MetricPending {
		t.mu.Unlock()
		t.logger.Warn("completion for unknown or finished request", "request_id", requestID)
		return
	}
	dur := end.Sub(m.StartTime).Milliseconds()
	m.EndTime = &end
	m.DurationMs = &dur
	m.Status = status
	if out.Tokens != nil {
		v := *out.Tokens
		m.TokenCount = &v
	}
	if out.Cost != nil {
		v := *out.Cost
		m.CostEstimate = &v
	}
	if out.Err != nil {
		m.ErrorSummary = TruncateError(out.Err.Error())
	}
	snapshot := *m
	t.mu.Unlock()

	if t.prom != nil {
		t.prom.RequestsTotal.WithLabelValues(snapshot.Operation, string(status)).Inc()
		t.prom.RequestDuration.WithLabelValues(snapshot.Operation).Observe(float64(dur) / 1000)
	}

	attrs := []any{
		"request_id", snapshot.RequestID,
		"operation", snapshot.Operation,
		"subject_id", snapshot.SubjectID,
		"status", string(status),
		"duration_ms", dur,
	}
	if snapshot.TokenCount != nil {
		attrs = append(attrs, "tokens", *snapshot.TokenCount)
	}
	if snapshot.CostEstimate != nil {
		attrs = append(attrs, "cost_estimate", *snapshot.CostEstimate)
	}
	if snapshot.ErrorSummary != "" {
		attrs = append(attrs, "error", snapshot.ErrorSummary)
		t.logger.Warn("request failed", attrs...)
		return
	}
	t.logger.Info("request completed", attrs...)
}

// Get returns a copy of one tracked metric.
func (t *Tracker) Get(requestID string) (model.RequestMetric, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.metrics[requestID]
	if !ok {
		return model.RequestMetric{}, false
	}
	return *m, true
}

// List returns copies of the metrics for subjectID, oldest first. An empty
// subject lists every metric.
func (t *Tracker) List(subjectID string) []model.RequestMetric {
	t.mu.Lock()
	out := make([]model.RequestMetric, 0, len(t.metrics))
	for _, m := range t.metrics {
		if subjectID == "" || m.SubjectID == subjectID {
			out = append(out, *m)
		}
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Purge removes finished metrics that ended before now-olderThan, and pending
// metrics that started before it. It returns the number removed.
func (t *Tracker) Purge(olderThan time.Duration) int {
	cutoff := t.now().Add(-olderThan)

	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, m := range t.metrics {
		ref := m.StartTime
		if m.EndTime != nil {
			ref = *m.EndTime
		}
		if ref.Before(cutoff) {
			delete(t.metrics, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked metrics.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.metrics)
}
