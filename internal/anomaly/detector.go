// Package anomaly keeps rolling per-subject activity counters and raises
// severity-tagged security alerts when a counter exceeds its threshold.
// The detector observes and never gates: callers decide what to do with
// alerts.
package anomaly

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canvasgate/canvasgate/internal/model"
)

const (
	shardCount = 32

	// DefaultRetention is how long an idle subject window is kept.
	DefaultRetention = 24 * time.Hour

	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

type shard struct {
	mu      sync.Mutex
	windows map[string]*model.SubjectActivityWindow
}

// Detector tracks activity windows in a sharded map keyed by subject.
// Subjects that never authenticated are tracked under an "ip:" prefix.
type Detector struct {
	shards     [shardCount]shard
	thresholds atomic.Pointer[model.Thresholds]
	sinks      []AlertSink
	retention  time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithRetention sets how long idle windows are kept before cleanup.
func WithRetention(d time.Duration) Option {
	return func(det *Detector) {
		if d > 0 {
			det.retention = d
		}
	}
}

// WithSinks adds alert sinks.
func WithSinks(sinks ...AlertSink) Option {
	return func(det *Detector) { det.sinks = append(det.sinks, sinks...) }
}

// WithLogger sets the logger used for cleanup messages.
func WithLogger(l *slog.Logger) Option {
	return func(det *Detector) { det.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(det *Detector) { det.now = now }
}

// New creates a detector with the given thresholds.
func New(th model.Thresholds, opts ...Option) *Detector {
	d := &Detector{
		retention: DefaultRetention,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for i := range d.shards {
		d.shards[i].windows = make(map[string]*model.SubjectActivityWindow)
	}
	d.thresholds.Store(&th)
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Detector) shardFor(subjectID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(subjectID))
	return &d.shards[h.Sum32()%shardCount]
}

// Thresholds returns the active thresholds.
func (d *Detector) Thresholds() model.Thresholds {
	return *d.thresholds.Load()
}

// SetThresholds replaces the active thresholds. Negative limits are rejected.
func (d *Detector) SetThresholds(th model.Thresholds) error {
	if err := th.Validate(); err != nil {
		return err
	}
	d.thresholds.Store(&th)
	return nil
}

// Track records one activity for subjectID and returns any alerts raised.
func (d *Detector) Track(ctx context.Context, subjectID string, activity model.ActivityType) []model.SecurityAlert {
	return d.update(ctx, subjectID, func(w *model.SubjectActivityWindow, now time.Time) {
		switch activity {
		case model.ActivityRequest:
			w.RequestCount++
			w.HourlyRequestCount++
			w.LastRequestAt = &now
		case model.ActivityExport:
			w.ExportCount++
		case model.ActivityAuthFailure:
			w.FailedAuthCount++
			w.LastFailedAuthAt = &now
		case model.ActivitySessionStart:
			w.ConcurrentSessionCount++
		case model.ActivitySessionEnd:
			if w.ConcurrentSessionCount > 0 {
				w.ConcurrentSessionCount--
			}
		}
	})
}

// AccrueCost adds a completed request's cost to the subject's daily total.
func (d *Detector) AccrueCost(ctx context.Context, subjectID string, cost float64) []model.SecurityAlert {
	if cost <= 0 {
		return nil
	}
	return d.update(ctx, subjectID, func(w *model.SubjectActivityWindow, _ time.Time) {
		w.DailyCostAccrued += cost
	})
}

func (d *Detector) update(ctx context.Context, subjectID string, apply func(*model.SubjectActivityWindow, time.Time)) []model.SecurityAlert {
	if subjectID == "" {
		return nil
	}
	now := d.now()
	th := d.Thresholds()

	s := d.shardFor(subjectID)
	s.mu.Lock()
	w, ok := s.windows[subjectID]
	if !ok {
		w = &model.SubjectActivityWindow{SubjectID: subjectID, HourStart: now, DayStart: now}
		s.windows[subjectID] = w
	}
	rollWindows(w, now)
	apply(w, now)
	w.LastActivityAt = now
	alerts := evaluate(w, th, now)
	s.mu.Unlock()

	for _, a := range alerts {
		for _, sink := range d.sinks {
			sink.Alert(ctx, a)
		}
	}
	return alerts
}

// rollWindows resets counters whose window has elapsed. Windows are anchored
// at their first activity and restart on the first activity after expiry.
func rollWindows(w *model.SubjectActivityWindow, now time.Time) {
	if now.Sub(w.HourStart) >= hourWindow {
		w.HourStart = now
		w.HourlyRequestCount = 0
		w.ExportCount = 0
		w.FailedAuthCount = 0
	}
	if now.Sub(w.DayStart) >= dayWindow {
		w.DayStart = now
		w.DailyCostAccrued = 0
	}
}

func evaluate(w *model.SubjectActivityWindow, th model.Thresholds, now time.Time) []model.SecurityAlert {
	checks := []struct {
		metric    string
		value     float64
		threshold float64
		severity  model.Severity
	}{
		{model.MetricRequestRate, float64(w.HourlyRequestCount), float64(th.RequestsPerHour), model.SeverityHigh},
		{model.MetricDailyCost, w.DailyCostAccrued, th.CostPerDay, model.SeverityHigh},
		{model.MetricExportRate, float64(w.ExportCount), float64(th.ExportsPerHour), model.SeverityMedium},
		{model.MetricAuthFailure, float64(w.FailedAuthCount), float64(th.FailedAuthPerHour), model.SeverityHigh},
		{model.MetricConcurrentSessions, float64(w.ConcurrentSessionCount), float64(th.ConcurrentSessions), model.SeverityMedium},
	}

	var alerts []model.SecurityAlert
	for _, c := range checks {
		if c.value > c.threshold {
			alerts = append(alerts, model.SecurityAlert{
				Kind:      "threshold_exceeded",
				SubjectID: w.SubjectID,
				Metric:    c.metric,
				Value:     c.value,
				Threshold: c.threshold,
				Severity:  c.severity,
				Timestamp: now,
			})
		}
	}
	return alerts
}

// Snapshot returns a copy of the subject's window.
func (d *Detector) Snapshot(subjectID string) (model.SubjectActivityWindow, bool) {
	s := d.shardFor(subjectID)
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[subjectID]
	if !ok {
		return model.SubjectActivityWindow{}, false
	}
	return *w, true
}

// Reset discards the subject's window. It reports whether one existed.
func (d *Detector) Reset(subjectID string) bool {
	s := d.shardFor(subjectID)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.windows[subjectID]
	delete(s.windows, subjectID)
	return ok
}

// Cleanup removes windows idle for longer than the retention horizon and
// returns how many were removed.
func (d *Detector) Cleanup() int {
	cutoff := d.now().Add(-d.retention)
	removed := 0
	for i := range d.shards {
		s := &d.shards[i]
		s.mu.Lock()
		for id, w := range s.windows {
			if w.LastActivityAt.Before(cutoff) {
				delete(s.windows, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked subjects.
func (d *Detector) Len() int {
	n := 0
	for i := range d.shards {
		s := &d.shards[i]
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

// Run calls Cleanup every interval until ctx is done.
func (d *Detector) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := d.Cleanup(); n > 0 {
				d.logger.Debug("anomaly windows cleaned up", "removed", n)
			}
		}
	}
}
