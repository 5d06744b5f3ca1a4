package anomaly

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/canvasgate/canvasgate/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestDetector(opts ...Option) (*Detector, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(model.DefaultThresholds(), opts...), clock
}

func findAlert(alerts []model.SecurityAlert, metric string) *model.SecurityAlert {
	for i := range alerts {
		if alerts[i].Metric == metric {
			return &alerts[i]
		}
	}
	return nil
}

func TestRequestRateAlertOn101st(t *testing.T) {
	d, clock := newTestDetector()
	ctx := context.Background()

	for i := 1; i <= 100; i++ {
		if alerts := d.Track(ctx, "user_a", model.ActivityRequest); len(alerts) != 0 {
			t.Fatalf("request %d raised %v", i, alerts)
		}
		clock.Advance(30 * time.Second)
	}

	alerts := d.Track(ctx, "user_a", model.ActivityRequest)
	a := findAlert(alerts, model.MetricRequestRate)
	if a == nil {
		t.Fatalf("expected request_rate alert, got %v", alerts)
	}
	if a.Severity != model.SeverityHigh || a.Value != 101 || a.Threshold != 100 {
		t.Errorf("unexpected alert: %+v", a)
	}

	// Alerts repeat while the condition persists.
	if findAlert(d.Track(ctx, "user_a", model.ActivityRequest), model.MetricRequestRate) == nil {
		t.Error("expected repeated alert on 102nd request")
	}
}

func TestHourlyWindowResets(t *testing.T) {
	d, clock := newTestDetector()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		d.Track(ctx, "user_a", model.ActivityRequest)
	}
	clock.Advance(time.Hour)

	if alerts := d.Track(ctx, "user_a", model.ActivityRequest); len(alerts) != 0 {
		t.Errorf("expected reset window, got %v", alerts)
	}
	w, ok := d.Snapshot("user_a")
	if !ok {
		t.Fatal("expected window")
	}
	if w.HourlyRequestCount != 1 || w.RequestCount != 101 {
		t.Errorf("hourly=%d lifetime=%d", w.HourlyRequestCount, w.RequestCount)
	}
}

func TestSeverities(t *testing.T) {
	tests := []struct {
		name     string
		activity model.ActivityType
		times    int
		metric   string
		severity model.Severity
	}{
		{"exports", model.ActivityExport, 11, model.MetricExportRate, model.SeverityMedium},
		{"auth failures", model.ActivityAuthFailure, 6, model.MetricAuthFailure, model.SeverityHigh},
		{"sessions", model.ActivitySessionStart, 4, model.MetricConcurrentSessions, model.SeverityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newTestDetector()
			var alerts []model.SecurityAlert
			for i := 0; i < tt.times; i++ {
				alerts = d.Track(context.Background(), "s", tt.activity)
				if i < tt.times-1 && len(alerts) != 0 {
					t.Fatalf("alert before threshold at %d: %v", i, alerts)
				}
			}
			a := findAlert(alerts, tt.metric)
			if a == nil || a.Severity != tt.severity {
				t.Errorf("got %v, want %s/%s", alerts, tt.metric, tt.severity)
			}
		})
	}
}

func TestDailyCost(t *testing.T) {
	d, clock := newTestDetector()
	ctx := context.Background()

	if alerts := d.AccrueCost(ctx, "a", 50); len(alerts) != 0 {
		t.Errorf("cost at threshold must not alert: %v", alerts)
	}
	a := findAlert(d.AccrueCost(ctx, "a", 0.01), model.MetricDailyCost)
	if a == nil || a.Severity != model.SeverityHigh {
		t.Fatalf("expected high daily_cost alert, got %v", a)
	}

	clock.Advance(24 * time.Hour)
	if alerts := d.AccrueCost(ctx, "a", 1); len(alerts) != 0 {
		t.Errorf("expected daily reset, got %v", alerts)
	}
}

func TestSessionEndNeverNegative(t *testing.T) {
	d, _ := newTestDetector()
	d.Track(context.Background(), "a", model.ActivitySessionEnd)
	w, _ := d.Snapshot("a")
	if w.ConcurrentSessionCount != 0 {
		t.Errorf("sessions = %d", w.ConcurrentSessionCount)
	}
}

func TestSetThresholds(t *testing.T) {
	d, _ := newTestDetector()
	th := model.DefaultThresholds()
	th.RequestsPerHour = 1
	if err := d.SetThresholds(th); err != nil {
		t.Fatalf("SetThresholds: %v", err)
	}
	ctx := context.Background()
	d.Track(ctx, "a", model.ActivityRequest)
	if findAlert(d.Track(ctx, "a", model.ActivityRequest), model.MetricRequestRate) == nil {
		t.Error("expected alert with lowered threshold")
	}

	th.CostPerDay = -1
	if err := d.SetThresholds(th); err == nil {
		t.Error("expected error for negative threshold")
	}
	if d.Thresholds().CostPerDay != 50 {
		t.Error("rejected thresholds must not be applied")
	}
}

func TestResetAndCleanup(t *testing.T) {
	d, clock := newTestDetector(WithRetention(time.Hour))
	ctx := context.Background()

	d.Track(ctx, "a", model.ActivityRequest)
	d.Track(ctx, "b", model.ActivityRequest)
	if !d.Reset("a") {
		t.Error("Reset(a) should report an existing window")
	}
	if d.Reset("a") {
		t.Error("second Reset(a) should report nothing")
	}

	clock.Advance(2 * time.Hour)
	d.Track(ctx, "c", model.ActivityRequest)
	if n := d.Cleanup(); n != 1 {
		t.Errorf("Cleanup removed %d, want 1", n)
	}
	if _, ok := d.Snapshot("b"); ok {
		t.Error("idle window b should be removed")
	}
	if d.Len() != 1 {
		t.Errorf("Len = %d, want 1", d.Len())
	}
}

func TestConcurrentTrackLosesNoUpdates(t *testing.T) {
	d, _ := newTestDetector()
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Track(context.Background(), "shared", model.ActivityRequest)
		}()
	}
	wg.Wait()
	w, _ := d.Snapshot("shared")
	if w.RequestCount != 200 {
		t.Errorf("RequestCount = %d, want 200", w.RequestCount)
	}
}

func TestSinks(t *testing.T) {
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "alerts_total"}, []string{"metric", "severity"})
	var got []model.SecurityAlert
	d, _ := newTestDetector(WithSinks(
		CounterSink(alerts),
		AlertSinkFunc(func(_ context.Context, a model.SecurityAlert) { got = append(got, a) }),
	))

	for i := 0; i < 6; i++ {
		d.Track(context.Background(), "ip:10.0.0.1", model.ActivityAuthFailure)
	}
	if len(got) != 1 {
		t.Fatalf("sink got %d alerts, want 1", len(got))
	}
	if v := testutil.ToFloat64(alerts.WithLabelValues(model.MetricAuthFailure, "high")); v != 1 {
		t.Errorf("counter = %v, want 1", v)
	}
}

func TestEmptySubjectIgnored(t *testing.T) {
	d, _ := newTestDetector()
	if alerts := d.Track(context.Background(), "", model.ActivityRequest); alerts != nil {
		t.Errorf("got %v", alerts)
	}
	if d.Len() != 0 {
		t.Error("empty subject must not create a window")
	}
}
