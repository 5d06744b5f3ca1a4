package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/canvasgate/canvasgate/internal/anomaly"
	"github.com/canvasgate/canvasgate/internal/config"
	"github.com/canvasgate/canvasgate/internal/model"
	"github.com/canvasgate/canvasgate/internal/observability"
)

type testEnv struct {
	srv      *MCPServer
	store    *config.Store
	detector *anomaly.Detector
	tracker  *observability.Tracker
}

func newTestEnv(t *testing.T, live bool) *testEnv {
	t.Helper()
	store, err := config.NewStore(config.StoreOptions{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	e := &testEnv{store: store}
	if live {
		e.detector = anomaly.New(model.DefaultThresholds())
		e.tracker = observability.NewTracker(nil, nil)
		e.srv = NewMCPServer(e.tracker, e.detector, store, "test", nil)
	} else {
		e.srv = NewMCPServer(nil, nil, store, "test", nil)
	}
	return e
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

// resultJSON decodes a successful tool result into v.
func resultJSON(t *testing.T, res *mcp.CallToolResult, err error, v interface{}) {
	t.Helper()
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(res))
	}
	if err := json.Unmarshal([]byte(resultText(res)), v); err != nil {
		t.Fatalf("decode %q: %v", resultText(res), err)
	}
}

func resultText(res *mcp.CallToolResult) string {
	if len(res.Content) == 0 {
		return ""
	}
	if tc, ok := res.Content[0].(mcp.TextContent); ok {
		return tc.Text
	}
	return ""
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name     string
		val      int
		min      int
		max      int
		expected int
	}{
		{"value in range", 5, 1, 10, 5},
		{"value below min", -3, 1, 10, 1},
		{"value above max", 15, 1, 10, 10},
		{"value equals min", 1, 1, 10, 1},
		{"value equals max", 10, 1, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clamp(tt.val, tt.min, tt.max)
			if got != tt.expected {
				t.Errorf("clamp(%d, %d, %d) = %d, want %d", tt.val, tt.min, tt.max, got, tt.expected)
			}
		})
	}
}

func TestAnnotations(t *testing.T) {
	if ann := readOnlyAnnotation(); ann.ReadOnlyHint == nil || !*ann.ReadOnlyHint {
		t.Error("readOnlyAnnotation should set ReadOnlyHint true")
	}
	if ann := mutatingAnnotation(); ann.ReadOnlyHint == nil || *ann.ReadOnlyHint {
		t.Error("mutatingAnnotation should set ReadOnlyHint false")
	}
}

func TestOptionalSince(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	got, err := optionalSince(callRequest(nil), "since", now, 24*time.Hour)
	if err != nil || !got.Equal(now.Add(-24*time.Hour)) {
		t.Errorf("default = %v, %v", got, err)
	}
	got, err = optionalSince(callRequest(map[string]interface{}{"since": "2h"}), "since", now, time.Hour)
	if err != nil || !got.Equal(now.Add(-2*time.Hour)) {
		t.Errorf("duration = %v, %v", got, err)
	}
	if _, err := optionalSince(callRequest(map[string]interface{}{"since": "soon"}), "since", now, time.Hour); err == nil {
		t.Error("expected error for garbage since")
	}
}

func TestListMetricsFiltersAndLimits(t *testing.T) {
	e := newTestEnv(t, true)
	e.tracker.Start("completion", "alice")
	e.tracker.Start("completion", "alice")
	e.tracker.Start("completion", "bob")

	var out struct {
		Count   int                   `json:"count"`
		Metrics []model.RequestMetric `json:"metrics"`
	}
	res, err := e.srv.handleListMetrics(context.Background(), callRequest(map[string]interface{}{"subject": "alice", "limit": 1}))
	resultJSON(t, res, err, &out)
	if out.Count != 1 || out.Metrics[0].SubjectID != "alice" {
		t.Errorf("out = %+v", out)
	}
}

func TestActivityTools(t *testing.T) {
	e := newTestEnv(t, true)
	ctx := context.Background()
	e.detector.Track(ctx, "alice", model.ActivityRequest)

	res, err := e.srv.handleGetActivity(ctx, callRequest(nil))
	if err != nil || !res.IsError {
		t.Errorf("missing subject should be a tool error, got %v %v", res, err)
	}

	var win model.SubjectActivityWindow
	res, err = e.srv.handleGetActivity(ctx, callRequest(map[string]interface{}{"subject": "alice"}))
	resultJSON(t, res, err, &win)
	if win.RequestCount != 1 {
		t.Errorf("window = %+v", win)
	}

	var reset map[string]interface{}
	res, err = e.srv.handleResetActivity(ctx, callRequest(map[string]interface{}{"subject": "alice"}))
	resultJSON(t, res, err, &reset)
	if reset["reset"] != true {
		t.Errorf("reset = %v", reset)
	}
	if _, ok := e.detector.Snapshot("alice"); ok {
		t.Error("window survived reset")
	}
}

func TestSetThresholdsMergesAndPersists(t *testing.T) {
	e := newTestEnv(t, true)
	ctx := context.Background()
	before := e.detector.Thresholds()

	var th model.Thresholds
	res, err := e.srv.handleSetThresholds(ctx, callRequest(map[string]interface{}{"requests_per_hour": 42.0}))
	resultJSON(t, res, err, &th)
	if th.RequestsPerHour != 42 || th.CostPerDay != before.CostPerDay {
		t.Errorf("thresholds = %+v", th)
	}
	if e.detector.Thresholds().RequestsPerHour != 42 {
		t.Error("detector not updated")
	}
	stored, err := e.store.GetThresholds(ctx)
	if err != nil || stored.RequestsPerHour != 42 {
		t.Errorf("stored = %+v, %v", stored, err)
	}

	res, err = e.srv.handleSetThresholds(ctx, callRequest(map[string]interface{}{"cost_per_day": -1.0}))
	if err != nil || !res.IsError {
		t.Error("negative threshold should be a tool error")
	}
}

func TestOfflineServerUsesStore(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()

	res, err := e.srv.handleListMetrics(ctx, callRequest(nil))
	if err != nil || !res.IsError {
		t.Error("list_metrics without a tracker should be a tool error")
	}

	var th model.Thresholds
	res, err = e.srv.handleGetThresholds(ctx, callRequest(nil))
	resultJSON(t, res, err, &th)
	if th != model.DefaultThresholds() {
		t.Errorf("thresholds = %+v, want defaults", th)
	}

	res, err = e.srv.handleSetThresholds(ctx, callRequest(map[string]interface{}{"exports_per_hour": 3.0}))
	resultJSON(t, res, err, &th)
	res, err = e.srv.handleGetThresholds(ctx, callRequest(nil))
	resultJSON(t, res, err, &th)
	if th.ExportsPerHour != 3 {
		t.Errorf("stored thresholds not read back: %+v", th)
	}
}

func TestUsageAndAuditTools(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()
	if err := e.store.InsertUsageEvent(ctx, &model.UsageEvent{
		SubjectID: "alice", ResourceID: "n1", RequestID: "r1", Provider: model.ProviderOpenAI,
		Model: "gpt-4o-mini", InputTokens: 3, OutputTokens: 2, Status: model.UsageCompleted,
	}); err != nil {
		t.Fatalf("InsertUsageEvent: %v", err)
	}
	if err := e.store.InsertAuditEntry(ctx, &model.AuditEntry{
		SubjectID: "bob", ResourceType: "board", ResourceID: "b1", Action: "read",
	}); err != nil {
		t.Fatalf("InsertAuditEntry: %v", err)
	}

	var usage struct {
		Summary model.UsageSummary `json:"summary"`
		Events  []model.UsageEvent `json:"events"`
	}
	res, err := e.srv.handleUsageSummary(ctx, callRequest(map[string]interface{}{"subject": "alice"}))
	resultJSON(t, res, err, &usage)
	if usage.Summary.Requests != 1 || usage.Summary.OutputTokens != 2 || len(usage.Events) != 1 {
		t.Errorf("usage = %+v", usage)
	}

	var audit struct {
		Count   int                `json:"count"`
		Entries []model.AuditEntry `json:"entries"`
	}
	res, err = e.srv.handleListAuditEntries(ctx, callRequest(map[string]interface{}{"subject": "bob"}))
	resultJSON(t, res, err, &audit)
	if audit.Count != 1 || audit.Entries[0].Success {
		t.Errorf("audit = %+v", audit)
	}
}

func TestActivityResource(t *testing.T) {
	e := newTestEnv(t, true)
	e.detector.Track(context.Background(), "alice", model.ActivityExport)

	var req mcp.ReadResourceRequest
	req.Params.URI = activityURIPrefix + "alice"
	contents, err := e.srv.handleActivityResource(context.Background(), req)
	if err != nil {
		t.Fatalf("handleActivityResource: %v", err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	var win model.SubjectActivityWindow
	if err := json.Unmarshal([]byte(text), &win); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if win.ExportCount != 1 {
		t.Errorf("window = %+v", win)
	}

	req.Params.URI = activityURIPrefix
	if _, err := e.srv.handleActivityResource(context.Background(), req); err == nil {
		t.Error("expected error for empty subject")
	}
}
