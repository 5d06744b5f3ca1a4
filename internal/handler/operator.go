package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/canvasgate/canvasgate/internal/apierr"
	"github.com/canvasgate/canvasgate/internal/model"
	"github.com/canvasgate/canvasgate/internal/server/middleware"
)

// RequestMetrics is the in-memory request tracker.
type RequestMetrics interface {
	List(subjectID string) []model.RequestMetric
	Purge(olderThan time.Duration) int
}

// ActivityMonitor is the anomaly detector's operator surface.
type ActivityMonitor interface {
	Snapshot(subjectID string) (model.SubjectActivityWindow, bool)
	Reset(subjectID string) bool
	Thresholds() model.Thresholds
	SetThresholds(th model.Thresholds) error
}

// OperatorLedger reads usage and audit history and persists thresholds.
type OperatorLedger interface {
	SummarizeUsage(ctx context.Context, subjectID string, since time.Time) (*model.UsageSummary, error)
	ListUsageEvents(ctx context.Context, subjectID string, since time.Time, limit int) ([]model.UsageEvent, error)
	ListAuditEntries(ctx context.Context, subjectID string, since time.Time, limit int) ([]model.AuditEntry, error)
	SetThresholds(ctx context.Context, th model.Thresholds) error
}

// OperatorHandler serves request metrics, activity windows, thresholds and
// usage. Subjects see their own data; the operator role may name anyone.
type OperatorHandler struct {
	metrics RequestMetrics
	monitor ActivityMonitor
	ledger  OperatorLedger
	logger  *slog.Logger
	now     func() time.Time
}

// NewOperatorHandler creates a new OperatorHandler.
func NewOperatorHandler(metrics RequestMetrics, monitor ActivityMonitor, ledger OperatorLedger, logger *slog.Logger) *OperatorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OperatorHandler{metrics: metrics, monitor: monitor, ledger: ledger, logger: logger, now: time.Now}
}

// targetSubject resolves the ?subject= parameter. Naming another subject
// requires the operator role.
func targetSubject(r *http.Request) (string, error) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		return "", apierr.AuthenticationRequired()
	}
	subject := queryString(r, "subject")
	if subject == "" || subject == p.ID {
		return p.ID, nil
	}
	if !p.IsOperator() {
		return "", apierr.AccessDenied("subject", "")
	}
	return subject, nil
}

// ListMetrics returns tracked request metrics, oldest first.
// GET /api/v1/operator/metrics
func (h *OperatorHandler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	subject, err := targetSubject(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewListResponse(h.metrics.List(subject)))
}

// PurgeMetrics drops finished metrics older than ?older_than= (default 1h).
// POST /api/v1/operator/metrics/purge
func (h *OperatorHandler) PurgeMetrics(w http.ResponseWriter, r *http.Request) {
	olderThan, err := queryDuration(r, "older_than", time.Hour)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n := h.metrics.Purge(olderThan)
	h.logger.Info("request metrics purged", "subject_id", middleware.SubjectID(r.Context()), "removed", n)
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": n})
}

// GetActivity returns a subject's activity window.
// GET /api/v1/operator/activity
func (h *OperatorHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	subject, err := targetSubject(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	win, ok := h.monitor.Snapshot(subject)
	if !ok {
		win = model.SubjectActivityWindow{SubjectID: subject}
	}
	writeJSON(w, http.StatusOK, win)
}

// ResetActivity discards a subject's activity window. Subjects may reset
// their own counters.
// POST /api/v1/operator/activity/reset
func (h *OperatorHandler) ResetActivity(w http.ResponseWriter, r *http.Request) {
	subject, err := targetSubject(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	existed := h.monitor.Reset(subject)
	h.logger.Info("activity window reset", "subject_id", subject, "by", middleware.SubjectID(r.Context()))
	writeJSON(w, http.StatusOK, map[string]interface{}{"subject_id": subject, "reset": existed})
}

// GetThresholds returns the active anomaly thresholds.
// GET /api/v1/operator/thresholds
func (h *OperatorHandler) GetThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Thresholds())
}

// SetThresholds replaces and persists the anomaly thresholds. Operator only.
// PUT /api/v1/operator/thresholds
func (h *OperatorHandler) SetThresholds(w http.ResponseWriter, r *http.Request) {
	var th model.Thresholds
	if err := readJSON(r, &th); err != nil {
		writeError(w, r, err)
		return
	}
	if err := th.Validate(); err != nil {
		writeError(w, r, apierr.Validation("thresholds", "must not be negative"))
		return
	}
	if err := h.ledger.SetThresholds(r.Context(), th); err != nil {
		writeError(w, r, apierr.Internal(err))
		return
	}
	if err := h.monitor.SetThresholds(th); err != nil {
		writeError(w, r, apierr.Internal(err))
		return
	}
	h.logger.Info("anomaly thresholds updated", "subject_id", middleware.SubjectID(r.Context()))
	writeJSON(w, http.StatusOK, th)
}

// usageResponse is a usage summary with the most recent events.
type usageResponse struct {
	Summary *model.UsageSummary `json:"summary"`
	Events  []model.UsageEvent  `json:"events"`
}

// GetUsage summarizes a subject's usage since ?since= (default 24h).
// GET /api/v1/operator/usage
func (h *OperatorHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	subject, err := targetSubject(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	now := h.now()
	since, err := queryTime(r, "since", now, now.Add(-24*time.Hour))
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := h.ledger.SummarizeUsage(r.Context(), subject, since)
	if err != nil {
		writeError(w, r, apierr.Internal(err))
		return
	}
	events, err := h.ledger.ListUsageEvents(r.Context(), subject, since, clampInt(queryInt(r, "limit", 50), 1, 500))
	if err != nil {
		writeError(w, r, apierr.Internal(err))
		return
	}
	if events == nil {
		events = []model.UsageEvent{}
	}
	writeJSON(w, http.StatusOK, usageResponse{Summary: summary, Events: events})
}

// ListAudit returns access decisions for a subject, newest first.
// GET /api/v1/operator/audit
func (h *OperatorHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	subject, err := targetSubject(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	now := h.now()
	since, err := queryTime(r, "since", now, now.Add(-24*time.Hour))
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := h.ledger.ListAuditEntries(r.Context(), subject, since, clampInt(queryInt(r, "limit", 100), 1, 1000))
	if err != nil {
		writeError(w, r, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, model.NewListResponse(entries))
}
