package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/canvasgate/canvasgate/internal/config"
	"github.com/canvasgate/canvasgate/internal/model"
)

// registerTools registers all operator tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Request metrics -----

	srv.AddTool(
		mcp.NewTool("canvasgate_list_metrics",
			mcp.WithDescription(
				"List tracked request metrics (operation, status, duration, tokens, cost) "+
					"held by the running gateway, oldest first. Metrics are kept in memory "+
					"and purged after the retention period.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("subject",
				mcp.Description("Subject id to filter by. Omit for every subject."),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of metrics to return, newest kept (default 100, max 1000)"),
			),
		),
		s.handleListMetrics,
	)

	srv.AddTool(
		mcp.NewTool("canvasgate_purge_metrics",
			mcp.WithDescription("Drop request metrics that finished before now minus older_than."),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("older_than",
				mcp.Description("Duration such as 30m or 2h (default 1h)"),
			),
		),
		s.handlePurgeMetrics,
	)

	// ----- Anomaly detection -----

	srv.AddTool(
		mcp.NewTool("canvasgate_get_activity",
			mcp.WithDescription(
				"Get a subject's anomaly activity window: hourly request count, exports, "+
					"failed authentications, concurrent sessions and daily cost. Failed "+
					"authentications from unknown callers are tracked as ip:<address>.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("subject",
				mcp.Required(),
				mcp.Description("Subject id, or ip:<address>"),
			),
		),
		s.handleGetActivity,
	)

	srv.AddTool(
		mcp.NewTool("canvasgate_reset_activity",
			mcp.WithDescription("Discard a subject's activity window so its counters start from zero."),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("subject",
				mcp.Required(),
				mcp.Description("Subject id, or ip:<address>"),
			),
		),
		s.handleResetActivity,
	)

	srv.AddTool(
		mcp.NewTool("canvasgate_get_thresholds",
			mcp.WithDescription("Get the active anomaly thresholds. A value of 0 disables that check."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleGetThresholds,
	)

	srv.AddTool(
		mcp.NewTool("canvasgate_set_thresholds",
			mcp.WithDescription(
				"Update anomaly thresholds. Omitted fields keep their current value. "+
					"The result is applied immediately and persisted.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithNumber("requests_per_hour", mcp.Description("Completion requests per subject per hour")),
			mcp.WithNumber("exports_per_hour", mcp.Description("Board exports per subject per hour")),
			mcp.WithNumber("cost_per_day", mcp.Description("Estimated USD spend per subject per day")),
			mcp.WithNumber("failed_auth_per_hour", mcp.Description("Rejected tokens per caller per hour")),
			mcp.WithNumber("concurrent_sessions", mcp.Description("Open completion streams per subject")),
		),
		s.handleSetThresholds,
	)

	// ----- Ledgers -----

	srv.AddTool(
		mcp.NewTool("canvasgate_usage_summary",
			mcp.WithDescription(
				"Summarize a subject's usage ledger: request count, failures, input and "+
					"output tokens and estimated cost, plus the most recent events.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("subject",
				mcp.Description("Subject id. Omit to summarize every subject."),
			),
			mcp.WithString("since",
				mcp.Description("RFC 3339 time or a duration counted back from now (default 24h)"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of recent events to include (default 20, max 500)"),
			),
		),
		s.handleUsageSummary,
	)

	srv.AddTool(
		mcp.NewTool("canvasgate_list_audit_entries",
			mcp.WithDescription(
				"List access-control decisions, newest first. Each entry names the subject, "+
					"resource type and id, action and whether access was granted.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("subject",
				mcp.Description("Subject id. Omit for every subject."),
			),
			mcp.WithString("since",
				mcp.Description("RFC 3339 time or a duration counted back from now (default 24h)"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of entries (default 100, max 1000)"),
			),
		),
		s.handleListAuditEntries,
	)
}

// --------------------------------------------------------------------------
// Tool handlers
// --------------------------------------------------------------------------

func (s *MCPServer) handleListMetrics(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	if s.metrics == nil {
		return toolError("Request metrics are only available from a running gateway (/mcp on the serve process).")
	}
	limit := clamp(optionalInt(request, "limit", 100), 1, 1000)
	metrics := s.metrics.List(optionalString(request, "subject"))
	if len(metrics) > limit {
		metrics = metrics[len(metrics)-limit:]
	}
	return successJSON(map[string]interface{}{
		"metrics": metrics,
		"count":   len(metrics),
	})
}

func (s *MCPServer) handlePurgeMetrics(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	if s.metrics == nil {
		return toolError("Request metrics are only available from a running gateway (/mcp on the serve process).")
	}
	olderThan := time.Hour
	if v := optionalString(request, "older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return toolError("older_than must be a positive duration such as 30m, got %q", v)
		}
		olderThan = d
	}
	removed := s.metrics.Purge(olderThan)
	s.logger.Info("request metrics purged via MCP", "removed", removed)
	return successJSON(map[string]interface{}{"removed": removed})
}

func (s *MCPServer) handleGetActivity(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	if s.monitor == nil {
		return toolError("Activity windows are only available from a running gateway (/mcp on the serve process).")
	}
	subject, err := requireString(request, "subject")
	if err != nil {
		return toolError("%v", err)
	}
	win, ok := s.monitor.Snapshot(subject)
	if !ok {
		win = model.SubjectActivityWindow{SubjectID: subject}
	}
	return successJSON(win)
}

func (s *MCPServer) handleResetActivity(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	if s.monitor == nil {
		return toolError("Activity windows are only available from a running gateway (/mcp on the serve process).")
	}
	subject, err := requireString(request, "subject")
	if err != nil {
		return toolError("%v", err)
	}
	existed := s.monitor.Reset(subject)
	s.logger.Info("activity window reset via MCP", "subject_id", subject)
	return successJSON(map[string]interface{}{"subject_id": subject, "reset": existed})
}

func (s *MCPServer) handleGetThresholds(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	th, err := s.currentThresholds(ctx)
	if err != nil {
		return toolError("Failed to read thresholds: %v", err)
	}
	return successJSON(th)
}

func (s *MCPServer) handleSetThresholds(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	th, err := s.currentThresholds(ctx)
	if err != nil {
		return toolError("Failed to read thresholds: %v", err)
	}
	th.RequestsPerHour = int64(request.GetFloat("requests_per_hour", float64(th.RequestsPerHour)))
	th.ExportsPerHour = int64(request.GetFloat("exports_per_hour", float64(th.ExportsPerHour)))
	th.CostPerDay = request.GetFloat("cost_per_day", th.CostPerDay)
	th.FailedAuthPerHour = int64(request.GetFloat("failed_auth_per_hour", float64(th.FailedAuthPerHour)))
	th.ConcurrentSessions = int64(request.GetFloat("concurrent_sessions", float64(th.ConcurrentSessions)))

	if err := th.Validate(); err != nil {
		return toolError("Thresholds must not be negative.")
	}
	if err := s.ledger.SetThresholds(ctx, th); err != nil {
		return toolError("Failed to persist thresholds: %v", err)
	}
	if s.monitor != nil {
		if err := s.monitor.SetThresholds(th); err != nil {
			return toolError("Thresholds rejected: %v", err)
		}
	}
	s.logger.Info("anomaly thresholds updated via MCP")
	return successJSON(th)
}

// currentThresholds prefers the live detector and falls back to the stored
// thresholds, then the defaults.
func (s *MCPServer) currentThresholds(ctx context.Context) (model.Thresholds, error) {
	if s.monitor != nil {
		return s.monitor.Thresholds(), nil
	}
	th, err := s.ledger.GetThresholds(ctx)
	if errors.Is(err, config.ErrNotFound) {
		return model.DefaultThresholds(), nil
	}
	if err != nil {
		return model.Thresholds{}, err
	}
	return *th, nil
}

func (s *MCPServer) handleUsageSummary(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	subject := optionalString(request, "subject")
	since, err := optionalSince(request, "since", s.now(), 24*time.Hour)
	if err != nil {
		return toolError("%v", err)
	}
	limit := clamp(optionalInt(request, "limit", 20), 1, 500)

	summary, err := s.ledger.SummarizeUsage(ctx, subject, since)
	if err != nil {
		return toolError("Failed to summarize usage: %v", err)
	}
	events, err := s.ledger.ListUsageEvents(ctx, subject, since, limit)
	if err != nil {
		return toolError("Failed to list usage events: %v", err)
	}
	if events == nil {
		events = []model.UsageEvent{}
	}
	return successJSON(map[string]interface{}{
		"summary": summary,
		"events":  events,
	})
}

func (s *MCPServer) handleListAuditEntries(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	since, err := optionalSince(request, "since", s.now(), 24*time.Hour)
	if err != nil {
		return toolError("%v", err)
	}
	limit := clamp(optionalInt(request, "limit", 100), 1, 1000)

	entries, err := s.ledger.ListAuditEntries(ctx, optionalString(request, "subject"), since, limit)
	if err != nil {
		return toolError("Failed to list audit entries: %v", err)
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	return successJSON(map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
