// Package mcp exposes the gateway's operator surface as MCP tools so agents
// can inspect request metrics, activity windows, thresholds, usage and the
// audit ledger.
package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/canvasgate/canvasgate/internal/model"
)

// RequestMetrics is the in-memory request tracker.
type RequestMetrics interface {
	List(subjectID string) []model.RequestMetric
	Purge(olderThan time.Duration) int
}

// ActivityMonitor is the anomaly detector.
type ActivityMonitor interface {
	Snapshot(subjectID string) (model.SubjectActivityWindow, bool)
	Reset(subjectID string) bool
	Thresholds() model.Thresholds
	SetThresholds(th model.Thresholds) error
}

// Ledger reads usage and audit history and persists thresholds.
type Ledger interface {
	SummarizeUsage(ctx context.Context, subjectID string, since time.Time) (*model.UsageSummary, error)
	ListUsageEvents(ctx context.Context, subjectID string, since time.Time, limit int) ([]model.UsageEvent, error)
	ListAuditEntries(ctx context.Context, subjectID string, since time.Time, limit int) ([]model.AuditEntry, error)
	GetThresholds(ctx context.Context) (*model.Thresholds, error)
	SetThresholds(ctx context.Context, th model.Thresholds) error
}

// MCPServer wraps the mcp-go server with the gateway's operator tools and
// resources.
type MCPServer struct {
	metrics RequestMetrics
	monitor ActivityMonitor
	ledger  Ledger
	logger  *slog.Logger
	now     func() time.Time
	server  *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all operator tools and
// resources. metrics and monitor may be nil when the process has no live
// tracker, e.g. the standalone `canvasgate mcp` command; the tools that
// need them then report that they are unavailable.
func NewMCPServer(metrics RequestMetrics, monitor ActivityMonitor, ledger Ledger, version string, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MCPServer{
		metrics: metrics,
		monitor: monitor,
		ledger:  ledger,
		logger:  logger,
		now:     time.Now,
	}

	mcpServer := server.NewMCPServer(
		"canvasgate operator",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin/stdout for clients that launch the
// gateway as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// HTTPHandler returns a Streamable HTTP handler for mounting on the API
// router behind operator authentication.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(false),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
