package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/canvasgate/canvasgate/internal/model"
)

const (
	thresholdsURI     = "canvasgate://thresholds"
	activityURIPrefix = "canvasgate://activity/"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// canvasgate://thresholds: active anomaly thresholds
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			thresholdsURI,
			"Anomaly Thresholds",
			mcp.WithResourceDescription("The limits above which the anomaly detector raises alerts."),
			mcp.WithMIMEType("application/json"),
		),
		s.handleThresholdsResource,
	)

	// -------------------------------------------------------------------
	// canvasgate://activity/{subject}: one subject's window
	// -------------------------------------------------------------------
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			activityURIPrefix+"{subject}",
			"Subject Activity",
			mcp.WithTemplateDescription("A subject's current anomaly activity window."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleActivityResource,
	)
}

func (s *MCPServer) handleThresholdsResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	th, err := s.currentThresholds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read thresholds: %w", err)
	}
	return jsonResource(thresholdsURI, th)
}

func (s *MCPServer) handleActivityResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	subject := strings.TrimPrefix(uri, activityURIPrefix)
	if subject == "" || subject == uri {
		return nil, fmt.Errorf("invalid activity URI %q: expected %s{subject}", uri, activityURIPrefix)
	}
	if s.monitor == nil {
		return nil, fmt.Errorf("activity windows are only available from a running gateway")
	}
	win, ok := s.monitor.Snapshot(subject)
	if !ok {
		win = model.SubjectActivityWindow{SubjectID: subject}
	}
	return jsonResource(uri, win)
}

func jsonResource(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
