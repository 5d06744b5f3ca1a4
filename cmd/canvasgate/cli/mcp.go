package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cgmcp "github.com/canvasgate/canvasgate/internal/mcp"
	"github.com/canvasgate/canvasgate/internal/server/middleware"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the operator MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes the usage ledger,
audit trail and anomaly thresholds as tools for AI agents.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for direct integration with desktop MCP clients.

In HTTP mode, the server listens on the specified port and requires an
operator bearer token. Live request metrics and activity windows belong to a
running gateway and are served by 'canvasgate serve' at /mcp instead.`,
		Example: `  canvasgate mcp                             # stdio mode
  canvasgate mcp --transport http --port 3001  # streamable HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd.Context(), transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(ctx context.Context, transport string, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, false)

	store, err := openConfigStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	mcpSrv := cgmcp.NewMCPServer(nil, nil, store, versionString(), logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		authSvc, err := newAuthService(cfg)
		if err != nil {
			return err
		}
		handler := middleware.Authenticate(authSvc, nil)(middleware.RequireOperator()(mcpSrv.HTTPHandler()))

		mux := http.NewServeMux()
		mux.Handle("/mcp", handler)
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           middleware.RequestID(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		logger.Info("starting MCP HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
