package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/canvasgate/canvasgate/internal/acl"
	"github.com/canvasgate/canvasgate/internal/anomaly"
	"github.com/canvasgate/canvasgate/internal/completion"
	"github.com/canvasgate/canvasgate/internal/config"
	"github.com/canvasgate/canvasgate/internal/mcp"
	"github.com/canvasgate/canvasgate/internal/model"
	"github.com/canvasgate/canvasgate/internal/observability"
	"github.com/canvasgate/canvasgate/internal/provider"
	"github.com/canvasgate/canvasgate/internal/ratelimit"
	"github.com/canvasgate/canvasgate/internal/server"
	"github.com/canvasgate/canvasgate/internal/usage"
	"github.com/canvasgate/canvasgate/internal/vault"
)

const banner = `
  ___ __ _ _ ___ ____ _ ___ __ _ __ _| |_ ___
 / __/ _' | '_ \ V / _' (_-</ _' / _' |  _/ -_)
 \___\__,_|_| |_\_/\__,_/__/\__, \__,_|\__\___|
                            |___/
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the canvasgate HTTP gateway",
		Long:  "Start the HTTP server that brokers completions between boards and the configured providers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(ctx context.Context, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, dev)
	slog.SetDefault(logger)

	if !vault.SecureMemory() {
		logger.Warn("plaintext credentials will not be kept in locked memory")
	}
	defer vault.Purge()

	// 1. System of record
	store, err := openConfigStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("store initialized", "driver", store.Driver())

	metrics := observability.NewMetrics()

	// 2. Authentication and access control
	authSvc, err := newAuthService(cfg)
	if err != nil {
		return err
	}
	checker := newChecker(store, logger.With("component", "acl"),
		acl.WithAuditFailureHook(metrics.AuditWriteFailures.Inc))

	// 3. Providers and credentials
	registry := provider.Defaults(providerOptions(cfg))
	credVault, err := newCredentialVault(cfg, store, checker, registry, logger.With("component", "vault"))
	if err != nil {
		return err
	}
	for _, p := range model.Providers {
		if credVault.HasFallback(p) {
			logger.Info("fallback credential configured", "provider", p)
		}
	}

	// 4. Anomaly detection, persisted thresholds win over the config file
	thresholds := cfg.Anomaly.Thresholds
	if stored, err := store.GetThresholds(ctx); err == nil {
		thresholds = *stored
	} else if !errors.Is(err, config.ErrNotFound) {
		logger.Warn("failed to load stored thresholds, using config", "error", err)
	}
	detector := anomaly.New(thresholds,
		anomaly.WithRetention(config.ParseDuration(cfg.Anomaly.Retention, 24*time.Hour)),
		anomaly.WithSinks(anomaly.LogSink(logger), anomaly.CounterSink(metrics.AlertsTotal)),
		anomaly.WithLogger(logger.With("component", "anomaly")),
	)

	// 5. Rate limiting
	var (
		counter ratelimit.Counter
		local   *ratelimit.LocalCounter
	)
	if cfg.Redis.Addr != "" {
		client, err := ratelimit.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer client.Close()
		counter = ratelimit.NewRedisCounter(client, "canvasgate:ratelimit:")
		logger.Info("rate limit counters shared through redis", "addr", cfg.Redis.Addr)
	} else {
		local = ratelimit.NewLocalCounter()
		counter = local
	}
	limiter := ratelimit.New(counter, logger, func(op string) {
		metrics.RateLimitedTotal.WithLabelValues(op).Inc()
	})

	// 6. Ledger, lifecycle tracking and the completion pipeline
	recorder := usage.New(store, logger,
		usage.WithObserver(func(ctx context.Context, e model.UsageEvent) {
			if e.CostEstimate > 0 {
				detector.AccrueCost(ctx, e.SubjectID, e.CostEstimate)
			}
		}),
	)
	tracker := observability.NewTracker(metrics, logger)

	window := config.ParseDuration(cfg.Limits.Window, time.Minute)
	orch := completion.New(completion.Deps{
		Nodes:     store,
		ACL:       checker,
		Limiter:   limiter,
		Vault:     credVault,
		Providers: registry,
		Usage:     recorder,
		Detector:  detector,
		Tracker:   tracker,
		Metrics:   metrics,
		Logger:    logger.With("component", "completion"),
	}, completion.Config{
		CompletionRule:   ratelimit.Rule{Operation: completion.OpComplete, MaxRequests: cfg.Limits.CompletionRequests, Window: window},
		StreamRule:       ratelimit.Rule{Operation: completion.OpStream, MaxRequests: cfg.Limits.StreamRequests, Window: window},
		FlushEveryChunks: cfg.Streaming.FlushEveryChunks,
		FlushInterval:    config.ParseDuration(cfg.Streaming.FlushInterval, completion.DefaultFlushInterval),
		WriteTimeout:     config.ParseDuration(cfg.Streaming.WriteTimeout, completion.DefaultWriteTimeout),
	})

	// 7. Operator tools for agents
	mcpSrv := mcp.NewMCPServer(tracker, detector, store, versionString(), logger.With("component", "mcp"))

	// 8. HTTP server
	srvCfg := server.DefaultConfig()
	srvCfg.Host = cfg.Server.Host
	srvCfg.Port = cfg.Server.Port
	srvCfg.ShutdownTimeout = config.ParseDuration(cfg.Server.ShutdownTimeout, srvCfg.ShutdownTimeout)
	srvCfg.MaxBodySize = config.ParseByteSize(cfg.Server.MaxBodySize, srvCfg.MaxBodySize)
	srvCfg.IPRequestsPerMinute = cfg.Server.IPRequestsPerMinute
	if len(cfg.Server.CORS.Origins) > 0 {
		srvCfg.CORSOrigins = cfg.Server.CORS.Origins
	}

	srv := server.New(srvCfg, server.Deps{
		Store:     store,
		Auth:      authSvc,
		Completer: orch,
		Vault:     credVault,
		ACL:       checker,
		Detector:  detector,
		Tracker:   tracker,
		Metrics:   metrics,
		MCP:       mcpSrv.HTTPHandler(),
		Version:   versionString(),
		Logger:    logger,
	})

	watchThresholds(detector, logger)

	fmt.Printf("→ canvasgate %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Providers:  %v\n", registry.Names())
	fmt.Println()

	cleanup := config.ParseDuration(cfg.Anomaly.CleanupInterval, 5*time.Minute)
	metricsRetention := config.ParseDuration(cfg.Anomaly.MetricsRetention, time.Hour)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return detector.Run(gctx, cleanup) })
	g.Go(func() error { return purgeMetrics(gctx, tracker, metricsRetention, cleanup, logger) })
	if local != nil {
		g.Go(func() error { return local.Run(gctx, cleanup) })
	}
	return g.Wait()
}

// purgeMetrics drops finished request metrics older than retention.
func purgeMetrics(ctx context.Context, tracker *observability.Tracker, retention, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := tracker.Purge(retention); n > 0 {
				logger.Debug("request metrics purged", "removed", n)
			}
		}
	}
}

// watchThresholds re-applies anomaly.thresholds whenever the config file
// changes. Every other key needs a restart.
func watchThresholds(detector *anomaly.Detector, logger *slog.Logger) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		th := detector.Thresholds()
		if err := viper.UnmarshalKey("anomaly.thresholds", &th); err != nil {
			logger.Warn("config reload: invalid anomaly thresholds", "file", e.Name, "error", err)
			return
		}
		if err := detector.SetThresholds(th); err != nil {
			logger.Warn("config reload: thresholds rejected", "file", e.Name, "error", err)
			return
		}
		logger.Info("anomaly thresholds reloaded", "file", e.Name)
	})
	viper.WatchConfig()
}
