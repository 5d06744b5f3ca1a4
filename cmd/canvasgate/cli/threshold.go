package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canvasgate/canvasgate/internal/config"
	"github.com/canvasgate/canvasgate/internal/model"
)

func newThresholdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "threshold",
		Aliases: []string{"thresholds"},
		Short:   "Show or change the anomaly thresholds",
		Long: `Show or change the anomaly thresholds stored in the database.

Stored thresholds take precedence over anomaly.thresholds in the config file.
A running server reads them at startup; use PUT /api/v1/operator/thresholds to
change a live server.`,
	}

	cmd.AddCommand(newThresholdGetCmd())
	cmd.AddCommand(newThresholdSetCmd())

	return cmd
}

// effectiveThresholds returns the stored thresholds, or the configured ones
// when none are stored.
func effectiveThresholds(cmd *cobra.Command, store *config.Store, cfg *config.YAMLConfig) (model.Thresholds, bool, error) {
	stored, err := store.GetThresholds(cmd.Context())
	switch {
	case err == nil:
		return *stored, true, nil
	case errors.Is(err, config.ErrNotFound):
		return cfg.Anomaly.Thresholds, false, nil
	default:
		return model.Thresholds{}, false, fmt.Errorf("get thresholds: %w", err)
	}
}

// ---------- threshold get ----------

func newThresholdGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the effective thresholds as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openConfigStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			th, stored, err := effectiveThresholds(cmd, store, cfg)
			if err != nil {
				return err
			}
			source := "config"
			if stored {
				source = "store"
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"source": source, "thresholds": th})
		},
	}
}

// ---------- threshold set ----------

func newThresholdSetCmd() *cobra.Command {
	var (
		requests int64
		exports  int64
		cost     float64
		failed   int64
		sessions int64
	)

	cmd := &cobra.Command{
		Use:     "set",
		Short:   "Change one or more thresholds",
		Example: `  canvasgate threshold set --requests-per-hour 500 --cost-per-day 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openConfigStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			th, _, err := effectiveThresholds(cmd, store, cfg)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("requests-per-hour") {
				th.RequestsPerHour = requests
			}
			if flags.Changed("exports-per-hour") {
				th.ExportsPerHour = exports
			}
			if flags.Changed("cost-per-day") {
				th.CostPerDay = cost
			}
			if flags.Changed("failed-auth-per-hour") {
				th.FailedAuthPerHour = failed
			}
			if flags.Changed("concurrent-sessions") {
				th.ConcurrentSessions = sessions
			}
			if err := th.Validate(); err != nil {
				return err
			}

			if err := store.SetThresholds(cmd.Context(), th); err != nil {
				return fmt.Errorf("set thresholds: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), th)
		},
	}

	cmd.Flags().Int64Var(&requests, "requests-per-hour", 0, "Requests per subject per hour")
	cmd.Flags().Int64Var(&exports, "exports-per-hour", 0, "Exports per subject per hour")
	cmd.Flags().Float64Var(&cost, "cost-per-day", 0, "Estimated spend per subject per day (USD)")
	cmd.Flags().Int64Var(&failed, "failed-auth-per-hour", 0, "Failed authentications per client per hour")
	cmd.Flags().Int64Var(&sessions, "concurrent-sessions", 0, "Concurrent streaming sessions per subject")

	return cmd
}
