package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newUsageCmd() *cobra.Command {
	var (
		subject    string
		since      string
		events     bool
		audit      bool
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize the usage ledger",
		Long:  "Summarize recorded usage, or list individual usage events or audit entries.",
		Example: `  canvasgate usage --since 24h
  canvasgate usage --subject user-123 --events --limit 20
  canvasgate usage --subject user-123 --audit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(since)
			if err != nil || d <= 0 {
				return fmt.Errorf("invalid --since %q", since)
			}
			from := time.Now().Add(-d)

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openConfigStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			switch {
			case audit:
				entries, err := store.ListAuditEntries(ctx, subject, from, limit)
				if err != nil {
					return fmt.Errorf("list audit entries: %w", err)
				}
				if jsonOutput {
					return printJSON(out, entries)
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tSUBJECT\tACTION\tRESOURCE\tOUTCOME")
				for _, e := range entries {
					outcome := "denied"
					if e.Success {
						outcome = "allowed"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s/%s\t%s\n",
						e.CreatedAt.Format(time.RFC3339), e.SubjectID, e.Action, e.ResourceType, e.ResourceID, outcome)
				}
				return w.Flush()

			case events:
				list, err := store.ListUsageEvents(ctx, subject, from, limit)
				if err != nil {
					return fmt.Errorf("list usage events: %w", err)
				}
				if jsonOutput {
					return printJSON(out, list)
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tSUBJECT\tPROVIDER\tMODEL\tIN\tOUT\tCOST\tSTATUS")
				for _, e := range list {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%.4f\t%s\n",
						e.CreatedAt.Format(time.RFC3339), e.SubjectID, e.Provider, e.Model,
						e.InputTokens, e.OutputTokens, e.CostEstimate, e.Status)
				}
				return w.Flush()
			}

			sum, err := store.SummarizeUsage(ctx, subject, from)
			if err != nil {
				return fmt.Errorf("summarize usage: %w", err)
			}
			if jsonOutput {
				return printJSON(out, sum)
			}
			who := subject
			if who == "" {
				who = "all subjects"
			}
			fmt.Fprintf(out, "Usage for %s since %s\n", who, from.Format(time.RFC3339))
			fmt.Fprintf(out, "  Requests:      %d (%d failed)\n", sum.Requests, sum.Failed)
			fmt.Fprintf(out, "  Input tokens:  %d\n", sum.InputTokens)
			fmt.Fprintf(out, "  Output tokens: %d\n", sum.OutputTokens)
			fmt.Fprintf(out, "  Cost estimate: $%.4f\n", sum.CostEstimate)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Restrict to one subject (default: all)")
	cmd.Flags().StringVar(&since, "since", "24h", "Look-back window")
	cmd.Flags().BoolVar(&events, "events", false, "List usage events instead of a summary")
	cmd.Flags().BoolVar(&audit, "audit", false, "List audit entries instead of a summary")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows when listing")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagsMutuallyExclusive("events", "audit")

	return cmd
}
