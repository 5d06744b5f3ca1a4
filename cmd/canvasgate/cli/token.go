package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/canvasgate/canvasgate/internal/config"
	"github.com/canvasgate/canvasgate/internal/service"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage subject tokens",
		Long:  "Issue signed bearer tokens for subjects. Tokens are verified with auth.jwt_secret.",
	}

	cmd.AddCommand(newTokenIssueCmd())

	return cmd
}

// ---------- token issue ----------

func newTokenIssueCmd() *cobra.Command {
	var (
		subject  string
		operator bool
		ttl      string
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for a subject",
		Example: `  canvasgate token issue --subject user-123
  canvasgate token issue --subject ops --operator --ttl 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			authSvc, err := newAuthService(cfg)
			if err != nil {
				return err
			}

			role := ""
			if operator {
				role = service.RoleOperator
			}
			d := config.ParseDuration(ttl, config.ParseDuration(cfg.Auth.TokenTTL, 24*time.Hour))
			token, err := authSvc.IssueJWT(cmd.Context(), subject, role, d)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Subject id the token names (required)")
	cmd.Flags().BoolVar(&operator, "operator", false, "Grant the operator role")
	cmd.Flags().StringVar(&ttl, "ttl", "", "Token lifetime (default auth.token_ttl)")
	cmd.MarkFlagRequired("subject")

	return cmd
}
