package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/canvasgate/canvasgate/internal/provider"
	"github.com/canvasgate/canvasgate/internal/vault"
)

func newCredentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credential",
		Aliases: []string{"cred"},
		Short:   "Manage provider credentials",
		Long:    "Add, list, and revoke the encrypted provider API keys owned by a subject.",
	}

	cmd.AddCommand(newCredentialAddCmd())
	cmd.AddCommand(newCredentialListCmd())
	cmd.AddCommand(newCredentialRevokeCmd())

	return cmd
}

// ---------- credential add ----------

func newCredentialAddCmd() *cobra.Command {
	var (
		owner    string
		prov     string
		nickname string
		noVerify bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Encrypt and store a provider API key",
		Long:  "Store a provider API key for a subject. The key is read from the terminal (or stdin) and never echoed.",
		Example: `  canvasgate credential add --owner user-123 --provider openai --nickname personal
  echo "$KEY" | canvasgate credential add --owner user-123 --provider anthropic`,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			defer vault.Purge()

			var verifier vault.Verifier
			if !noVerify {
				verifier = provider.Defaults(providerOptions(cfg))
			}
			v, err := newCredentialVault(cfg, store, newChecker(store, logger), verifier, logger)
			if err != nil {
				return err
			}

			secret, err := readSecret("API key: ", cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cred, err := v.AddCredential(cmd.Context(), owner, vault.AddRequest{
				Provider: prov,
				Nickname: nickname,
				Secret:   secret,
			})
			if err != nil {
				return fmt.Errorf("add credential: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Credential stored:")
			fmt.Fprintf(out, "  ID:       %s\n", cred.ID)
			fmt.Fprintf(out, "  Provider: %s\n", cred.Provider)
			fmt.Fprintf(out, "  Key:      ****%s\n", cred.Last4)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owning subject id (required)")
	cmd.Flags().StringVar(&prov, "provider", "", "Provider: openai, anthropic or google (required)")
	cmd.Flags().StringVar(&nickname, "nickname", "", "Human-readable label")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip the provider liveness check")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("provider")

	return cmd
}

// ---------- credential list ----------

func newCredentialListCmd() *cobra.Command {
	var (
		owner      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a subject's credentials",
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

			creds, err := store.ListCredentials(cmd.Context(), owner)
			if err != nil {
				return fmt.Errorf("list credentials: %w", err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), creds)
			}
			if len(creds) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No credentials found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tNICKNAME\tKEY\tSTATUS\tCREATED")
			for _, c := range creds {
				fmt.Fprintf(w, "%s\t%s\t%s\t****%s\t%s\t%s\n",
					c.ID, c.Provider, c.Nickname, c.Last4, c.Status, c.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owning subject id (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("owner")

	return cmd
}

// ---------- credential revoke ----------

func newCredentialRevokeCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "revoke <credential-id>",
		Short: "Revoke a credential",
		Long:  "Mark a credential revoked. Revoked credentials are kept for the audit trail but never used again.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			v, err := newCredentialVault(cfg, store, newChecker(store, logger), nil, logger)
			if err != nil {
				return err
			}
			if err := v.RevokeCredential(cmd.Context(), owner, args[0]); err != nil {
				return fmt.Errorf("revoke credential: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Credential %s revoked.\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owning subject id (required)")
	cmd.MarkFlagRequired("owner")

	return cmd
}
