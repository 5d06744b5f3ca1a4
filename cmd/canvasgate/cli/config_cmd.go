package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/canvasgate/canvasgate/internal/config"
	"github.com/canvasgate/canvasgate/internal/vault"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage canvasgate configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		path    string
		secrets bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default canvasgate.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), path, force, secrets)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	cmd.Flags().StringVarP(&path, "output", "o", "canvasgate.yaml", "Path of the file to write")
	cmd.Flags().BoolVar(&secrets, "generate-secrets", true, "Fill in a random JWT secret and vault master key")

	return cmd
}

func runConfigInit(out io.Writer, path string, force, secrets bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if !secrets {
		if err := config.WriteDefaultConfig(path); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	} else {
		cfg := config.DefaultYAMLConfig()
		var err error
		if cfg.Auth.JWTSecret, err = vault.GenerateMasterKey(); err != nil {
			return err
		}
		if cfg.Vault.MasterKey, err = vault.GenerateMasterKey(); err != nil {
			return err
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	fmt.Fprintf(out, "Created %s\n", path)
	if secrets {
		fmt.Fprintln(out, "The file holds the JWT secret and vault master key; keep it private.")
	}
	fmt.Fprintln(out, "Set provider fallback keys through CANVASGATE_OPENAI_API_KEY and friends, then run 'canvasgate serve'.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout())
		},
	}

	return cmd
}

func runConfigShow(out io.Writer) error {
	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		fmt.Fprintf(out, "Config file: %s\n", configFile)
	} else {
		fmt.Fprintln(out, "Config file: (none found, using defaults)")
	}
	fmt.Fprintln(out)

	settings := make(map[string]any)
	for _, key := range viper.AllKeys() {
		settings[key] = viper.Get(key)
	}
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := settings[key]
		if isSecretKey(key) && fmt.Sprint(value) != "" {
			value = "[REDACTED]"
		}
		fmt.Fprintf(out, "  %s: %v\n", key, value)
	}
	return nil
}

func isSecretKey(key string) bool {
	for _, s := range []string{"secret", "master_key", "api_key", "password", "dsn"} {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}
