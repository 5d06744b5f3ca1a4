package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/canvasgate/canvasgate/internal/acl"
	"github.com/canvasgate/canvasgate/internal/config"
	"github.com/canvasgate/canvasgate/internal/model"
	"github.com/canvasgate/canvasgate/internal/observability"
	"github.com/canvasgate/canvasgate/internal/provider"
	"github.com/canvasgate/canvasgate/internal/service"
	"github.com/canvasgate/canvasgate/internal/vault"
)

const defaultProviderTimeout = 120 * time.Second

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// fallbackKeyEnv maps the provider fallback keys to their short variable
// names, e.g. CANVASGATE_OPENAI_API_KEY.
var fallbackKeyEnv = map[string]string{
	"providers.openai.api_key":    envPrefix + "_OPENAI_API_KEY",
	"providers.anthropic.api_key": envPrefix + "_ANTHROPIC_API_KEY",
	"providers.google.api_key":    envPrefix + "_GOOGLE_API_KEY",
}

// setDefaults registers every key of the default configuration with v so
// that AutomaticEnv can override keys the config file does not mention.
func setDefaults(v *viper.Viper) {
	data, err := yaml.Marshal(config.DefaultYAMLConfig())
	if err != nil {
		return
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	flatten("", tree, v.SetDefault)

	for key, env := range fallbackKeyEnv {
		v.BindEnv(key, env, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
	v.BindEnv("redis.password")
}

func flatten(prefix string, tree map[string]any, set func(string, any)) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			flatten(key, sub, set)
			continue
		}
		set(key, val)
	}
}

// resolveDataDir returns the data directory from --data-dir flag,
// store.data_dir (CANVASGATE_STORE_DATA_DIR), or ~/.canvasgate as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if dir := viper.GetString("store.data_dir"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".canvasgate")
}

// loadConfig decodes the effective configuration: defaults, then the config
// file, then the environment.
func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Store.Driver == "" || cfg.Store.Driver == config.DriverSQLite {
		cfg.Store.DataDir = resolveDataDir()
	}
	return cfg, nil
}

// openConfigStore opens the store named by cfg.
func openConfigStore(cfg *config.YAMLConfig) (*config.Store, error) {
	store, err := config.NewStore(cfg.Store.Options())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func newLogger(cfg *config.YAMLConfig, debug bool) *slog.Logger {
	level := observability.ParseLevel(cfg.Logging.Level)
	if debug {
		level = slog.LevelDebug
	}
	return observability.NewLogger(os.Stderr, level, cfg.Logging.Format)
}

func newAuthService(cfg *config.YAMLConfig) (*service.AuthService, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is not set (use %s_AUTH_JWT_SECRET)", envPrefix)
	}
	return service.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer), nil
}

// providerOptions builds the per-provider endpoints from cfg.
func providerOptions(cfg *config.YAMLConfig) map[model.Provider]provider.Options {
	client := &http.Client{Timeout: config.ParseDuration(cfg.Providers.Timeout, defaultProviderTimeout)}
	opts := make(map[model.Provider]provider.Options, len(model.Providers))
	for _, p := range model.Providers {
		opts[p] = provider.Options{
			BaseURL:    cfg.Providers.For(p).BaseURL,
			HTTPClient: client,
		}
	}
	return opts
}

// newCredentialVault opens the vault with the configured master key and
// installs the process-wide fallback keys. verifier may be nil.
func newCredentialVault(cfg *config.YAMLConfig, store *config.Store, authz vault.Authorizer, verifier vault.Verifier, logger *slog.Logger) (*vault.Vault, error) {
	key, err := vault.ParseMasterKey(cfg.Vault.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("vault.master_key: %w (use %s_VAULT_MASTER_KEY or 'canvasgate config init')", err, envPrefix)
	}
	cipher, err := vault.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	opts := []vault.Option{vault.WithLogger(logger)}
	if cfg.Vault.VerifyOnAdd && verifier != nil {
		opts = append(opts, vault.WithVerifier(verifier))
	}
	v := vault.New(store, cipher, authz, opts...)
	for _, p := range model.Providers {
		if k := cfg.Providers.For(p).APIKey; k != "" {
			v.SetFallback(p, k)
		}
	}
	return v, nil
}

func newChecker(store *config.Store, logger *slog.Logger, opts ...acl.Option) *acl.Checker {
	return acl.New(store, store, logger, opts...)
}

// readSecret reads a secret from the terminal without echo, or one line
// from in when it is not a terminal.
func readSecret(prompt string, in io.Reader, out io.Writer) ([]byte, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return nil, fmt.Errorf("read secret: %w", err)
		}
		return b, nil
	}
	line, err := bufio.NewReader(in).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	line = []byte(strings.TrimRight(string(line), "\r\n"))
	if len(line) == 0 {
		return nil, errors.New("no secret provided")
	}
	return line, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
