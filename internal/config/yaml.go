package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/canvasgate/canvasgate/internal/model"
)

// YAMLConfig represents the top-level canvasgate configuration file.
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Vault     VaultConfig     `yaml:"vault" mapstructure:"vault"`
	Providers ProvidersConfig `yaml:"providers" mapstructure:"providers"`
	Limits    LimitsConfig    `yaml:"limits" mapstructure:"limits"`
	Streaming StreamingConfig `yaml:"streaming" mapstructure:"streaming"`
	Anomaly   AnomalyConfig   `yaml:"anomaly" mapstructure:"anomaly"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host                string     `yaml:"host" mapstructure:"host"`
	Port                int        `yaml:"port" mapstructure:"port"`
	MaxBodySize         string     `yaml:"max_body_size" mapstructure:"max_body_size"`
	ShutdownTimeout     string     `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	IPRequestsPerMinute int        `yaml:"ip_requests_per_minute" mapstructure:"ip_requests_per_minute"`
	CORS                CORSConfig `yaml:"cors" mapstructure:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins" mapstructure:"origins"`
}

// AuthConfig controls subject token verification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer" mapstructure:"jwt_issuer"`
	TokenTTL  string `yaml:"token_ttl" mapstructure:"token_ttl"`
}

// StoreConfig selects the system-of-record database.
type StoreConfig struct {
	Driver  string `yaml:"driver" mapstructure:"driver"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
}

// Options converts the section into StoreOptions.
func (c StoreConfig) Options() StoreOptions {
	return StoreOptions{Driver: c.Driver, DSN: c.DSN, DataDir: c.DataDir}
}

// VaultConfig controls credential encryption.
type VaultConfig struct {
	MasterKey   string `yaml:"master_key" mapstructure:"master_key"`
	VerifyOnAdd bool   `yaml:"verify_on_add" mapstructure:"verify_on_add"`
}

// ProvidersConfig holds per-provider endpoints and fallback keys.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai" mapstructure:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Google    ProviderConfig `yaml:"google" mapstructure:"google"`
	Timeout   string         `yaml:"timeout" mapstructure:"timeout"`
}

// ProviderConfig configures a single provider. APIKey is the process-wide
// fallback credential and is normally supplied through the environment.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string `yaml:"api_key,omitempty" mapstructure:"api_key"`
}

// For returns the section for provider p.
func (c ProvidersConfig) For(p model.Provider) ProviderConfig {
	switch p {
	case model.ProviderOpenAI:
		return c.OpenAI
	case model.ProviderAnthropic:
		return c.Anthropic
	case model.ProviderGoogle:
		return c.Google
	}
	return ProviderConfig{}
}

// LimitsConfig sets the per-subject completion rate limits.
type LimitsConfig struct {
	CompletionRequests int    `yaml:"completion_requests" mapstructure:"completion_requests"`
	StreamRequests     int    `yaml:"stream_requests" mapstructure:"stream_requests"`
	Window             string `yaml:"window" mapstructure:"window"`
}

// StreamingConfig controls partial-output persistence during streams.
type StreamingConfig struct {
	FlushEveryChunks int    `yaml:"flush_every_chunks" mapstructure:"flush_every_chunks"`
	FlushInterval    string `yaml:"flush_interval" mapstructure:"flush_interval"`
	WriteTimeout     string `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// AnomalyConfig controls the anomaly detector.
type AnomalyConfig struct {
	Thresholds       model.Thresholds `yaml:"thresholds" mapstructure:"thresholds"`
	Retention        string           `yaml:"retention" mapstructure:"retention"`
	CleanupInterval  string           `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
	MetricsRetention string           `yaml:"metrics_retention" mapstructure:"metrics_retention"`
}

// RedisConfig enables shared rate-limit counters when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
// Missing keys keep their defaults.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			MaxBodySize:         "1MB",
			ShutdownTimeout:     "30s",
			IPRequestsPerMinute: 300,
			CORS: CORSConfig{
				Origins: []string{"http://localhost:3000"},
			},
		},
		Auth: AuthConfig{
			JWTIssuer: "canvasgate",
			TokenTTL:  "24h",
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
		},
		Vault: VaultConfig{
			VerifyOnAdd: true,
		},
		Providers: ProvidersConfig{
			OpenAI:    ProviderConfig{BaseURL: "https://api.openai.com/v1"},
			Anthropic: ProviderConfig{BaseURL: "https://api.anthropic.com/v1"},
			Google:    ProviderConfig{BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai"},
			Timeout:   "120s",
		},
		Limits: LimitsConfig{
			CompletionRequests: 20,
			StreamRequests:     10,
			Window:             "1m",
		},
		Streaming: StreamingConfig{
			FlushEveryChunks: 10,
			FlushInterval:    "750ms",
			WriteTimeout:     "2s",
		},
		Anomaly: AnomalyConfig{
			Thresholds:       model.DefaultThresholds(),
			Retention:        "24h",
			CleanupInterval:  "5m",
			MetricsRetention: "1h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ParseDuration parses s, returning def when s is empty or malformed.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ParseByteSize parses sizes such as "512KB", "1MB" or plain byte counts,
// returning def when s is empty or malformed.
func ParseByteSize(s string, def int64) int64 {
	if s == "" {
		return def
	}
	var (
		n    int64
		unit string
	)
	if _, err := fmt.Sscanf(s, "%d%s", &n, &unit); err != nil {
		if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
			return def
		}
	}
	switch unit {
	case "", "B":
	case "KB":
		n <<= 10
	case "MB":
		n <<= 20
	case "GB":
		n <<= 30
	default:
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}
