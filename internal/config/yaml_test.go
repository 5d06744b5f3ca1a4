package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadYAMLConfigKeepsDefaults(t *testing.T) {
	t.Setenv("CANVASGATE_TEST_SECRET", "from-env")
	path := filepath.Join(t.TempDir(), "canvasgate.yaml")
	body := `
server:
  port: 9090
auth:
  jwt_secret: ${CANVASGATE_TEST_SECRET}
anomaly:
  thresholds:
    requests_per_hour: 500
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("jwt secret not expanded: %q", cfg.Auth.JWTSecret)
	}
	if cfg.Anomaly.Thresholds.RequestsPerHour != 500 {
		t.Errorf("requests_per_hour = %d", cfg.Anomaly.Thresholds.RequestsPerHour)
	}
	if cfg.Anomaly.Thresholds.ExportsPerHour != 10 {
		t.Errorf("unset threshold lost its default: %d", cfg.Anomaly.Thresholds.ExportsPerHour)
	}
	if cfg.Limits.CompletionRequests != 20 || cfg.Streaming.FlushEveryChunks != 10 {
		t.Errorf("unset sections lost defaults: %+v %+v", cfg.Limits, cfg.Streaming)
	}
}

func TestWriteDefaultConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvasgate.yaml")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Providers.Google.BaseURL != DefaultYAMLConfig().Providers.Google.BaseURL {
		t.Errorf("google base url = %q", cfg.Providers.Google.BaseURL)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", time.Second},
		{"750ms", 750 * time.Millisecond},
		{"bogus", time.Second},
		{"-5s", time.Second},
	}
	for _, tt := range tests {
		if got := ParseDuration(tt.in, time.Second); got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 7},
		{"1024", 1024},
		{"512KB", 512 << 10},
		{"1MB", 1 << 20},
		{"2GB", 2 << 30},
		{"10XB", 7},
		{"abc", 7},
	}
	for _, tt := range tests {
		if got := ParseByteSize(tt.in, 7); got != tt.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
