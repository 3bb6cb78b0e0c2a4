package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
api:
  host: "0.0.0.0"
  port: 8080
  read_only: true
  cors:
    enabled: true
database:
  path: "/tmp/kos.db"
search:
  bind_variable: "s"
  default_limit: 25
bulk_load:
  path: "/data"
  workers: 3
  on_error: "fail"
`)

	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.Port != 8080 || cfg.API.Host != "0.0.0.0" {
		t.Errorf("API = %s:%d, want 0.0.0.0:8080", cfg.API.Host, cfg.API.Port)
	}
	if !cfg.API.ReadOnly || !cfg.API.CORS.Enabled {
		t.Errorf("read_only/cors not applied: %+v", cfg.API)
	}
	if cfg.Database.Path != "/tmp/kos.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Search.BindVariable != "s" || cfg.Search.DefaultLimit != 25 {
		t.Errorf("Search = %+v", cfg.Search)
	}
	if cfg.BulkLoad.OnError != OnErrorFail || cfg.BulkLoad.Workers != 3 {
		t.Errorf("BulkLoad = %+v", cfg.BulkLoad)
	}
	// Untouched keys keep their defaults.
	if cfg.Search.ResultQuery != defaultResultQuery {
		t.Errorf("ResultQuery default lost: %q", cfg.Search.ResultQuery)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml", false); err == nil {
		t.Error("Load() expected error for missing required file, got nil")
	}

	cfg, err := Load("/nonexistent/path/config.yaml", true)
	if err != nil {
		t.Fatalf("Load(optional) error = %v", err)
	}
	if cfg.API.Port != 7878 {
		t.Errorf("API.Port = %d, want default 7878", cfg.API.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path, false); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
bulk_load:
  on_error: "explode"
`)
	_, err := Load(path, false)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "bulk_load.on_error") {
		t.Errorf("error = %v, want mention of bulk_load.on_error", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"port too high", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"body cap", func(c *Config) { c.API.MaxBodyBytes = 0 }, "api.max_body_bytes"},
		{"tls without cert", func(c *Config) { c.API.TLS.Enabled = true }, "api.tls"},
		{"no result query", func(c *Config) { c.Search.ResultQuery = "  " }, "search.result_query"},
		{"no bind variable", func(c *Config) { c.Search.BindVariable = "" }, "search.bind_variable"},
		{"negative limit", func(c *Config) { c.Search.DefaultLimit = -1 }, "search.default_limit"},
		{"zero window", func(c *Config) { c.Search.MaxWindow = 0 }, "search.max_window"},
		{"negative workers", func(c *Config) { c.BulkLoad.Workers = -2 }, "bulk_load.workers"},
		{"zero batch", func(c *Config) { c.BulkLoad.BatchSize = 0 }, "bulk_load.batch_size"},
		{"qos", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true }, "influxdb.url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := Default()
	cfg.API.Timeouts = APITimeoutConfig{Read: 5, Write: 10, Idle: 30}

	if got := cfg.GetReadTimeout(); got != 5*time.Second {
		t.Errorf("GetReadTimeout() = %v", got)
	}
	if got := cfg.GetWriteTimeout(); got != 10*time.Second {
		t.Errorf("GetWriteTimeout() = %v", got)
	}
	if got := cfg.GetIdleTimeout(); got != 30*time.Second {
		t.Errorf("GetIdleTimeout() = %v", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("KOS_API_PORT", "9090")
	t.Setenv("KOS_API_READ_ONLY", "true")
	t.Setenv("KOS_DATABASE_PATH", "/env/kos.db")
	t.Setenv("KOS_BULK_LOAD_PATH", "/env/data")
	t.Setenv("KOS_SEARCH_INDEX_PATH", "/env/index")

	cfg := Default()
	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if !cfg.API.ReadOnly {
		t.Error("API.ReadOnly not overridden")
	}
	if cfg.Database.Path != "/env/kos.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.BulkLoad.Path != "/env/data" {
		t.Errorf("BulkLoad.Path = %q", cfg.BulkLoad.Path)
	}
	if cfg.Search.IndexPath != "/env/index" {
		t.Errorf("Search.IndexPath = %q", cfg.Search.IndexPath)
	}
}

func TestApplyEnvOverrides_InvalidPort(t *testing.T) {
	t.Setenv("KOS_API_PORT", "not-a-number")
	if err := applyEnvOverrides(Default()); err == nil {
		t.Error("expected error for non-numeric KOS_API_PORT")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.API.MaxBodyBytes != 1<<20 {
		t.Errorf("MaxBodyBytes = %d, want 1 MiB", cfg.API.MaxBodyBytes)
	}
	if cfg.Search.BindVariable != "iri" || cfg.Search.DefaultLimit != 10 || cfg.Search.MaxWindow != 10000 {
		t.Errorf("Search defaults = %+v", cfg.Search)
	}
	if cfg.BulkLoad.OnError != OnErrorContinue {
		t.Errorf("BulkLoad.OnError = %q", cfg.BulkLoad.OnError)
	}
	if cfg.Database.Path != "" {
		t.Errorf("Database.Path = %q, want in-memory default", cfg.Database.Path)
	}
}
