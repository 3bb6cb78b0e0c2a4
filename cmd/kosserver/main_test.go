package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes body to a temporary config file and points
// KOS_CONFIG at it.
func writeConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("KOS_CONFIG", path)
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("KOS_CONFIG", "")
	path, explicit := getConfigPath()
	if path != defaultConfigPath || explicit {
		t.Errorf("getConfigPath() = %q, %v, want %q, false", path, explicit, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("KOS_CONFIG", "/custom/path/config.yaml")
	path, explicit := getConfigPath()
	if path != "/custom/path/config.yaml" || !explicit {
		t.Errorf("getConfigPath() = %q, %v", path, explicit)
	}
}

func TestRun_MissingExplicitConfig(t *testing.T) {
	t.Setenv("KOS_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("run() error = %v, want loading config failure", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	writeConfig(t, `
bulk_load:
  on_error: sometimes
`)
	if err := run(context.Background()); err == nil || !strings.Contains(err.Error(), "bulk_load.on_error") {
		t.Fatalf("run() error = %v, want validation failure", err)
	}
}

func TestRun_StartupAndShutdown(t *testing.T) {
	dataDir := t.TempDir()
	data := "<http://ex/a> <http://www.w3.org/2000/01/rdf-schema#label> \"alpha\" .\n"
	if err := os.WriteFile(filepath.Join(dataDir, "a.nt"), []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	writeConfig(t, `
api:
  host: "127.0.0.1"
  port: 18787
database:
  path: "`+filepath.Join(t.TempDir(), "kos.db")+`"
search:
  index_path: "`+filepath.Join(t.TempDir(), "index")+`"
bulk_load:
  path: "`+dataDir+`"
  on_error: fail
logging:
  level: error
  format: text
  output: stdout
`)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
}

func TestRun_BulkLoadFailPolicy(t *testing.T) {
	dataDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dataDir, "broken.nt"), []byte("<http://ex/a> <http://ex/p> .\n"), 0600); err != nil {
		t.Fatal(err)
	}

	writeConfig(t, `
api:
  port: 18788
bulk_load:
  path: "`+dataDir+`"
  on_error: fail
logging:
  level: error
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil || !strings.Contains(err.Error(), "bulk loading") {
		t.Fatalf("run() error = %v, want bulk load failure", err)
	}
}
