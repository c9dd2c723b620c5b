package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address %q", cfg.Server.Address)
	}
	if cfg.Agent.MaxTurns != 5 || cfg.Agent.MaxTokens != 4096 {
		t.Fatalf("unexpected agent defaults: %+v", cfg.Agent)
	}
	if cfg.Prompt.MaxBytes != 24*1024 || cfg.Prompt.MaxLogs != 50 || cfg.Prompt.MaxTickets != 5 {
		t.Fatalf("unexpected prompt defaults: %+v", cfg.Prompt)
	}
	if cfg.Workers.PoolSize != 4 {
		t.Fatalf("unexpected worker defaults: %+v", cfg.Workers)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
database:
  host: db.internal
  port: 5433
  name: triage_prod
  user: svc
  password: hunter2
  sslMode: require
agent:
  model: claude-sonnet-4-5-20250929
  maxTurns: 8
vector:
  endpoint: http://weaviate.internal:8080
clients:
  tracker:
    ticketPattern: "[A-Z]+-\\d+"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("file value not applied: %q", cfg.Server.Address)
	}
	if cfg.Agent.MaxTurns != 8 {
		t.Fatalf("agent.maxTurns not applied: %d", cfg.Agent.MaxTurns)
	}
	if cfg.Vector.Endpoint != "http://weaviate.internal:8080" {
		t.Fatalf("vector endpoint not applied: %q", cfg.Vector.Endpoint)
	}
	// Untouched sections keep their defaults.
	if cfg.Checkout.FetchTimeout != 60*time.Second {
		t.Fatalf("checkout defaults lost: %+v", cfg.Checkout)
	}

	want := "host=db.internal port=5433 user=svc password=hunter2 dbname=triage_prod sslmode=require"
	if got := cfg.Database.DSN(); got != want {
		t.Fatalf("DSN mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  host: db.internal
`)
	t.Setenv("TRIAGE_DB_HOST", "db-override.internal")
	t.Setenv("TRIAGE_AGENT_MAX_TURNS", "3")
	t.Setenv("TRIAGE_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Host != "db-override.internal" {
		t.Fatalf("env override not applied: %q", cfg.Database.Host)
	}
	if cfg.Agent.MaxTurns != 3 {
		t.Fatalf("env override not applied: %d", cfg.Agent.MaxTurns)
	}
	if !cfg.Logging.JSON {
		t.Fatal("log format override not applied")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadRejectsInvalidBounds(t *testing.T) {
	path := writeConfig(t, `
agent:
  maxTurns: 0
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for non-positive maxTurns")
	}
}
