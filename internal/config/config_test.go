package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Gateway.Port != 18890 {
		t.Fatalf("default port: %d", cfg.Gateway.Port)
	}
	if cfg.Store.Backend != "file" {
		t.Fatalf("default backend: %q", cfg.Store.Backend)
	}
	if !cfg.Queue.Enabled || cfg.Queue.MaxSize != 100 || cfg.Queue.TickMillis != 500 {
		t.Fatalf("default queue: %+v", cfg.Queue)
	}
	if cfg.Router.DefaultAgent != "main" || cfg.Router.Strategy != "auto" {
		t.Fatalf("default router: %+v", cfg.Router)
	}
	if cfg.Scheduler.HeartbeatMinutes != 0 {
		t.Fatalf("heartbeat must default to disabled: %d", cfg.Scheduler.HeartbeatMinutes)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if cfg.Gateway.Port != 18890 {
		t.Fatalf("expected defaults, got %+v", cfg.Gateway)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	// JSON5: comments and trailing commas are allowed.
	content := `{
		// admin listener
		gateway: { host: "127.0.0.1", port: 9000, },
		store: { backend: "sqlite", sqlite_path: "gw.db" },
		queue: { enabled: true, max_size: 25, tick_millis: 100 },
		router: {
			strategy: "auto",
			default_agent: "general",
			content_patterns: [ { pattern: "deploy", agent: "ops" }, ],
		},
		scheduler: { heartbeat_minutes: 30 },
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Host != "127.0.0.1" || cfg.Gateway.Port != 9000 {
		t.Fatalf("gateway: %+v", cfg.Gateway)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.SQLitePath != "gw.db" {
		t.Fatalf("store: %+v", cfg.Store)
	}
	if cfg.Queue.MaxSize != 25 {
		t.Fatalf("queue: %+v", cfg.Queue)
	}
	if len(cfg.Router.ContentPatterns) != 1 || cfg.Router.ContentPatterns[0].Agent != "ops" {
		t.Fatalf("router: %+v", cfg.Router)
	}
	if cfg.Scheduler.HeartbeatMinutes != 30 {
		t.Fatalf("scheduler: %+v", cfg.Scheduler)
	}
}

func TestLoadRejectsBadSyntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{gateway:"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("RELAYGATE_POSTGRES_DSN", "postgres://u:p@localhost/relaygate")
	t.Setenv("RELAYGATE_STORE_BACKEND", "postgres")
	t.Setenv("RELAYGATE_HOST", "10.0.0.5")
	t.Setenv("RELAYGATE_PORT", "7777")
	t.Setenv("RELAYGATE_DEFAULT_AGENT", "fallback")
	t.Setenv("RELAYGATE_HEARTBEAT_MINUTES", "15")
	t.Setenv("RELAYGATE_OTLP_ENDPOINT", "collector:4317")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.PostgresDSN != "postgres://u:p@localhost/relaygate" {
		t.Fatalf("dsn not applied: %q", cfg.Store.PostgresDSN)
	}
	if cfg.Store.Backend != "postgres" {
		t.Fatalf("backend: %q", cfg.Store.Backend)
	}
	if cfg.Gateway.Host != "10.0.0.5" || cfg.Gateway.Port != 7777 {
		t.Fatalf("gateway: %+v", cfg.Gateway)
	}
	if cfg.Router.DefaultAgent != "fallback" {
		t.Fatalf("router: %+v", cfg.Router)
	}
	if cfg.Scheduler.HeartbeatMinutes != 15 {
		t.Fatalf("scheduler: %+v", cfg.Scheduler)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "collector:4317" {
		t.Fatalf("telemetry: %+v", cfg.Telemetry)
	}
}

func TestEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{gateway: {port: 9000}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RELAYGATE_PORT", "9001")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Port != 9001 {
		t.Fatalf("env must win over file: %d", cfg.Gateway.Port)
	}
}

func TestDSNNeverReadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{store: {backend: "postgres", PostgresDSN: "postgres://leak"}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.PostgresDSN != "" {
		t.Fatalf("dsn must come from env only, got %q", cfg.Store.PostgresDSN)
	}
}
