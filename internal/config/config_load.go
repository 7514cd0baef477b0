package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error — defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays RELAYGATE_* environment variables. Env wins over file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RELAYGATE_POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv("RELAYGATE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("RELAYGATE_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if v := os.Getenv("RELAYGATE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = p
		}
	}
	if v := os.Getenv("RELAYGATE_REGISTRY_ENDPOINT"); v != "" {
		cfg.Router.RegistryEndpoint = v
	}
	if v := os.Getenv("RELAYGATE_DEFAULT_AGENT"); v != "" {
		cfg.Router.DefaultAgent = v
	}
	if v := os.Getenv("RELAYGATE_HEARTBEAT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.HeartbeatMinutes = n
		}
	}
	if v := os.Getenv("RELAYGATE_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Endpoint = v
	}
}
