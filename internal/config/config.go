// Package config holds the gateway configuration: a JSON5 file overlaid
// with RELAYGATE_* environment variables. Secrets (the Postgres DSN) come
// from the environment only and are never written to the file.
package config

// Config is the root configuration for the RelayGate control plane.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Store     StoreConfig     `json:"store"`
	Queue     QueueConfig     `json:"queue"`
	Runtime   RuntimeConfig   `json:"runtime"`
	Router    RouterConfig    `json:"router"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// GatewayConfig configures the admin HTTP/WS server and bot identity.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// RateLimitRPS bounds admin API requests per client IP.
	RateLimitRPS float64 `json:"rate_limit_rps,omitempty"`

	// Bot identity, used by the activation gate to detect mentions.
	BotID          string `json:"bot_id,omitempty"`
	BotUsername    string `json:"bot_username,omitempty"`
	BotDisplayName string `json:"bot_display_name,omitempty"`

	// NotifyTarget is the default "channelType:channelID:chatID" for
	// scheduler notifications with no explicit target.
	NotifyTarget string `json:"notify_target,omitempty"`
}

// StoreConfig selects the session store backend.
// PostgresDSN is NEVER read from the file — env RELAYGATE_POSTGRES_DSN only.
type StoreConfig struct {
	Backend     string `json:"backend"` // "file" (default), "sqlite", "postgres"
	FileDir     string `json:"file_dir,omitempty"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
	PostgresDSN string `json:"-"`
}

// QueueConfig tunes the admission queue manager.
type QueueConfig struct {
	Enabled      bool `json:"enabled"`
	MaxSize      int  `json:"max_size"`
	TickMillis   int  `json:"tick_millis"`
	BusBufferLen int  `json:"bus_buffer,omitempty"`
}

// RuntimeConfig points at the agent runtime consuming admitted messages.
// The control plane treats it as an opaque asynchronous handler.
type RuntimeConfig struct {
	Endpoint       string `json:"endpoint,omitempty"` // e.g. "http://localhost:9090/process"
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// RouterConfig tunes agent routing.
type RouterConfig struct {
	Strategy         string           `json:"strategy"` // "auto" (default) or "static"
	DefaultAgent     string           `json:"default_agent"`
	RegistryEndpoint string           `json:"registry_endpoint,omitempty"`
	ContentPatterns  []ContentPattern `json:"content_patterns,omitempty"`
}

// ContentPattern maps a message-content pattern to an agent name.
type ContentPattern struct {
	Pattern string `json:"pattern"`
	Agent   string `json:"agent"`
}

// SchedulerConfig tunes the heartbeat.
type SchedulerConfig struct {
	// HeartbeatMinutes is the heartbeat interval; 0 disables it.
	HeartbeatMinutes int `json:"heartbeat_minutes"`
	// HeartbeatTarget overrides Gateway.NotifyTarget for heartbeat alerts.
	HeartbeatTarget string `json:"heartbeat_target,omitempty"`
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18890,
			RateLimitRPS: 10,
			BotUsername:  "relaygate",
		},
		Store: StoreConfig{
			Backend: "file",
			FileDir: "sessions",
		},
		Queue: QueueConfig{
			Enabled:    true,
			MaxSize:    100,
			TickMillis: 500,
		},
		Runtime: RuntimeConfig{
			TimeoutSeconds: 120,
		},
		Router: RouterConfig{
			Strategy:     "auto",
			DefaultAgent: "main",
		},
		Scheduler: SchedulerConfig{
			HeartbeatMinutes: 0,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "relaygate",
		},
	}
}
