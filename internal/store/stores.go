// Package store selects and constructs the session store backend.
package store

import (
	"fmt"

	"github.com/nextlevelbuilder/relaygate/internal/session"
	"github.com/nextlevelbuilder/relaygate/internal/store/file"
	"github.com/nextlevelbuilder/relaygate/internal/store/pg"
	"github.com/nextlevelbuilder/relaygate/internal/store/sqlite"
)

// Backend names accepted in config.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects the backend. PostgresDSN comes from the environment only,
// never from the config file.
type Config struct {
	Backend     string
	FileDir     string // file backend: session directory
	SQLitePath  string // sqlite backend: database file
	PostgresDSN string // postgres backend
}

// Open constructs the configured backend.
func Open(cfg Config) (session.Store, error) {
	switch cfg.Backend {
	case "", BackendFile:
		dir := cfg.FileDir
		if dir == "" {
			dir = "sessions"
		}
		return file.New(dir)
	case BackendSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = "relaygate.db"
		}
		return sqlite.Open(path)
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires RELAYGATE_POSTGRES_DSN")
		}
		return pg.Open(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
