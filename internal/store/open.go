package store

import (
	"context"
	"fmt"
	"strings"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
)

// Config selects and parameterizes one backend.
type Config struct {
	Backend  string `toml:"backend"`
	Path     string `toml:"path"`
	URL      string `toml:"url"`
	Prefix   string `toml:"prefix"`
	Database string `toml:"database"`
}

func DefaultConfig() Config {
	return Config{Backend: BackendMemory}
}

// Validate checks that the backend is known and has its required fields.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case "", BackendMemory:
		return nil
	case BackendSQLite:
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("store: sqlite backend requires path")
		}
		return nil
	case BackendPostgres, BackendRedis, BackendMongo:
		if strings.TrimSpace(c.URL) == "" {
			return fmt.Errorf("store: %s backend requires url", c.Backend)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
}

// Open connects the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		return NewSQLite(ctx, cfg.Path)
	case BackendPostgres:
		return NewPostgres(ctx, cfg.URL)
	case BackendRedis:
		return NewRedis(ctx, cfg.URL, cfg.Prefix)
	default:
		return NewMongo(ctx, cfg.URL, cfg.Database)
	}
}
