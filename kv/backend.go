package kv

import (
	"fmt"
	"log/slog"
)

// Config selects and configures a Backend. The struct tags are read by the
// config package.
type Config struct {
	Driver     string `default:"badger" desc:"Storage backend: memory, badger, postgres or nats"`
	Table      string `default:"memory" desc:"Table, bucket or key prefix holding the entries"`
	Dir        string `default:"data" optional:"true" desc:"Badger database directory"`
	URL        string `env:"MEMVAULT_STORAGE_URL" optional:"true" desc:"PostgreSQL connection string or NATS URL"`
	SyncWrites bool   `optional:"true" desc:"Fsync every Badger write"`
}

// NewBackend builds the backend described by cfg. No I/O happens until the
// backend is opened through an Engine.
func NewBackend(cfg Config, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "", "badger":
		return NewBadgerStore(cfg.Dir,
			WithBadgerTable(cfg.Table),
			WithBadgerSyncWrites(cfg.SyncWrites),
			WithBadgerLogger(logger.With("component", "badger")),
		), nil
	case "postgres":
		if cfg.URL == "" {
			return nil, fmt.Errorf("kv: driver postgres requires a URL")
		}
		return NewPostgresStoreFromURL(cfg.URL, WithTableName(cfg.Table)), nil
	case "nats":
		if cfg.URL == "" {
			return nil, fmt.Errorf("kv: driver nats requires a URL")
		}
		return NewNATSStore(cfg.URL, WithBucket(cfg.Table)), nil
	default:
		return nil, fmt.Errorf("kv: unknown driver %q", cfg.Driver)
	}
}
