// Package config loads memvault configuration from struct tags, a YAML
// file, the environment, docker secrets and command line flags, in that
// order of increasing precedence.
//
// Parse is generic over any struct; Config is the struct memvault programs
// use, and turns itself into a logger, a codec and a storage backend.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/erlorenz/memvault/crypt"
	"github.com/erlorenz/memvault/kv"
)

// EnvPrefix prefixes derived environment variable names, e.g.
// MEMVAULT_STORAGE_DRIVER.
const EnvPrefix = "MEMVAULT"

// Config is the configuration of a memvault program.
type Config struct {
	Version     string `optional:"true" flag:"-"`
	Storage     kv.Config
	Crypto      CryptoConfig
	Log         LogConfig
	OpenTimeout time.Duration `default:"30s" desc:"How long to wait for the storage backend to open"`
}

// CryptoConfig selects the cipher and the passphrase. The key may be left
// empty and set at runtime with memory.Store.SetEncryptionKey.
type CryptoConfig struct {
	Key       string `env:"MEMVAULT_KEY" dsec:"memvault_key" flag:"-" optional:"true" desc:"Encryption passphrase"`
	Algorithm string `default:"aes-gcm" desc:"Cipher for new entries: aes-gcm or chacha20-poly1305"`
}

// LogConfig configures the application logger.
type LogConfig struct {
	Level  string `default:"info" desc:"Minimum log level: debug, info, warn or error"`
	Format string `default:"text" desc:"Log format: text or json"`
}

// Load builds a Config from defaults, the YAML file at path (skipped if
// path is empty), MEMVAULT_* environment variables, docker secrets and args.
func Load(path string, args []string) (*Config, error) {
	sources := []Source{NewDockerSecretsSource()}
	if path != "" {
		sources = append(sources, NewYAMLFileSource(path))
	}

	var cfg Config
	err := Parse(&cfg, Options{
		EnvPrefix:     EnvPrefix,
		Args:          args,
		ErrorHandling: flag.ContinueOnError,
		Sources:       sources,
	})
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "memory", "badger":
	case "postgres", "nats":
		if c.Storage.URL == "" {
			errs = append(errs, fmt.Errorf("Storage.URL is required for driver %s", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("Storage.Driver: unknown driver %q", c.Storage.Driver))
	}

	if _, err := crypt.ParseAlgorithm(c.Crypto.Algorithm); err != nil {
		errs = append(errs, fmt.Errorf("Crypto.Algorithm: %w", err))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("Log.Level: %w", err))
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("Log.Format: unknown format %q", c.Log.Format))
	}
	if c.OpenTimeout < 0 {
		errs = append(errs, errors.New("OpenTimeout: must not be negative"))
	}

	return join(errs...)
}

// Codec returns the codec for Crypto.Algorithm.
func (c *Config) Codec() (*crypt.Codec, error) {
	alg, err := crypt.ParseAlgorithm(c.Crypto.Algorithm)
	if err != nil {
		return nil, err
	}
	return crypt.New(crypt.WithAlgorithm(alg)), nil
}

// Backend returns the storage backend described by Storage. Nothing is
// opened until the backend is passed to an engine.
func (c *Config) Backend(logger *slog.Logger) (kv.Backend, error) {
	return kv.NewBackend(c.Storage, logger)
}

// NewLogger returns a logger writing to w in Log.Format at Log.Level.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.Log.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return level, nil
}
