package server

import (
	"log/slog"

	"github.com/relves/groupsync/internal/storage"
)

// Config holds server configuration.
type Config struct {
	Store     storage.MirrorStore
	Updater   Updater
	Validator RequestValidator
	Logger    *slog.Logger
}

// Option configures the server.
type Option func(*Config)

// WithStore sets the group mirror the handlers read from.
func WithStore(s storage.MirrorStore) Option {
	return func(c *Config) {
		c.Store = s
	}
}

// WithUpdater sets where update requests are queued.
func WithUpdater(u Updater) Option {
	return func(c *Config) {
		c.Updater = u
	}
}

// WithValidator sets a request validator for authorization checks.
// If nil (default), no validation is performed.
func WithValidator(v RequestValidator) Option {
	return func(c *Config) {
		c.Validator = v
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func applyOptions(opts ...Option) *Config {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
