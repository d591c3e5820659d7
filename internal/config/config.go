// Package config loads groupsync settings from a YAML file with
// environment overrides.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	DataPath   string `yaml:"data_path"`
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	// OurID is the local user's identifier.
	OurID string `yaml:"our_id"`
	// APIToken, when set, is required as a bearer token on the HTTP API.
	APIToken string `yaml:"api_token"`

	Service     ServiceConfig     `yaml:"service"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Sync        SyncConfig        `yaml:"sync"`
}

// ServiceConfig locates the group service.
type ServiceConfig struct {
	URL       string `yaml:"url"`
	AvatarURL string `yaml:"avatar_url"`
	// RateLimit is requests per second; 0 disables pacing.
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
	Timeout   time.Duration `yaml:"timeout"`
}

// CredentialsConfig holds the two rotating credentials, base64 encoded.
type CredentialsConfig struct {
	Today    string `yaml:"today"`
	Tomorrow string `yaml:"tomorrow"`
}

// SyncConfig tunes the update loop.
type SyncConfig struct {
	// RefreshInterval is how often every group is refreshed; 0 disables it.
	RefreshInterval    time.Duration `yaml:"refresh_interval"`
	RefreshConcurrency int           `yaml:"refresh_concurrency"`
	AvatarCacheSize    int           `yaml:"avatar_cache_size"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		DataPath:   "./data",
		ListenAddr: ":8080",
		LogLevel:   "info",
		Service: ServiceConfig{
			Burst:   1,
			Timeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			RefreshInterval:    15 * time.Minute,
			RefreshConcurrency: 4,
			AvatarCacheSize:    256,
		},
	}
}

// Load reads path, if set, over the defaults and then applies environment
// overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.DataPath = getEnv("GROUPSYNC_DATA_PATH", c.DataPath)
	c.ListenAddr = getEnv("GROUPSYNC_LISTEN_ADDR", c.ListenAddr)
	c.LogLevel = getEnv("GROUPSYNC_LOG_LEVEL", c.LogLevel)
	c.OurID = getEnv("GROUPSYNC_OUR_ID", c.OurID)
	c.APIToken = getEnv("GROUPSYNC_API_TOKEN", c.APIToken)
	c.Service.URL = getEnv("GROUPSYNC_SERVICE_URL", c.Service.URL)
	c.Service.AvatarURL = getEnv("GROUPSYNC_AVATAR_URL", c.Service.AvatarURL)
	c.Credentials.Today = getEnv("GROUPSYNC_CREDENTIAL_TODAY", c.Credentials.Today)
	c.Credentials.Tomorrow = getEnv("GROUPSYNC_CREDENTIAL_TOMORROW", c.Credentials.Tomorrow)

	if v := os.Getenv("GROUPSYNC_RATE_LIMIT"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("GROUPSYNC_RATE_LIMIT: %w", err)
		}
		c.Service.RateLimit = rps
	}
	if v := os.Getenv("GROUPSYNC_REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GROUPSYNC_REFRESH_INTERVAL: %w", err)
		}
		c.Sync.RefreshInterval = d
	}
	return nil
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.OurID == "" {
		errs = append(errs, errors.New("our_id is required"))
	} else if _, err := uuid.Parse(c.OurID); err != nil {
		errs = append(errs, fmt.Errorf("our_id %q is not a uuid", c.OurID))
	}
	if c.Service.URL == "" {
		errs = append(errs, errors.New("service.url is required"))
	}
	if c.DataPath == "" {
		errs = append(errs, errors.New("data_path is required"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := decodeCredential("credentials.today", c.Credentials.Today); err != nil {
		errs = append(errs, err)
	}
	if _, err := decodeCredential("credentials.tomorrow", c.Credentials.Tomorrow); err != nil {
		errs = append(errs, err)
	}
	if c.Service.RateLimit < 0 {
		errs = append(errs, errors.New("service.rate_limit must not be negative"))
	}
	if c.Sync.RefreshConcurrency <= 0 {
		errs = append(errs, errors.New("sync.refresh_concurrency must be positive"))
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// TodayCredential returns the decoded credential for today.
func (c *Config) TodayCredential() []byte {
	b, _ := decodeCredential("", c.Credentials.Today)
	return b
}

// TomorrowCredential returns the decoded credential for tomorrow.
func (c *Config) TomorrowCredential() []byte {
	b, _ := decodeCredential("", c.Credentials.Tomorrow)
	return b
}

func decodeCredential(field, v string) ([]byte, error) {
	if v == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid base64: %w", field, err)
	}
	return b, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
