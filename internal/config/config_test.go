package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/groupsync/internal/config"
)

const ourID = "11111111-1111-4111-8111-111111111111"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "groupsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
data_path: /var/lib/groupsync
our_id: `+ourID+`
log_level: debug
service:
  url: https://groups.example.com
  rate_limit: 5
  burst: 2
credentials:
  today: dG9kYXk=
  tomorrow: dG9tb3Jyb3c=
sync:
  refresh_interval: 5m
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/groupsync", cfg.DataPath)
	assert.Equal(t, ":8080", cfg.ListenAddr, "unset fields keep defaults")
	assert.Equal(t, "https://groups.example.com", cfg.Service.URL)
	assert.Equal(t, 5.0, cfg.Service.RateLimit)
	assert.Equal(t, 2, cfg.Service.Burst)
	assert.Equal(t, 30*time.Second, cfg.Service.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Sync.RefreshInterval)
	assert.Equal(t, 4, cfg.Sync.RefreshConcurrency)
	assert.Equal(t, []byte("today"), cfg.TodayCredential())
	assert.Equal(t, []byte("tomorrow"), cfg.TomorrowCredential())

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
our_id: `+ourID+`
service:
  url: https://file.example.com
`)
	t.Setenv("GROUPSYNC_SERVICE_URL", "https://env.example.com")
	t.Setenv("GROUPSYNC_DATA_PATH", "/tmp/env")
	t.Setenv("GROUPSYNC_RATE_LIMIT", "2.5")
	t.Setenv("GROUPSYNC_REFRESH_INTERVAL", "0s")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Service.URL)
	assert.Equal(t, "/tmp/env", cfg.DataPath)
	assert.Equal(t, 2.5, cfg.Service.RateLimit)
	assert.Zero(t, cfg.Sync.RefreshInterval)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("GROUPSYNC_OUR_ID", ourID)
	t.Setenv("GROUPSYNC_SERVICE_URL", "https://env.example.com")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, ourID, cfg.OurID)
	assert.Nil(t, cfg.TodayCredential())
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("GROUPSYNC_OUR_ID", ourID)
	t.Setenv("GROUPSYNC_SERVICE_URL", "https://env.example.com")
	t.Setenv("GROUPSYNC_RATE_LIMIT", "fast")

	_, err := config.Load("")
	assert.ErrorContains(t, err, "GROUPSYNC_RATE_LIMIT")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := config.Load(writeConfig(t, "our_id: [unterminated"))
	assert.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		cfg := config.Default()
		cfg.OurID = ourID
		cfg.Service.URL = "https://groups.example.com"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{name: "missing our id", mutate: func(c *config.Config) { c.OurID = "" }, wantErr: "our_id is required"},
		{name: "our id not uuid", mutate: func(c *config.Config) { c.OurID = "alice" }, wantErr: "not a uuid"},
		{name: "missing service", mutate: func(c *config.Config) { c.Service.URL = "" }, wantErr: "service.url"},
		{name: "bad level", mutate: func(c *config.Config) { c.LogLevel = "loud" }, wantErr: "log_level"},
		{name: "bad credential", mutate: func(c *config.Config) { c.Credentials.Today = "%%%" }, wantErr: "credentials.today"},
		{name: "negative rate", mutate: func(c *config.Config) { c.Service.RateLimit = -1 }, wantErr: "rate_limit"},
		{name: "zero concurrency", mutate: func(c *config.Config) { c.Sync.RefreshConcurrency = 0 }, wantErr: "refresh_concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
