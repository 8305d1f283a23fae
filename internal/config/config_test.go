package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	require.Equal(t, 1000, cfg.Dedup.Capacity)
	require.Equal(t, 60*time.Second, cfg.RateLimit.IngestWindow)
	require.Equal(t, 6*time.Hour, cfg.RateLimit.IngestRetention)
	require.Equal(t, 30*time.Second, cfg.RateLimit.NotifyWindow)
	require.Equal(t, time.Hour, cfg.RateLimit.NotifyRetention)
	require.Equal(t, 3*time.Second, cfg.Geo.NetworkTimeout)
	require.True(t, cfg.Geo.NetworkEnabled)
	require.Equal(t, BackendLog, cfg.Notify.Backend)
	require.Equal(t, "Asia/Ho_Chi_Minh", cfg.Location().String())
	require.Empty(t, cfg.Auth.AdminSecret)
	require.Equal(t, "visitor_events", cfg.DB.Table)
	require.True(t, cfg.Logging.Development)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Setenv("PORT", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  allowed_origins: ["https://blog.example"]
auth:
  admin_secret: s3cret
dedup:
  capacity: 50
ratelimit:
  ingest_window: 2m
  notify_window: 45s
geo:
  offline_db_path: /data/GeoLite2-City.mmdb
  network_enabled: false
notify:
  backend: telegram
  time_zone: Europe/Paris
telegram:
  bot_token: "123:abc"
  chat_id: -100200300
pipeline:
  workers: 8
  queue_depth: 32
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, []string{"https://blog.example"}, cfg.Server.AllowedOrigins)
	require.Equal(t, "s3cret", cfg.Auth.AdminSecret)
	require.Equal(t, 50, cfg.Dedup.Capacity)
	require.Equal(t, 2*time.Minute, cfg.RateLimit.IngestWindow)
	require.Equal(t, 45*time.Second, cfg.RateLimit.NotifyWindow)
	require.Equal(t, "/data/GeoLite2-City.mmdb", cfg.Geo.OfflineDBPath)
	require.False(t, cfg.Geo.NetworkEnabled)
	require.Equal(t, BackendTelegram, cfg.Notify.Backend)
	require.Equal(t, int64(-100200300), cfg.Telegram.ChatID)
	require.Equal(t, "Europe/Paris", cfg.Location().String())
	require.Equal(t, 8, cfg.Pipeline.Workers)
	require.False(t, cfg.Logging.Development)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TELEMETRY_AUTH_ADMIN_SECRET", "from-env")
	t.Setenv("TELEMETRY_RATELIMIT_NOTIFY_WINDOW", "10s")
	t.Setenv("PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Auth.AdminSecret)
	require.Equal(t, 10*time.Second, cfg.RateLimit.NotifyWindow)
	require.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("PORT", "eighty")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func validConfig(t *testing.T) Config {
	t.Helper()
	t.Setenv("PORT", "")
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"port":            func(c *Config) { c.Server.Port = 0 },
		"capacity":        func(c *Config) { c.Dedup.Capacity = 0 },
		"window":          func(c *Config) { c.RateLimit.IngestWindow = 0 },
		"retention":       func(c *Config) { c.RateLimit.NotifyRetention = time.Second },
		"network timeout": func(c *Config) { c.Geo.NetworkTimeout = 0 },
		"workers":         func(c *Config) { c.Pipeline.Workers = 0 },
		"queue depth":     func(c *Config) { c.Pipeline.QueueDepth = -1 },
		"time zone":       func(c *Config) { c.Notify.TimeZone = "Mars/Olympus" },
		"backend":         func(c *Config) { c.Notify.Backend = "carrier-pigeon" },
		"telegram creds":  func(c *Config) { c.Notify.Backend = BackendTelegram },
		"pubsub topic":    func(c *Config) { c.Notify.Backend = BackendPubSub },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig(t)
			require.NoError(t, cfg.Validate())
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
