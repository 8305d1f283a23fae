// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // alert time zones must resolve without host zoneinfo

	"github.com/spf13/viper"
)

// Notification backends.
const (
	BackendTelegram = "telegram"
	BackendPubSub   = "pubsub"
	BackendLog      = "log"
	BackendNone     = "none"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Dedup       DedupConfig       `mapstructure:"dedup"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Geo         GeoConfig         `mapstructure:"geo"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	DB          DBConfig          `mapstructure:"db"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Application ApplicationConfig `mapstructure:"application"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig holds the retrieval endpoint secret. Empty disables retrieval.
type AuthConfig struct {
	AdminSecret string `mapstructure:"admin_secret"`
}

// DedupConfig sizes the request id gate.
type DedupConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// RateLimitConfig sets the ingestion and notification cooldowns.
type RateLimitConfig struct {
	IngestWindow    time.Duration `mapstructure:"ingest_window"`
	IngestRetention time.Duration `mapstructure:"ingest_retention"`
	NotifyWindow    time.Duration `mapstructure:"notify_window"`
	NotifyRetention time.Duration `mapstructure:"notify_retention"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

// GeoConfig configures the offline database and the network lookup.
type GeoConfig struct {
	OfflineDBPath   string        `mapstructure:"offline_db_path"`
	NetworkEnabled  bool          `mapstructure:"network_enabled"`
	NetworkBaseURL  string        `mapstructure:"network_base_url"`
	NetworkTimeout  time.Duration `mapstructure:"network_timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// NotifyConfig selects where alerts go and how they are rendered.
type NotifyConfig struct {
	Backend         string `mapstructure:"backend"`
	TimeZone        string `mapstructure:"time_zone"`
	AnnounceStartup bool   `mapstructure:"announce_startup"`
}

// TelegramConfig holds bot credentials.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls access to the relational database. Empty DSN keeps
// records in memory.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PipelineConfig sizes the background queue and worker pool.
type PipelineConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueDepth     int           `mapstructure:"queue_depth"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
	NotifyTimeout  time.Duration `mapstructure:"notify_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ApplicationConfig describes the deployment for telemetry resources.
type ApplicationConfig struct {
	ServiceName   string `mapstructure:"service_name"`
	Version       string `mapstructure:"version"`
	ProjectID     string `mapstructure:"project_id"`
	ProjectNumber string `mapstructure:"project_number"`
	Region        string `mapstructure:"region"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TELEMETRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Cloud Run injects PORT.
	if p := os.Getenv("PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return Config{}, fmt.Errorf("parse PORT %q: %w", p, err)
		}
		cfg.Server.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("auth.admin_secret", "")
	v.SetDefault("dedup.capacity", 1000)
	v.SetDefault("ratelimit.ingest_window", 60*time.Second)
	v.SetDefault("ratelimit.ingest_retention", 6*time.Hour)
	v.SetDefault("ratelimit.notify_window", 30*time.Second)
	v.SetDefault("ratelimit.notify_retention", time.Hour)
	v.SetDefault("ratelimit.sweep_interval", time.Minute)
	v.SetDefault("geo.offline_db_path", "")
	v.SetDefault("geo.network_enabled", true)
	v.SetDefault("geo.network_base_url", "https://ipapi.co")
	v.SetDefault("geo.network_timeout", 3*time.Second)
	v.SetDefault("geo.breaker_failures", 5)
	v.SetDefault("geo.breaker_cooldown", time.Minute)
	v.SetDefault("notify.backend", BackendLog)
	v.SetDefault("notify.time_zone", "Asia/Ho_Chi_Minh")
	v.SetDefault("notify.announce_startup", true)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "visitor_events")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_depth", 256)
	v.SetDefault("pipeline.persist_timeout", 5*time.Second)
	v.SetDefault("pipeline.notify_timeout", 10*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("application.service_name", "visitor-telemetry")
	v.SetDefault("application.version", "dev")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Dedup.Capacity <= 0 {
		errs = append(errs, errors.New("dedup.capacity must be > 0"))
	}
	if c.RateLimit.IngestWindow <= 0 || c.RateLimit.NotifyWindow <= 0 {
		errs = append(errs, errors.New("ratelimit windows must be > 0"))
	}
	if c.RateLimit.IngestRetention < c.RateLimit.IngestWindow ||
		c.RateLimit.NotifyRetention < c.RateLimit.NotifyWindow {
		errs = append(errs, errors.New("ratelimit retention must be >= its window"))
	}
	if c.Geo.NetworkEnabled && c.Geo.NetworkTimeout <= 0 {
		errs = append(errs, errors.New("geo.network_timeout must be > 0 when the network lookup is enabled"))
	}
	if c.Pipeline.Workers <= 0 {
		errs = append(errs, errors.New("pipeline.workers must be > 0"))
	}
	if c.Pipeline.QueueDepth <= 0 {
		errs = append(errs, errors.New("pipeline.queue_depth must be > 0"))
	}
	if _, err := time.LoadLocation(c.Notify.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("notify.time_zone: %w", err))
	}
	switch c.Notify.Backend {
	case BackendTelegram:
		if c.Telegram.BotToken == "" || c.Telegram.ChatID == 0 {
			errs = append(errs, errors.New("telegram.bot_token and telegram.chat_id must be set for the telegram backend"))
		}
	case BackendPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			errs = append(errs, errors.New("pubsub.project_id and pubsub.topic_name must be set for the pubsub backend"))
		}
	case BackendLog, BackendNone:
	default:
		errs = append(errs, fmt.Errorf("notify.backend %q is not supported", c.Notify.Backend))
	}
	return errors.Join(errs...)
}

// Location returns the alert time zone. Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Notify.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
