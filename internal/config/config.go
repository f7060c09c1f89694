// Package config defines the top-level configuration for the arbitrage engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by XARB_* environment variables.
type Config struct {
	Engine   Engine         `toml:"engine"`
	Venues   []VenueConfig  `toml:"venues"`
	Files    FilesConfig    `toml:"files"`
	Feed     FeedConfig     `toml:"feed"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// VenueConfig declares one trading venue. Kind selects the adapter.
type VenueConfig struct {
	Name            string             `toml:"name"`
	Kind            string             `toml:"kind"`
	Fee             float64            `toml:"fee"`
	Pairs           []string           `toml:"pairs"`
	SymbolSeparator string             `toml:"symbol_separator"`
	SymbolUpper     bool               `toml:"symbol_upper"`
	RateLimit       float64            `toml:"rate_limit"`
	Balances        map[string]float64 `toml:"balances"`
}

// FilesConfig holds the paths of the JSON files the scheduler reads and
// writes.
type FilesConfig struct {
	CrashFile     string `toml:"crash_file"`
	StateFile     string `toml:"state_file"`
	TargetFile    string `toml:"target_file"`
	ArchivePrefix string `toml:"archive_prefix"`
}

// FeedConfig holds the depth stream parameters used by paper venues. When
// Channel is set depth frames are read from that signal bus channel instead
// of the websocket.
type FeedConfig struct {
	Enabled          bool     `toml:"enabled"`
	URL              string   `toml:"url"`
	Channel          string   `toml:"channel"`
	HandshakeTimeout duration `toml:"handshake_timeout"`
	MaxReconnect     duration `toml:"max_reconnect"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters and the keys the engine
// uses.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	InstanceKey  string   `toml:"instance_key"`
	LeaseTTL     duration `toml:"lease_ttl"`
	MirrorDepth  bool     `toml:"mirror_depth"`
	TradeChannel string   `toml:"trade_channel"`
	TradeStream  string   `toml:"trade_stream"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// Duration wraps d for use in Config literals.
func Duration(d time.Duration) duration {
	return duration{d}
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP status server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: DefaultEngine(),
		Files: FilesConfig{
			CrashFile:     "crash.json",
			StateFile:     "state.json",
			TargetFile:    "target.json",
			ArchivePrefix: "crash/",
		},
		Feed: FeedConfig{
			HandshakeTimeout: duration{15 * time.Second},
			MaxReconnect:     duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "xarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			InstanceKey:  "xarb:instance",
			LeaseTTL:     duration{30 * time.Second},
			MirrorDepth:  true,
			TradeChannel: "xarb:trades",
			TradeStream:  "xarb:trades:log",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "xarb-crash",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{EventTrade, EventFatal},
		},
		Mode:     ModeLive,
		LogLevel: "info",
	}
}

// Run modes.
const (
	ModeLive     = "live"
	ModeSimulate = "simulate"
)

// Notification event names.
const (
	EventTrade = "trade"
	EventFatal = "fatal"
	EventAbort = "abort"
)

// VenueKindPaper is the built-in book-backed venue adapter.
const VenueKindPaper = "paper"

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeLive:     true,
	ModeSimulate: true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validVenueKinds = map[string]bool{
	VenueKindPaper: true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, simulate)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	errs = append(errs, c.Engine.validate()...)

	// Venues
	if len(c.Venues) == 0 {
		errs = append(errs, "venues: at least one venue must be configured")
	}
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		if v.Name == "" {
			errs = append(errs, fmt.Sprintf("venues[%d]: name must not be empty", i))
			continue
		}
		name := strings.ToUpper(v.Name)
		if seen[name] {
			errs = append(errs, fmt.Sprintf("venues[%d]: duplicate venue %q", i, v.Name))
		}
		seen[name] = true
		if !validVenueKinds[v.Kind] {
			errs = append(errs, fmt.Sprintf("venues[%d]: unknown kind %q (valid: paper)", i, v.Kind))
		}
		if v.Fee < 0 || v.Fee >= 1 {
			errs = append(errs, fmt.Sprintf("venues[%d]: fee must be in [0, 1), got %v", i, v.Fee))
		}
		if v.RateLimit < 0 {
			errs = append(errs, fmt.Sprintf("venues[%d]: rate_limit must be >= 0", i))
		}
		for _, p := range v.Pairs {
			if _, err := domain.ParsePair(p); err != nil {
				errs = append(errs, fmt.Sprintf("venues[%d]: %v", i, err))
			}
		}
	}

	// Files
	if c.Files.CrashFile == "" {
		errs = append(errs, "files: crash_file must not be empty")
	}

	// Feed
	if c.Feed.Enabled && c.Feed.URL == "" && c.Feed.Channel == "" {
		errs = append(errs, "feed: url or channel must be set when enabled")
	}
	if c.Feed.Enabled && c.Feed.Channel != "" && !c.Redis.Enabled {
		errs = append(errs, "feed: channel requires redis to be enabled")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.InstanceKey != "" && c.Redis.LeaseTTL.Duration < time.Second {
			errs = append(errs, "redis: lease_ttl must be at least 1s")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
