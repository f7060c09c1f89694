package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies XARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	normalize(&cfg)

	return &cfg, nil
}

// normalize upper-cases venue names and blacklist entries so lookups in the
// per-venue tables match.
func normalize(cfg *Config) {
	for i := range cfg.Venues {
		cfg.Venues[i].Name = strings.ToUpper(strings.TrimSpace(cfg.Venues[i].Name))
		if cfg.Venues[i].Kind == "" {
			cfg.Venues[i].Kind = VenueKindPaper
		}
	}
	for i, b := range cfg.Engine.Blacklist {
		cfg.Engine.Blacklist[i] = strings.ToUpper(strings.TrimSpace(b))
	}
	cfg.Mode = strings.ToLower(cfg.Mode)
}

// applyEnvOverrides reads well-known XARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setDuration(&cfg.Engine.TickInterval, "XARB_ENGINE_TICK_INTERVAL")
	setDuration(&cfg.Engine.CallTimeout, "XARB_ENGINE_CALL_TIMEOUT")
	setInt(&cfg.Engine.Workers, "XARB_ENGINE_WORKERS")
	setStringSlice(&cfg.Engine.Pairs, "XARB_ENGINE_PAIRS")
	setStringSlice(&cfg.Engine.Blacklist, "XARB_ENGINE_BLACKLIST")
	setFloat64(&cfg.Engine.MinProfit, "XARB_ENGINE_MIN_PROFIT")

	// ── Files ──
	setStr(&cfg.Files.CrashFile, "XARB_FILES_CRASH_FILE")
	setStr(&cfg.Files.StateFile, "XARB_FILES_STATE_FILE")
	setStr(&cfg.Files.TargetFile, "XARB_FILES_TARGET_FILE")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "XARB_FEED_ENABLED")
	setStr(&cfg.Feed.URL, "XARB_FEED_URL")
	setStr(&cfg.Feed.Channel, "XARB_FEED_CHANNEL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "XARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "XARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "XARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "XARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "XARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "XARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "XARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "XARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "XARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "XARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "XARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "XARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "XARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "XARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "XARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "XARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "XARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "XARB_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.InstanceKey, "XARB_REDIS_INSTANCE_KEY")
	setDuration(&cfg.Redis.LeaseTTL, "XARB_REDIS_LEASE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "XARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "XARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "XARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "XARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "XARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "XARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "XARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "XARB_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "XARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "XARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "XARB_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "XARB_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "XARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "XARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "XARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "XARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "XARB_MODE")
	setStr(&cfg.LogLevel, "XARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
