package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PAIRBOT_* environment variable overrides, and
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

	return &cfg, nil
}

// applyEnvOverrides reads well-known PAIRBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.Venue, "PAIRBOT_ENGINE_VENUE")

	// ── Binance ──
	setStr(&cfg.Binance.WsHost, "PAIRBOT_BINANCE_WS_HOST")
	setStr(&cfg.Binance.RestHost, "PAIRBOT_BINANCE_REST_HOST")
	setStr(&cfg.Binance.ApiKey, "PAIRBOT_BINANCE_API_KEY")
	setStr(&cfg.Binance.ApiSecret, "PAIRBOT_BINANCE_API_SECRET")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PAIRBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PAIRBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PAIRBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PAIRBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PAIRBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PAIRBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PAIRBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PAIRBOT_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "PAIRBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PAIRBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PAIRBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAIRBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAIRBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "PAIRBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PAIRBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PAIRBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAIRBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAIRBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAIRBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAIRBOT_S3_SECRET_KEY")
	setDuration(&cfg.S3.Retention, "PAIRBOT_S3_RETENTION")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PAIRBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PAIRBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "PAIRBOT_NOTIFY_DISCORD_WEBHOOK")

	// ── Telemetry ──
	setStr(&cfg.Telemetry.Dir, "PAIRBOT_TELEMETRY_DIR")
	setBool(&cfg.Telemetry.RecordQuotes, "PAIRBOT_TELEMETRY_RECORD_QUOTES")

	// ── Top-level ──
	setStr(&cfg.Mode, "PAIRBOT_MODE")
	setStr(&cfg.LogLevel, "PAIRBOT_LOG_LEVEL")
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
