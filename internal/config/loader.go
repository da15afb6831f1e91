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
// built-in defaults, applies BONDDEPOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known BONDDEPOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Depository ──
	setStr(&cfg.Depository.BaseToken, "BONDDEPOT_DEPOSITORY_BASE_TOKEN")
	setStr(&cfg.Depository.Treasury, "BONDDEPOT_DEPOSITORY_TREASURY")
	setStr(&cfg.Depository.Administrator, "BONDDEPOT_DEPOSITORY_ADMINISTRATOR")
	setStr(&cfg.Depository.FeeRecipient, "BONDDEPOT_DEPOSITORY_FEE_RECIPIENT")
	setInt(&cfg.Depository.FeeBps, "BONDDEPOT_DEPOSITORY_FEE_BPS")
	setStr(&cfg.Depository.AdminKeyPath, "BONDDEPOT_DEPOSITORY_ADMIN_KEY_PATH")
	setStr(&cfg.Depository.AdminKeyPassword, "BONDDEPOT_DEPOSITORY_ADMIN_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BONDDEPOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "BONDDEPOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "BONDDEPOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BONDDEPOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BONDDEPOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BONDDEPOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BONDDEPOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BONDDEPOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BONDDEPOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BONDDEPOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BONDDEPOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BONDDEPOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BONDDEPOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BONDDEPOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BONDDEPOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BONDDEPOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BONDDEPOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BONDDEPOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BONDDEPOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "BONDDEPOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BONDDEPOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BONDDEPOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BONDDEPOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BONDDEPOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BONDDEPOT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "BONDDEPOT_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "BONDDEPOT_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BONDDEPOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BONDDEPOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BONDDEPOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BONDDEPOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BONDDEPOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BONDDEPOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BONDDEPOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BONDDEPOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BONDDEPOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BONDDEPOT_MODE")
	setStr(&cfg.LogLevel, "BONDDEPOT_LOG_LEVEL")
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
