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
// built-in defaults, applies PAPERBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known PAPERBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setBool(&cfg.Server.Enabled, "PAPERBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PAPERBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PAPERBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PAPERBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "PAPERBOT_SERVER_RATE_LIMIT_PER_MIN")

	// ── Kite ──
	setStr(&cfg.Kite.APIKey, "PAPERBOT_KITE_API_KEY")
	setStr(&cfg.Kite.AccessToken, "PAPERBOT_KITE_ACCESS_TOKEN")
	setStr(&cfg.Kite.TokenFile, "PAPERBOT_KITE_TOKEN_FILE")
	setStr(&cfg.Kite.TokenPassword, "PAPERBOT_KITE_TOKEN_PASSWORD")
	setStr(&cfg.Kite.BaseURL, "PAPERBOT_KITE_BASE_URL")
	setStr(&cfg.Kite.WsURL, "PAPERBOT_KITE_WS_URL")
	setBool(&cfg.Kite.AutoStartFeed, "PAPERBOT_KITE_AUTO_START_FEED")

	// ── Engine ──
	setStr(&cfg.Engine.UserID, "PAPERBOT_ENGINE_USER_ID")
	setFloat64(&cfg.Engine.InitialCapital, "PAPERBOT_ENGINE_INITIAL_CAPITAL")
	setInt(&cfg.Engine.BatchBuffer, "PAPERBOT_ENGINE_BATCH_BUFFER")
	setDuration(&cfg.Engine.PublishInterval, "PAPERBOT_ENGINE_PUBLISH_INTERVAL")
	setDuration(&cfg.Engine.SweepInterval, "PAPERBOT_ENGINE_SWEEP_INTERVAL")

	// ── Risk ──
	setInt(&cfg.Risk.MaxOpenPositions, "PAPERBOT_RISK_MAX_OPEN_POSITIONS")
	setInt(&cfg.Risk.MaxLotsPerOrder, "PAPERBOT_RISK_MAX_LOTS_PER_ORDER")
	setFloat64(&cfg.Risk.MaxMarginUtilization, "PAPERBOT_RISK_MAX_MARGIN_UTILIZATION")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PAPERBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PAPERBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PAPERBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PAPERBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PAPERBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PAPERBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PAPERBOT_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "PAPERBOT_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "PAPERBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PAPERBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PAPERBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PAPERBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAPERBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAPERBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PAPERBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PAPERBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PAPERBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PAPERBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAPERBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAPERBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAPERBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAPERBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PAPERBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PAPERBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setStr(&cfg.Archive.Date, "PAPERBOT_ARCHIVE_DATE")
	setStr(&cfg.Archive.Prefix, "PAPERBOT_ARCHIVE_PREFIX")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PAPERBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PAPERBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PAPERBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PAPERBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PAPERBOT_MODE")
	setStr(&cfg.LogLevel, "PAPERBOT_LOG_LEVEL")
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
