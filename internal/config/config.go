// Package config defines the top-level configuration for the paper-trading
// core and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PAPERBOT_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Kite     KiteConfig     `toml:"kite"`
	Engine   EngineConfig   `toml:"engine"`
	Risk     RiskConfig     `toml:"risk"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards mutating routes when set; empty disables auth.
	APIKey string `toml:"api_key"`
	// RateLimitPerMin caps mutating requests per client IP; 0 disables.
	RateLimitPerMin int `toml:"rate_limit_per_min"`
}

// KiteConfig holds Kite Connect credentials and endpoints. The access token is
// either given directly, or read from an encrypted token file unlocked with
// TokenPassword.
type KiteConfig struct {
	APIKey        string `toml:"api_key"`
	AccessToken   string `toml:"access_token"`
	TokenFile     string `toml:"token_file"`
	TokenPassword string `toml:"token_password"`
	BaseURL       string `toml:"base_url"`
	WsURL         string `toml:"ws_url"`
	// AutoStartFeed connects the tick feed on boot instead of waiting for
	// an explicit start request.
	AutoStartFeed bool `toml:"auto_start_feed"`
}

// EngineConfig holds ledger core parameters.
type EngineConfig struct {
	UserID         string  `toml:"user_id"`
	InitialCapital float64 `toml:"initial_capital"`
	// IndexTokens are the tracked index instrument tokens. Empty means the
	// NIFTY 50 + NIFTY BANK default.
	IndexTokens []int64 `toml:"index_tokens"`
	// BatchBuffer is the tick batch channel depth; 0 uses the feed default.
	BatchBuffer     int      `toml:"batch_buffer"`
	PublishInterval duration `toml:"publish_interval"`
	// SweepInterval paces the expiry sweeper in serve mode.
	SweepInterval duration `toml:"sweep_interval"`
}

// RiskConfig holds pre-trade check limits.
type RiskConfig struct {
	MaxOpenPositions int `toml:"max_open_positions"`
	MaxLotsPerOrder  int `toml:"max_lots_per_order"`
	// MaxMarginUtilization is the fraction of total capital that may be
	// blocked as margin, 0..1.
	MaxMarginUtilization float64 `toml:"max_margin_utilization"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds day-export parameters for archive mode.
type ArchiveConfig struct {
	// Date is the trading day to export as YYYY-MM-DD; empty means
	// yesterday.
	Date string `toml:"date"`
	// Prefix is the object key prefix inside the bucket.
	Prefix string `toml:"prefix"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 120,
		},
		Kite: KiteConfig{
			BaseURL:       "https://api.kite.trade",
			WsURL:         "wss://ws.kite.trade",
			AutoStartFeed: false,
		},
		Engine: EngineConfig{
			UserID:          "paper",
			InitialCapital:  1_000_000,
			BatchBuffer:     256,
			PublishInterval: duration{250 * time.Millisecond},
			SweepInterval:   duration{time.Minute},
		},
		Risk: RiskConfig{
			MaxOpenPositions:     40,
			MaxLotsPerOrder:      100,
			MaxMarginUtilization: 0.95,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "paperbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "paperbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Prefix: "archive",
		},
		Notify: NotifyConfig{
			Events: []string{"trade_opened", "trade_closed", "trade_expired", "feed_error"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, archive)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Kite. Credentials are optional (the ledger works without a live feed)
	// but must be coherent when given.
	if c.Kite.AccessToken != "" && c.Kite.TokenFile != "" {
		errs = append(errs, "kite: access_token and token_file are mutually exclusive")
	}
	if c.Kite.TokenFile != "" && c.Kite.TokenPassword == "" {
		errs = append(errs, "kite: token_password is required when token_file is set")
	}
	if c.Kite.AutoStartFeed && c.Kite.APIKey == "" {
		errs = append(errs, "kite: api_key is required when auto_start_feed is enabled")
	}

	// Engine
	if c.Engine.InitialCapital <= 0 {
		errs = append(errs, "engine: initial_capital must be > 0")
	}
	for _, tok := range c.Engine.IndexTokens {
		if tok <= 0 || tok > int64(^uint32(0)) {
			errs = append(errs, fmt.Sprintf("engine: index_tokens entry %d out of range", tok))
		}
	}
	if c.Engine.PublishInterval.Duration < 0 {
		errs = append(errs, "engine: publish_interval must not be negative")
	}

	// Risk
	if c.Risk.MaxOpenPositions < 1 {
		errs = append(errs, "risk: max_open_positions must be >= 1")
	}
	if c.Risk.MaxLotsPerOrder < 1 {
		errs = append(errs, "risk: max_lots_per_order must be >= 1")
	}
	if c.Risk.MaxMarginUtilization <= 0 || c.Risk.MaxMarginUtilization > 1 {
		errs = append(errs, "risk: max_margin_utilization must be in (0, 1]")
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only exercised by the archiver; require it for archive mode.
	if strings.ToLower(c.Mode) == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty in archive mode")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty in archive mode")
		}
		if c.Archive.Date != "" {
			if _, err := time.Parse("2006-01-02", c.Archive.Date); err != nil {
				errs = append(errs, fmt.Sprintf("archive: date %q is not YYYY-MM-DD", c.Archive.Date))
			}
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

// IndexTokenSet converts the configured index tokens to the uint32 form the
// engine uses.
func (c *Config) IndexTokenSet() []uint32 {
	if len(c.Engine.IndexTokens) == 0 {
		return nil
	}
	out := make([]uint32, 0, len(c.Engine.IndexTokens))
	for _, tok := range c.Engine.IndexTokens {
		out = append(out, uint32(tok))
	}
	return out
}
