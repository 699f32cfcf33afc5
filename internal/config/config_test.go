package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
mode = "serve"

[server]
port = 9999

[kite]
api_key = "kk1234"

[engine]
initial_capital = 500000.0
publish_interval = "1s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "kk1234", cfg.Kite.APIKey)
	assert.Equal(t, 500000.0, cfg.Engine.InitialCapital)
	assert.Equal(t, time.Second, cfg.Engine.PublishInterval.Duration)

	// Untouched sections keep defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5432, cfg.Postgres.Port)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeConfigFile(t, `
[kite]
api_key = "from-file"

[redis]
addr = "filehost:6379"
`)

	t.Setenv("PAPERBOT_KITE_API_KEY", "from-env")
	t.Setenv("PAPERBOT_KITE_ACCESS_TOKEN", "tok")
	t.Setenv("PAPERBOT_REDIS_ADDR", "envhost:6380")
	t.Setenv("PAPERBOT_ENGINE_PUBLISH_INTERVAL", "2s")
	t.Setenv("PAPERBOT_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PAPERBOT_KITE_AUTO_START_FEED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Kite.APIKey)
	assert.Equal(t, "tok", cfg.Kite.AccessToken)
	assert.Equal(t, "envhost:6380", cfg.Redis.Addr)
	assert.Equal(t, 2*time.Second, cfg.Engine.PublishInterval.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Kite.AutoStartFeed)
}

func TestValidateRejectsIncoherentKiteCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Kite.AccessToken = "tok"
	cfg.Kite.TokenFile = "/tmp/token.enc"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestValidateRequiresPasswordForTokenFile(t *testing.T) {
	cfg := Defaults()
	cfg.Kite.TokenFile = "/tmp/token.enc"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_password")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "replay"
	cfg.Engine.InitialCapital = 0
	cfg.Risk.MaxMarginUtilization = 1.5
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "initial_capital")
	assert.Contains(t, err.Error(), "max_margin_utilization")
	assert.Contains(t, err.Error(), "redis: addr")
}

func TestValidateArchiveModeNeedsBucket(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	cfg.S3.Bucket = ""
	cfg.Archive.Date = "2026-13-40"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
	assert.Contains(t, err.Error(), "not YYYY-MM-DD")
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Kite.APIKey = "kk1234"
	cfg.Kite.AccessToken = "secret-token"
	cfg.Postgres.Password = "pgpass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Notify.DiscordWebhookURL = "https://discord.com/api/webhooks/x"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Kite.APIKey)
	assert.Equal(t, "***", red.Kite.AccessToken)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Notify.DiscordWebhookURL)

	// Original untouched.
	assert.Equal(t, "secret-token", cfg.Kite.AccessToken)

	// Mutating the redacted slice copy must not leak back.
	red.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
