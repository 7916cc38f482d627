package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.HaikuModel)
	assert.Equal(t, "file", cfg.Rules.Source)
	assert.Equal(t, "rules", cfg.Rules.Dir)
	assert.Equal(t, 10*time.Minute, cfg.Rules.RefreshTTL)
	assert.Equal(t, "visa-checklist:verify-sweep", cfg.Redis.LeaseKey)
	assert.InDelta(t, 3.0, cfg.Notion.RatePerSecond, 0.001)
	assert.Equal(t, 3, cfg.Notion.Retries)

	assert.InDelta(t, 0.8, cfg.Risk.LowFundsRatio, 0.001)
	assert.InDelta(t, 1.1, cfg.Risk.BorderlineFundsRatio, 0.001)
	assert.Equal(t, 18, cfg.Risk.MinorAge)
	assert.Equal(t, 40, cfg.Risk.MediumScore)
	assert.Equal(t, 70, cfg.Risk.HighScore)
	assert.Equal(t, 30, cfg.Risk.Weights["low_funds"])

	assert.Equal(t, 20, cfg.Checklist.MaxItems)
	assert.Equal(t, 30*time.Second, cfg.Checklist.Timeout)
	assert.Equal(t, "en", cfg.Checklist.DefaultLanguage)
	assert.Equal(t, time.Hour, cfg.Generation.RegenerateCooldown)
	assert.Equal(t, 2*time.Minute, cfg.Generation.RunTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Verify.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Verify.ReReviewWindow)
	assert.Equal(t, 5, cfg.Verify.MaxAttempts)
	assert.Equal(t, 4, cfg.Verify.Concurrency)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: visa.db
log:
  level: debug
  format: console
server:
  port: 9090
  allowed_origins: ["https://app.example.com"]
risk:
  low_funds_ratio: 0.7
verify:
  re_review_window: 12h
  concurrency: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.InDelta(t, 0.7, cfg.Risk.LowFundsRatio, 0.001)
	assert.Equal(t, 12*time.Hour, cfg.Verify.ReReviewWindow)
	assert.Equal(t, 8, cfg.Verify.Concurrency)
	// Defaults still apply for unset values
	assert.InDelta(t, 1.1, cfg.Risk.BorderlineFundsRatio, 0.001)
	assert.Equal(t, 5, cfg.Verify.MaxAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("VISA_STORE_DRIVER", "postgres")
	t.Setenv("VISA_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("VISA_SERVER_PORT", "3000")
	t.Setenv("VISA_GENERATION_REGENERATE_COOLDOWN", "15m")
	t.Setenv("VISA_RISK_MINOR_AGE", "21")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Generation.RegenerateCooldown)
	assert.Equal(t, 21, cfg.Risk.MinorAge)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unterminated"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "visa.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7070\n"), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err, "an explicit path must exist")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config that passes every mode.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/test"
	cfg.Rules.Source = "file"
	cfg.Rules.Dir = "rules"
	cfg.Risk.MediumScore = 40
	cfg.Risk.HighScore = 70
	cfg.Backend.BaseURL = "http://backend:3000"
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Verify.Concurrency = 4
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate_AllModesPass(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"migrate", "generate", "sweep", "serve"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidate_MissingFieldsAreCollected(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Backend.BaseURL = ""
	cfg.Anthropic.Key = ""

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "backend.base_url is required")
	assert.NotContains(t, err.Error(), "anthropic.key", "serve runs rules-only without a key")

	err = cfg.Validate("sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	// migrate only needs the store.
	cfg.Store.DatabaseURL = "postgres://localhost/test"
	assert.NoError(t, cfg.Validate("migrate"))
}

func TestValidate_Cases(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown driver", "migrate", func(c *Config) { c.Store.Driver = "mysql" }, "unknown store.driver"},
		{"unknown rules source", "generate", func(c *Config) { c.Rules.Source = "s3" }, "unknown rules.source"},
		{"notion needs db", "generate", func(c *Config) { c.Rules.Source = "notion" }, "notion.rules_db"},
		{"level order", "serve", func(c *Config) { c.Risk.MediumScore = 80 }, "risk.medium_score"},
		{"concurrency bounds", "sweep", func(c *Config) { c.Verify.Concurrency = 0 }, "verify.concurrency must be between 1 and 64"},
		{"invalid port", "serve", func(c *Config) { c.Server.Port = 0 }, "server.port must be > 0"},
		{"unknown mode", "reindex", func(*Config) {}, "unknown mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate(tt.mode)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
