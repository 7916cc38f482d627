package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/visa-checklist/internal/risk"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Backend    BackendConfig    `yaml:"backend" mapstructure:"backend"`
	Rules      RulesConfig      `yaml:"rules" mapstructure:"rules"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Risk       risk.Thresholds  `yaml:"risk" mapstructure:"risk"`
	Checklist  ChecklistConfig  `yaml:"checklist" mapstructure:"checklist"`
	Generation GenerationConfig `yaml:"generation" mapstructure:"generation"`
	Verify     VerifyConfig     `yaml:"verify" mapstructure:"verify"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            int           `yaml:"port" mapstructure:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// AnthropicConfig holds Anthropic API settings. An empty key disables
// enrichment; checklists then come from the rule table alone.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
}

// BackendConfig points at the application backend that serves applicant
// snapshots.
type BackendConfig struct {
	BaseURL       string        `yaml:"base_url" mapstructure:"base_url"`
	Token         string        `yaml:"token" mapstructure:"token"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	MaxAttempts   int           `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// RulesConfig selects the rule table source.
type RulesConfig struct {
	Source     string        `yaml:"source" mapstructure:"source"` // "file" or "notion"
	Dir        string        `yaml:"dir" mapstructure:"dir"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" mapstructure:"refresh_ttl"`
}

// NotionConfig holds the Notion token and rule database.
type NotionConfig struct {
	Token         string  `yaml:"token" mapstructure:"token"`
	RulesDB       string  `yaml:"rules_db" mapstructure:"rules_db"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Retries       int     `yaml:"retries" mapstructure:"retries"`
}

// RedisConfig configures the sweep lease. Without a URL every replica sweeps.
type RedisConfig struct {
	URL      string        `yaml:"url" mapstructure:"url"`
	PoolSize int           `yaml:"pool_size" mapstructure:"pool_size"`
	LeaseKey string        `yaml:"lease_key" mapstructure:"lease_key"`
	LeaseTTL time.Duration `yaml:"lease_ttl" mapstructure:"lease_ttl"`
}

// ChecklistConfig configures context building and enrichment.
type ChecklistConfig struct {
	MaxItems        int           `yaml:"max_items" mapstructure:"max_items"`
	MaxTokens       int64         `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature     float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxAttempts     int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	PromptFile      string        `yaml:"prompt_file" mapstructure:"prompt_file"`
	DefaultLanguage string        `yaml:"default_language" mapstructure:"default_language"`
	DailyCostUSD    float64       `yaml:"daily_cost_usd" mapstructure:"daily_cost_usd"`
	DefaultTripDays int           `yaml:"default_trip_days" mapstructure:"default_trip_days"`
}

// GenerationConfig configures the generation lifecycle.
type GenerationConfig struct {
	RegenerateCooldown time.Duration `yaml:"regenerate_cooldown" mapstructure:"regenerate_cooldown"`
	RunTimeout         time.Duration `yaml:"run_timeout" mapstructure:"run_timeout"`
	StaleAfter         time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
}

// VerifyConfig configures the document validation queue.
type VerifyConfig struct {
	Interval       time.Duration `yaml:"interval" mapstructure:"interval"`
	ReReviewWindow time.Duration `yaml:"re_review_window" mapstructure:"re_review_window"`
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	Concurrency    int           `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSecond  float64       `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	ClaimLease     time.Duration `yaml:"claim_lease" mapstructure:"claim_lease"`
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`
	MaxTokens      int64         `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// Load reads configuration from ./config.yaml (optional) and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file, which must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("VISA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("backend.timeout", "10s")
	v.SetDefault("backend.rate_per_second", 10)
	v.SetDefault("backend.max_attempts", 3)
	v.SetDefault("rules.source", "file")
	v.SetDefault("rules.dir", "rules")
	v.SetDefault("rules.refresh_ttl", "10m")
	v.SetDefault("notion.rate_per_second", 3)
	v.SetDefault("notion.retries", 3)
	v.SetDefault("redis.lease_key", "visa-checklist:verify-sweep")
	v.SetDefault("redis.lease_ttl", "10m")

	th := risk.DefaultThresholds()
	v.SetDefault("risk.low_funds_ratio", th.LowFundsRatio)
	v.SetDefault("risk.borderline_funds_ratio", th.BorderlineFundsRatio)
	v.SetDefault("risk.weak_ties_strength", th.WeakTiesStrength)
	v.SetDefault("risk.minor_age", th.MinorAge)
	v.SetDefault("risk.min_prior_trips", th.MinPriorTrips)
	v.SetDefault("risk.suspicious_funds_multiple", th.SuspiciousFundsMultiple)
	v.SetDefault("risk.property_tie_weight", th.PropertyTieWeight)
	v.SetDefault("risk.employment_tie_weight", th.EmploymentTieWeight)
	v.SetDefault("risk.family_tie_weight", th.FamilyTieWeight)
	v.SetDefault("risk.medium_score", th.MediumScore)
	v.SetDefault("risk.high_score", th.HighScore)
	v.SetDefault("risk.weights", th.Weights)

	v.SetDefault("checklist.max_items", 20)
	v.SetDefault("checklist.max_tokens", 2000)
	v.SetDefault("checklist.temperature", 0.3)
	v.SetDefault("checklist.timeout", "30s")
	v.SetDefault("checklist.max_attempts", 2)
	v.SetDefault("checklist.default_language", "en")
	v.SetDefault("checklist.daily_cost_usd", 100)
	v.SetDefault("checklist.default_trip_days", 14)
	v.SetDefault("generation.regenerate_cooldown", "1h")
	v.SetDefault("generation.run_timeout", "2m")
	v.SetDefault("generation.stale_after", "10m")
	v.SetDefault("verify.interval", "5m")
	v.SetDefault("verify.re_review_window", "24h")
	v.SetDefault("verify.max_attempts", 5)
	v.SetDefault("verify.concurrency", 4)
	v.SetDefault("verify.rate_per_second", 2)
	v.SetDefault("verify.timeout", "30s")
	v.SetDefault("verify.claim_lease", "5m")
	v.SetDefault("verify.batch_size", 100)
	v.SetDefault("verify.max_tokens", 500)

	// Read config file (optional unless a path was given)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs. Modes: "migrate",
// "generate", "sweep" and "serve". serve runs without an Anthropic key, in
// which case checklists are rules-only and the sweep stays off.
func (c *Config) Validate(mode string) error {
	var errs []string

	store := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for postgres")
			}
		case "sqlite":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required (sqlite file path)")
			}
		default:
			errs = append(errs, fmt.Sprintf("unknown store.driver %q", c.Store.Driver))
		}
	}
	rules := func() {
		switch c.Rules.Source {
		case "file":
			if c.Rules.Dir == "" {
				errs = append(errs, "rules.dir is required")
			}
		case "notion":
			if c.Notion.Token == "" || c.Notion.RulesDB == "" {
				errs = append(errs, "notion.token and notion.rules_db are required for notion rules")
			}
		default:
			errs = append(errs, fmt.Sprintf("unknown rules.source %q", c.Rules.Source))
		}
		if c.Risk.MediumScore >= c.Risk.HighScore {
			errs = append(errs, "risk.medium_score must be below risk.high_score")
		}
	}
	verify := func() {
		if c.Verify.Concurrency < 1 || c.Verify.Concurrency > 64 {
			errs = append(errs, "verify.concurrency must be between 1 and 64")
		}
	}

	switch mode {
	case "migrate":
		store()
	case "generate":
		store()
		rules()
		if c.Backend.BaseURL == "" {
			errs = append(errs, "backend.base_url is required")
		}
	case "sweep":
		store()
		verify()
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required for verification")
		}
	case "serve":
		store()
		rules()
		verify()
		if c.Backend.BaseURL == "" {
			errs = append(errs, "backend.base_url is required")
		}
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
