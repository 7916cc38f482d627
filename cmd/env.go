package main

import (
	"context"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visa-checklist/internal/canonical"
	"github.com/sells-group/visa-checklist/internal/checklist"
	"github.com/sells-group/visa-checklist/internal/generation"
	"github.com/sells-group/visa-checklist/internal/lease"
	"github.com/sells-group/visa-checklist/internal/resilience"
	"github.com/sells-group/visa-checklist/internal/ruletable"
	"github.com/sells-group/visa-checklist/internal/store"
	"github.com/sells-group/visa-checklist/internal/verify"
	anthropicpkg "github.com/sells-group/visa-checklist/pkg/anthropic"
	"github.com/sells-group/visa-checklist/pkg/backend"
	"github.com/sells-group/visa-checklist/pkg/notion"
)

// appEnv holds the initialized store, clients and services shared by the
// serve, sweep and generate commands.
type appEnv struct {
	Store       store.Store
	Rules       *ruletable.Resolver
	Generations *generation.Service
	Queue       *verify.Queue // nil without an Anthropic key
	redis       *redis.Client
}

// Close drains background work and releases resources.
func (e *appEnv) Close() {
	if e.Generations != nil {
		e.Generations.Wait()
	}
	if e.Queue != nil {
		e.Queue.Wait()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "visa-checklist.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initRuleSource() (ruletable.Source, error) {
	switch cfg.Rules.Source {
	case "notion":
		client := notion.NewClient(cfg.Notion.Token,
			notion.WithRateLimit(cfg.Notion.RatePerSecond),
			notion.WithRetries(cfg.Notion.Retries),
		)
		return ruletable.NotionSource{Client: client, DatabaseID: cfg.Notion.RulesDB}, nil
	case "file", "":
		return ruletable.FileSource{Dir: cfg.Rules.Dir}, nil
	default:
		return nil, eris.Errorf("unsupported rules source: %s", cfg.Rules.Source)
	}
}

func initAnthropic() anthropicpkg.Client {
	if cfg.Anthropic.Key == "" {
		zap.L().Warn("VISA_ANTHROPIC_KEY not set, checklists are rules-only and verification is disabled")
		return nil
	}
	return anthropicpkg.NewClient(cfg.Anthropic.Key, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
}

func loadPrompt() (string, error) {
	if cfg.Checklist.PromptFile == "" {
		return "", nil
	}
	b, err := os.ReadFile(cfg.Checklist.PromptFile)
	if err != nil {
		return "", eris.Wrap(err, "read prompt file")
	}
	return string(b), nil
}

// initEnv validates config for mode, opens the store and wires every
// service. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	env := &appEnv{Store: st}

	src, err := initRuleSource()
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Rules = ruletable.NewResolver(src, cfg.Rules.RefreshTTL)

	prompt, err := loadPrompt()
	if err != nil {
		env.Close()
		return nil, err
	}

	ac := initAnthropic()
	orchCfg := checklist.DefaultConfig()
	orchCfg.Model = cfg.Anthropic.HaikuModel
	orchCfg.MaxTokens = cfg.Checklist.MaxTokens
	orchCfg.Temperature = cfg.Checklist.Temperature
	orchCfg.MaxItems = cfg.Checklist.MaxItems
	orchCfg.Timeout = cfg.Checklist.Timeout
	orchCfg.Retry.MaxAttempts = cfg.Checklist.MaxAttempts
	orchCfg.SystemPrompt = prompt
	orch := checklist.New(ac, orchCfg, checklist.WithBreaker(
		resilience.NewCircuitBreaker(resilience.FromCircuitConfig("anthropic.enrich", 5, 0)),
	))

	builder := canonical.NewBuilder(canonical.Config{
		Thresholds:      cfg.Risk,
		DailyCostUSD:    cfg.Checklist.DailyCostUSD,
		DefaultTripDays: cfg.Checklist.DefaultTripDays,
		DefaultLanguage: cfg.Checklist.DefaultLanguage,
	})

	bc := backend.NewClient(cfg.Backend.BaseURL,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
		backend.WithToken(cfg.Backend.Token),
		backend.WithRateLimit(cfg.Backend.RatePerSecond),
		backend.WithMaxAttempts(cfg.Backend.MaxAttempts),
	)

	env.Generations = generation.New(st, generation.BackendSource{Client: bc}, builder, env.Rules, orch, generation.Config{
		RegenerateCooldown: cfg.Generation.RegenerateCooldown,
		RunTimeout:         cfg.Generation.RunTimeout,
		StaleAfter:         cfg.Generation.StaleAfter,
	})

	if ac != nil {
		if env.Queue, err = initQueue(ctx, env, ac); err != nil {
			env.Close()
			return nil, err
		}
	}
	return env, nil
}

func initQueue(ctx context.Context, env *appEnv, ac anthropicpkg.Client) (*verify.Queue, error) {
	rc, err := lease.NewClient(ctx, lease.Config{URL: cfg.Redis.URL, PoolSize: cfg.Redis.PoolSize})
	if err != nil {
		return nil, err
	}
	var opts []verify.Option
	if rc != nil {
		env.redis = rc
		opts = append(opts, verify.WithLocker(lease.New(rc, cfg.Redis.LeaseKey, cfg.Redis.LeaseTTL)))
		zap.L().Info("sweep lease enabled", zap.String("key", cfg.Redis.LeaseKey))
	} else {
		zap.L().Debug("VISA_REDIS_URL not set, every replica sweeps")
	}

	v := verify.NewLLMVerifier(ac, verify.LLMConfig{Model: cfg.Anthropic.HaikuModel, MaxTokens: cfg.Verify.MaxTokens})
	return verify.New(env.Store, v, verify.Config{
		Interval:       cfg.Verify.Interval,
		ReReviewWindow: cfg.Verify.ReReviewWindow,
		MaxAttempts:    cfg.Verify.MaxAttempts,
		Concurrency:    cfg.Verify.Concurrency,
		RatePerSecond:  cfg.Verify.RatePerSecond,
		Timeout:        cfg.Verify.Timeout,
		ClaimLease:     cfg.Verify.ClaimLease,
		BatchSize:      cfg.Verify.BatchSize,
	}, opts...), nil
}

// errNoVerifier is returned by commands that need the validation queue.
var errNoVerifier = eris.New("verification requires anthropic.key")
