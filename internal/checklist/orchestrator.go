// Package checklist turns a canonical context and the rule-table base
// documents into a prioritized, explained checklist. One language-model
// enrichment pass adds explanations on top of the base list; when that pass
// fails in any way the base list is returned as is.
package checklist

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/visa-checklist/internal/metrics"
	"github.com/sells-group/visa-checklist/internal/model"
	"github.com/sells-group/visa-checklist/internal/resilience"
	"github.com/sells-group/visa-checklist/pkg/anthropic"
)

// Fallback reasons reported to the auditor and the fallback counter.
const (
	ReasonDisabled        = "disabled"
	ReasonTimeout         = "timeout"
	ReasonCircuitOpen     = "circuit_open"
	ReasonModelError      = "model_error"
	ReasonInvalidJSON     = "invalid_json"
	ReasonSchemaViolation = "schema_violation"
	ReasonMissingRequired = "missing_required"
)

// Config holds the enrichment knobs. Zero values fall back to DefaultConfig,
// except Temperature where only a negative value does.
type Config struct {
	Model       string
	MaxTokens   int64
	Temperature float64
	// MaxItems caps the enriched checklist. Required items are never
	// dropped, so it can exceed the cap only when required items alone do.
	// The rules-only fallback is never capped.
	MaxItems int
	// Timeout bounds each model attempt.
	Timeout time.Duration
	Retry   resilience.RetryConfig
	// SystemPrompt overrides the built-in system instruction.
	SystemPrompt string
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 2
	return Config{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   2000,
		Temperature: 0.3,
		MaxItems:    20,
		Timeout:     30 * time.Second,
		Retry:       retry,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Temperature < 0 {
		c.Temperature = d.Temperature
	}
	if c.MaxItems <= 0 {
		c.MaxItems = d.MaxItems
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = d.Retry
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = systemInstruction
	}
	return c
}

// Orchestrator generates checklists. It is safe for concurrent use.
type Orchestrator struct {
	client  anthropic.Client
	cfg     Config
	breaker *resilience.CircuitBreaker
	auditor Auditor
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAuditor replaces the zap-backed auditor.
func WithAuditor(a Auditor) Option {
	return func(o *Orchestrator) { o.auditor = a }
}

// WithBreaker guards model calls with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(o *Orchestrator) { o.breaker = cb }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. A nil client disables enrichment and every
// checklist comes from the rule table alone.
func New(client anthropic.Client, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:  client,
		cfg:     cfg.withDefaults(),
		auditor: LogAuditor{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Generate builds the checklist for cctx from the resolved base documents.
// It never fails: any enrichment problem yields the rules-only checklist.
func (o *Orchestrator) Generate(ctx context.Context, cctx model.CanonicalContext, base []model.CandidateDocument) *model.Checklist {
	start := o.now()
	rec := AuditRecord{
		ApplicationID:  cctx.Profile.ApplicationID,
		ProfileVersion: cctx.Profile.Version,
		CountryCode:    cctx.CountryCode(),
		VisaType:       cctx.VisaType(),
		Model:          o.cfg.Model,
	}

	cl, reason := o.enrich(ctx, cctx, base, &rec)
	if cl == nil {
		cl = fallbackChecklist(cctx, base)
		rec.Outcome = OutcomeFallback
		rec.FallbackReason = reason
		metrics.EnrichmentFallbacks.WithLabelValues(reason).Inc()
	} else {
		rec.Outcome = OutcomeEnriched
	}
	metrics.EnrichmentOutcomes.WithLabelValues(rec.Outcome).Inc()

	cl.GeneratedAt = o.now().UTC()
	rec.Items = len(cl.Items)
	rec.Duration = o.now().Sub(start)
	o.auditor.Record(ctx, rec)
	return cl
}

// enrich runs the model pass. A nil checklist means fall back for reason.
func (o *Orchestrator) enrich(ctx context.Context, cctx model.CanonicalContext, base []model.CandidateDocument, rec *AuditRecord) (*model.Checklist, string) {
	if o.client == nil {
		return nil, ReasonDisabled
	}

	req, hash, err := buildRequest(o.cfg, cctx, base)
	if err != nil {
		zap.L().Error("checklist: build request",
			zap.String("category", string(model.CategoryInternal)),
			zap.Error(err),
		)
		return nil, ReasonModelError
	}
	rec.RequestHash = hash

	guard := resilience.Guard{
		Name:    "anthropic.enrich",
		Timeout: o.cfg.Timeout,
		Retry:   o.cfg.Retry,
		Breaker: o.breaker,
	}
	callStart := o.now()
	resp, err := resilience.Call(ctx, guard, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return o.client.CreateMessage(ctx, req)
	})
	if err != nil {
		reason := callFailureReason(err)
		metrics.ModelCallDuration.WithLabelValues("enrich", reason).Observe(o.now().Sub(callStart).Seconds())
		zap.L().Warn("checklist: enrichment call failed, using rule table",
			zap.String("category", string(model.CategoryEnrichment)),
			zap.String("application_id", cctx.Profile.ApplicationID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return nil, reason
	}
	metrics.ModelCallDuration.WithLabelValues("enrich", "ok").Observe(o.now().Sub(callStart).Seconds())
	rec.Usage = resp.Usage
	resp.Usage.LogCost(o.cfg.Model, "checklist_enrich")

	enr, reason, err := parseEnrichment(resp.Text())
	if err != nil {
		zap.L().Warn("checklist: enrichment output rejected, using rule table",
			zap.String("category", string(model.CategoryEnrichment)),
			zap.String("application_id", cctx.Profile.ApplicationID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return nil, reason
	}

	merged := merge(cctx, base, enr, o.cfg.MaxItems)
	if len(merged.missing) > 0 {
		zap.L().Warn("checklist: enrichment dropped required documents, using rule table",
			zap.String("category", string(model.CategoryEnrichment)),
			zap.String("application_id", cctx.Profile.ApplicationID),
			zap.Strings("missing", merged.missing),
		)
		return nil, ReasonMissingRequired
	}
	rec.Corrections = merged.restored + enforceConsistency(cctx, merged.checklist, enr.RiskLevel)
	return merged.checklist, ""
}

func callFailureReason(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return ReasonCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonModelError
	}
}
