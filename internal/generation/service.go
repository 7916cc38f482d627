// Package generation runs checklist generation as an asynchronous,
// pollable operation with at most one run in flight per application.
//
// The authoritative state lives in the store's checklist_generations
// table. Every transition is a compare-and-set there, so concurrent
// requests across goroutines or replicas observe one run.
package generation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visa-checklist/internal/canonical"
	"github.com/sells-group/visa-checklist/internal/metrics"
	"github.com/sells-group/visa-checklist/internal/model"
	"github.com/sells-group/visa-checklist/internal/ruletable"
	"github.com/sells-group/visa-checklist/internal/store"
	"github.com/sells-group/visa-checklist/pkg/backend"
)

var (
	// ErrNotFound is returned by Get when no generation exists yet.
	ErrNotFound = store.ErrNotFound
	// ErrRegenerationNotAllowed is returned when policy blocks a regeneration.
	ErrRegenerationNotAllowed = eris.New("generation: regeneration not allowed")
)

// RuleResolver resolves the base document list. *ruletable.Resolver
// satisfies it.
type RuleResolver interface {
	Resolve(ctx context.Context, countryCode, visaType string, c model.CanonicalContext) ([]model.CandidateDocument, error)
}

// Generator produces a checklist and never fails. *checklist.Orchestrator
// satisfies it.
type Generator interface {
	Generate(ctx context.Context, cctx model.CanonicalContext, base []model.CandidateDocument) *model.Checklist
}

// Config holds generation policy.
type Config struct {
	// RegenerateCooldown is the minimum age of a ready checklist before an
	// explicit regeneration is accepted.
	RegenerateCooldown time.Duration `yaml:"regenerate_cooldown" mapstructure:"regenerate_cooldown"`
	// RunTimeout bounds one run end to end.
	RunTimeout time.Duration `yaml:"run_timeout" mapstructure:"run_timeout"`
	// StaleAfter lets a new request replace a processing record that has
	// not completed in this long, e.g. after a crash mid-run.
	StaleAfter time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RegenerateCooldown: time.Hour,
		RunTimeout:         2 * time.Minute,
		StaleAfter:         10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RegenerateCooldown < 0 {
		c.RegenerateCooldown = 0
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = d.RunTimeout
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.StaleAfter < c.RunTimeout {
		c.StaleAfter = c.RunTimeout
	}
	return c
}

// Service is the generation state machine.
type Service struct {
	store     store.Store
	snapshots SnapshotSource
	builder   *canonical.Builder
	rules     RuleResolver
	gen       Generator
	cfg       Config
	now       func() time.Time

	wg sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(st store.Store, snapshots SnapshotSource, builder *canonical.Builder, rules RuleResolver, gen Generator, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:     st,
		snapshots: snapshots,
		builder:   builder,
		rules:     rules,
		gen:       gen,
		cfg:       cfg.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the application's current generation.
func (s *Service) Get(ctx context.Context, applicationID string) (*model.ChecklistGeneration, error) {
	return s.store.CurrentGeneration(ctx, applicationID)
}

// History returns every generation of the application, newest first.
func (s *Service) History(ctx context.Context, applicationID string) ([]model.ChecklistGeneration, error) {
	return s.store.ListGenerations(ctx, applicationID)
}

// Wait blocks until every scheduled run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// RequestGeneration returns the application's current state without
// blocking on the model. It starts a run when none exists, when a ready
// checklist was built from an older profile version, or when a processing
// record has gone stale. Failed generations are returned unchanged.
func (s *Service) RequestGeneration(ctx context.Context, applicationID string) (*model.ChecklistGeneration, error) {
	cur, err := s.store.CurrentGeneration(ctx, applicationID)
	if errors.Is(err, store.ErrNotFound) {
		return s.start(ctx, applicationID, nil)
	}
	if err != nil {
		return nil, eris.Wrap(err, "generation: load current")
	}

	switch cur.Status {
	case model.GenerationProcessing:
		if s.stale(cur) {
			return s.replace(ctx, cur, nil)
		}
		return cur, nil
	case model.GenerationReady:
		snap, version, ok := s.currentVersion(ctx, applicationID)
		if !ok || version == cur.ProfileVersion {
			return cur, nil
		}
		zap.L().Info("generation: profile changed, superseding ready checklist",
			zap.String("application_id", applicationID),
			zap.String("old_version", cur.ProfileVersion),
			zap.String("new_version", version),
		)
		return s.replace(ctx, cur, &snap)
	default:
		return cur, nil
	}
}

// Regenerate is the explicit, policy-gated retry. A failed generation is
// always retried; a ready one only after RegenerateCooldown; a processing
// one is returned unchanged.
func (s *Service) Regenerate(ctx context.Context, applicationID string) (*model.ChecklistGeneration, error) {
	cur, err := s.store.CurrentGeneration(ctx, applicationID)
	if errors.Is(err, store.ErrNotFound) {
		return s.start(ctx, applicationID, nil)
	}
	if err != nil {
		return nil, eris.Wrap(err, "generation: load current")
	}

	switch cur.Status {
	case model.GenerationFailed:
		return s.replace(ctx, cur, nil)
	case model.GenerationReady:
		since := cur.UpdatedAt
		if cur.GeneratedAt != nil {
			since = *cur.GeneratedAt
		}
		if wait := s.cfg.RegenerateCooldown - s.now().Sub(since); wait > 0 {
			return cur, eris.Wrapf(ErrRegenerationNotAllowed, "generation: %s ready, cooldown %s remaining", applicationID, wait.Round(time.Second))
		}
		return s.replace(ctx, cur, nil)
	default:
		if s.stale(cur) {
			return s.replace(ctx, cur, nil)
		}
		return cur, nil
	}
}

func (s *Service) stale(g *model.ChecklistGeneration) bool {
	return s.now().Sub(g.UpdatedAt) > s.cfg.StaleAfter
}

// currentVersion fetches the latest snapshot and its profile version. A
// fetch or normalization failure keeps the existing checklist.
func (s *Service) currentVersion(ctx context.Context, applicationID string) (canonical.ApplicationSnapshot, string, bool) {
	snap, err := s.snapshots.Snapshot(ctx, applicationID)
	if err != nil {
		zap.L().Warn("generation: snapshot unavailable, serving ready checklist",
			zap.String("application_id", applicationID),
			zap.String("category", string(model.CategoryInternal)),
			zap.Error(err),
		)
		return canonical.ApplicationSnapshot{}, "", false
	}
	profile, err := s.builder.Profile(snap)
	if err != nil {
		return canonical.ApplicationSnapshot{}, "", false
	}
	return snap, profile.Version, true
}

func (s *Service) newRecord(applicationID string, attempt int) *model.ChecklistGeneration {
	now := s.now()
	return &model.ChecklistGeneration{
		ID:            uuid.New().String(),
		ApplicationID: applicationID,
		Status:        model.GenerationProcessing,
		Attempt:       attempt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *Service) start(ctx context.Context, applicationID string, snap *canonical.ApplicationSnapshot) (*model.ChecklistGeneration, error) {
	g := s.newRecord(applicationID, 1)
	created, err := s.store.CreateGeneration(ctx, g)
	if err != nil {
		return nil, eris.Wrap(err, "generation: create")
	}
	if !created {
		// Another request won the race; report its state.
		return s.store.CurrentGeneration(ctx, applicationID)
	}
	s.schedule(ctx, g, snap)
	return g, nil
}

func (s *Service) replace(ctx context.Context, cur *model.ChecklistGeneration, snap *canonical.ApplicationSnapshot) (*model.ChecklistGeneration, error) {
	g := s.newRecord(cur.ApplicationID, cur.Attempt+1)
	swapped, err := s.store.SupersedeAndCreate(ctx, cur.ID, cur.Status, g)
	if err != nil {
		return nil, eris.Wrap(err, "generation: supersede")
	}
	if !swapped {
		return s.store.CurrentGeneration(ctx, cur.ApplicationID)
	}
	s.schedule(ctx, g, snap)
	return g, nil
}

// schedule runs g in the background. The run is detached from the
// caller's cancellation: a client abandoning its poll does not stop it.
func (s *Service) schedule(ctx context.Context, g *model.ChecklistGeneration, snap *canonical.ApplicationSnapshot) {
	runCtx := context.WithoutCancel(ctx)
	rec := *g
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(runCtx, &rec, snap)
	}()
}

func (s *Service) run(ctx context.Context, g *model.ChecklistGeneration, snap *canonical.ApplicationSnapshot) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	metrics.GenerationsInFlight.Inc()
	defer metrics.GenerationsInFlight.Dec()

	log := zap.L().With(
		zap.String("application_id", g.ApplicationID),
		zap.String("generation_id", g.ID),
		zap.Int("attempt", g.Attempt),
	)
	start := time.Now()

	cl, cctx, category, err := s.produce(ctx, g.ApplicationID, snap)
	now := s.now()
	g.UpdatedAt = now
	if cctx != nil {
		g.Context = cctx
		g.ProfileVersion = cctx.Profile.Version
	}
	if err != nil {
		g.Status = model.GenerationFailed
		g.Error = err.Error()
		g.ErrorCategory = category
		log.Error("generation: failed",
			zap.String("category", string(category)),
			zap.Error(err),
		)
	} else {
		g.Status = model.GenerationReady
		g.Checklist = cl
		g.GeneratedAt = &now
		log.Info("generation: ready",
			zap.Int("items", len(cl.Items)),
			zap.Bool("ai_generated", cl.AIGenerated),
			zap.Duration("duration", time.Since(start)),
		)
	}
	metrics.Generations.WithLabelValues(string(g.Status), string(g.ErrorCategory)).Inc()

	// Completion is persisted even when the run timed out.
	if err := s.store.CompleteGeneration(context.WithoutCancel(ctx), g); err != nil {
		log.Warn("generation: completion not recorded",
			zap.String("category", string(model.CategoryInternal)),
			zap.Error(err),
		)
	}
}

// produce performs one generation. Only input problems and infrastructure
// failures return an error; enrichment problems fall back inside the
// generator.
func (s *Service) produce(ctx context.Context, applicationID string, snap *canonical.ApplicationSnapshot) (*model.Checklist, *model.CanonicalContext, model.ErrorCategory, error) {
	if snap == nil {
		fetched, err := s.snapshots.Snapshot(ctx, applicationID)
		if err != nil {
			if errors.Is(err, backend.ErrNotFound) {
				return nil, nil, model.CategoryInput, eris.Wrap(err, "generation: application context")
			}
			return nil, nil, model.CategoryInternal, eris.Wrap(err, "generation: fetch snapshot")
		}
		snap = &fetched
	}

	cctx, err := s.builder.Build(*snap)
	if err != nil {
		if errors.Is(err, canonical.ErrIncompleteProfile) {
			return nil, nil, model.CategoryInput, err
		}
		return nil, nil, model.CategoryInternal, eris.Wrap(err, "generation: build context")
	}

	base, err := s.rules.Resolve(ctx, cctx.CountryCode(), cctx.VisaType(), cctx)
	if err != nil {
		if errors.Is(err, ruletable.ErrRuleSetNotFound) {
			return nil, &cctx, model.CategoryInput, err
		}
		return nil, &cctx, model.CategoryInternal, eris.Wrap(err, "generation: resolve rules")
	}

	return s.gen.Generate(ctx, cctx, base), &cctx, "", nil
}
