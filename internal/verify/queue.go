// Package verify is the document validation queue. A periodic sweep and
// on-upload triggers verify pending documents against the application's
// ready checklist and write the mapped status back.
package verify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/visa-checklist/internal/metrics"
	"github.com/sells-group/visa-checklist/internal/model"
	"github.com/sells-group/visa-checklist/internal/resilience"
	"github.com/sells-group/visa-checklist/internal/store"
)

// Config holds queue policy.
type Config struct {
	Interval       time.Duration `yaml:"interval" mapstructure:"interval"`
	ReReviewWindow time.Duration `yaml:"re_review_window" mapstructure:"re_review_window"`
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	Concurrency    int           `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSecond  float64       `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// ClaimLease is how long a verification claim blocks other workers. It
	// is raised to at least twice Timeout.
	ClaimLease time.Duration `yaml:"claim_lease" mapstructure:"claim_lease"`
	BatchSize  int           `yaml:"batch_size" mapstructure:"batch_size"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Minute,
		ReReviewWindow: 24 * time.Hour,
		MaxAttempts:    5,
		Concurrency:    4,
		RatePerSecond:  2,
		Timeout:        30 * time.Second,
		ClaimLease:     5 * time.Minute,
		BatchSize:      100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.ReReviewWindow <= 0 {
		c.ReReviewWindow = d.ReReviewWindow
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = d.RatePerSecond
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.ClaimLease < 2*c.Timeout {
		c.ClaimLease = 2 * c.Timeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	return c
}

// Locker elects the replica that runs the periodic sweep. *lease.Lease
// satisfies it.
type Locker interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Stats summarizes one sweep.
type Stats struct {
	Selected  int
	Processed int
	Skipped   int
	Errors    int
}

// Queue verifies pending documents.
type Queue struct {
	store    store.Store
	verifier Verifier
	cfg      Config
	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
	locker   Locker
	now      func() time.Time

	wg sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithLocker guards Run with a leader lease.
func WithLocker(l Locker) Option {
	return func(q *Queue) { q.locker = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithBreaker sets the circuit breaker around verifier calls.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(q *Queue) { q.breaker = cb }
}

// New creates a Queue.
func New(st store.Store, v Verifier, cfg Config, opts ...Option) *Queue {
	cfg = cfg.withDefaults()
	q := &Queue{
		store:    st,
		verifier: v,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(int(cfg.RatePerSecond), 1)),
		breaker:  resilience.NewCircuitBreaker(resilience.FromCircuitConfig("verifier", 5, 30*time.Second)),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Sweep verifies every due document once, concurrently up to the
// configured limit.
func (q *Queue) Sweep(ctx context.Context) (Stats, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	now := q.now()
	due, err := q.store.ListDueDocuments(ctx, store.DueFilter{
		ReReviewBefore: now.Add(-q.cfg.ReReviewWindow),
		LeaseBefore:    now.Add(-q.cfg.ClaimLease),
		MaxAttempts:    q.cfg.MaxAttempts,
		Limit:          q.cfg.BatchSize,
	})
	if err != nil {
		return Stats{}, eris.Wrap(err, "verify: list due documents")
	}

	var processed, skipped, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.cfg.Concurrency)
	for i := range due {
		doc := due[i]
		g.Go(func() error {
			if err := q.limiter.Wait(gctx); err != nil {
				return err
			}
			done, err := q.process(gctx, &doc)
			switch {
			case err != nil:
				failed.Add(1)
				zap.L().Error("verify: document failed",
					zap.String("document_id", doc.ID),
					zap.String("category", string(model.CategoryInternal)),
					zap.Error(err),
				)
			case done:
				processed.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	stats := Stats{
		Selected:  len(due),
		Processed: int(processed.Load()),
		Skipped:   int(skipped.Load()),
		Errors:    int(failed.Load()),
	}
	zap.L().Info("verify: sweep complete",
		zap.Int("selected", stats.Selected),
		zap.Int("processed", stats.Processed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
	)
	return stats, eris.Wrap(err, "verify: sweep")
}

// Trigger verifies one document in the background, typically right after
// upload. The work is detached from ctx's cancellation.
func (q *Queue) Trigger(ctx context.Context, documentID string) {
	runCtx := context.WithoutCancel(ctx)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if _, err := q.Process(runCtx, documentID); err != nil {
			zap.L().Warn("verify: triggered verification failed",
				zap.String("document_id", documentID),
				zap.String("category", string(model.CategoryInternal)),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until triggered verifications have finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Process verifies one document now. It reports false when the document
// was not eligible: not pending, already claimed, or its checklist is not
// ready yet.
func (q *Queue) Process(ctx context.Context, documentID string) (bool, error) {
	doc, err := q.store.GetDocument(ctx, documentID)
	if err != nil {
		return false, eris.Wrap(err, "verify: load document")
	}
	if doc.Status != model.DocumentPending {
		return false, nil
	}
	return q.process(ctx, doc)
}

func (q *Queue) process(ctx context.Context, doc *model.UserDocument) (bool, error) {
	gen, err := q.store.CurrentGeneration(ctx, doc.ApplicationID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "verify: load checklist")
	}
	if gen.Status != model.GenerationReady || gen.Checklist == nil || gen.Context == nil {
		return false, nil
	}

	// timestamptz keeps microseconds; the claim time doubles as the claim token.
	now := q.now().UTC().Truncate(time.Microsecond)
	claimed, err := q.store.ClaimDocument(ctx, doc.ID, now, now.Add(-q.cfg.ClaimLease))
	if err != nil {
		return false, eris.Wrap(err, "verify: claim")
	}
	if !claimed {
		return false, nil
	}

	req := Request{Document: *doc, Item: gen.Checklist.Item(doc.DocumentType), Context: *gen.Context}
	out := q.verify(ctx, req)

	// The outcome is written even if the sweep is shutting down.
	if err := q.store.RecordVerification(context.WithoutCancel(ctx), doc.ID, now, out, q.now()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Re-uploaded or re-claimed while we were verifying; drop the stale verdict.
			return false, nil
		}
		return false, eris.Wrap(err, "verify: record outcome")
	}
	return true, nil
}

// verify calls the verifier under timeout and breaker and maps the result
// to a stored outcome. Errors leave the document pending and flagged so the
// sweep retries after the re-review window.
func (q *Queue) verify(ctx context.Context, req Request) model.VerificationOutcome {
	guard := resilience.Guard{
		Name:    "verifier",
		Timeout: q.cfg.Timeout,
		Retry:   resilience.RetryConfig{MaxAttempts: 1},
		Breaker: q.breaker,
	}
	res, err := resilience.Call(ctx, guard, func(ctx context.Context) (Result, error) {
		return q.verifier.Verify(ctx, req)
	})
	if err != nil {
		metrics.Verifications.WithLabelValues("error").Inc()
		zap.L().Warn("verify: verification error, will retry",
			zap.String("document_id", req.Document.ID),
			zap.String("category", string(model.CategoryVerification)),
			zap.Error(err),
		)
		return model.VerificationOutcome{
			Status:      model.DocumentPending,
			NeedsReview: true,
			Notes:       "verification unavailable",
		}
	}

	status, review := model.StatusForVerdict(res.Verdict)
	metrics.Verifications.WithLabelValues(verdictLabel(res.Verdict)).Inc()
	if review {
		zap.L().Info("verify: inconclusive verdict, will retry",
			zap.String("document_id", req.Document.ID),
			zap.String("verdict", string(res.Verdict)),
			zap.String("category", string(model.CategoryVerification)),
		)
	}
	return model.VerificationOutcome{
		Status:      status,
		NeedsReview: review,
		Verdict:     res.Verdict,
		Notes:       res.Notes,
	}
}

// verdictLabel bounds metric cardinality to the known verdicts.
func verdictLabel(v model.Verdict) string {
	switch v {
	case model.VerdictVerified, model.VerdictRejected, model.VerdictNeedsReview, model.VerdictUncertain:
		return string(v)
	default:
		return "other"
	}
}

// Run sweeps every Interval until ctx is done. With a Locker configured,
// only the lease holder sweeps.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.Interval)
	defer ticker.Stop()
	defer func() {
		if q.locker != nil {
			_ = q.locker.Release(context.WithoutCancel(ctx))
		}
	}()

	for {
		q.tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (q *Queue) tick(ctx context.Context) {
	if q.locker != nil {
		held, err := q.locker.TryAcquire(ctx)
		if err != nil {
			zap.L().Warn("verify: lease unavailable, skipping sweep",
				zap.String("category", string(model.CategoryInternal)),
				zap.Error(err),
			)
			return
		}
		if !held {
			zap.L().Debug("verify: another replica holds the sweep lease")
			return
		}
	}
	if _, err := q.Sweep(ctx); err != nil && ctx.Err() == nil {
		zap.L().Error("verify: sweep failed",
			zap.String("category", string(model.CategoryInternal)),
			zap.Error(err),
		)
	}
}
