package generation

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visa-checklist/internal/canonical"
	"github.com/sells-group/visa-checklist/internal/checklist"
	"github.com/sells-group/visa-checklist/internal/model"
	"github.com/sells-group/visa-checklist/internal/resilience"
	"github.com/sells-group/visa-checklist/internal/ruletable"
	"github.com/sells-group/visa-checklist/internal/store"
	"github.com/sells-group/visa-checklist/pkg/anthropic"
	"github.com/sells-group/visa-checklist/pkg/anthropic/mocks"
	"github.com/sells-group/visa-checklist/pkg/backend"
)

const snapshotJSON = `{
  "applicationId": "app-1",
  "version": "v1",
  "application": {"country": "DE", "visaType": "tourist", "durationDays": 14},
  "userProfile": {"appLanguage": "en"},
  "questionnaireSummary": {
    "age": 34,
    "citizenship": "UZ",
    "bankBalanceUSD": 840,
    "monthlyIncomeUSD": 700,
    "tripBudgetUSD": 1400,
    "hasProperty": false,
    "employmentStatus": "employed",
    "previousTrips": 0
  }
}`

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// snapshots serves a mutable snapshot for any application id.
type snapshots struct {
	mu   sync.Mutex
	snap canonical.ApplicationSnapshot
	err  error
}

func newSnapshots(t *testing.T) *snapshots {
	t.Helper()
	var snap canonical.ApplicationSnapshot
	require.NoError(t, json.Unmarshal([]byte(snapshotJSON), &snap))
	return &snapshots{snap: snap}
}

func (s *snapshots) Snapshot(_ context.Context, applicationID string) (canonical.ApplicationSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return canonical.ApplicationSnapshot{}, s.err
	}
	snap := s.snap
	snap.ApplicationID = applicationID
	return snap, nil
}

func (s *snapshots) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *snapshots) update(fn func(*canonical.ApplicationSnapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.mu.Unlock()
}

type countingGenerator struct {
	calls atomic.Int32
}

func (g *countingGenerator) Generate(_ context.Context, cctx model.CanonicalContext, base []model.CandidateDocument) *model.Checklist {
	g.calls.Add(1)
	cl := &model.Checklist{CountryCode: cctx.CountryCode(), VisaType: cctx.VisaType(), RiskLevel: cctx.RiskLevel}
	for i, c := range base {
		cl.Items = append(cl.Items, model.ChecklistItem{
			DocumentType: c.Entry.DocumentType,
			Tier:         c.Entry.Tier,
			Priority:     i + 1,
			Applicable:   true,
			Source:       model.SourceRules,
		})
	}
	return cl
}

type fixture struct {
	svc   *Service
	store *store.SQLiteStore
	snaps *snapshots
	clock *clock
}

func newFixture(t *testing.T, gen Generator, cfg Config) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "gen.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	clk := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	snaps := newSnapshots(t)
	rules := ruletable.NewResolver(ruletable.FileSource{Dir: filepath.Join("..", "..", "rules")}, 0)
	svc := New(st, snaps, canonical.NewBuilder(canonical.DefaultConfig()), rules, gen, cfg, WithClock(clk.Now))
	return &fixture{svc: svc, store: st, snaps: snaps, clock: clk}
}

func (f *fixture) settle(t *testing.T, appID string) *model.ChecklistGeneration {
	t.Helper()
	f.svc.Wait()
	g, err := f.svc.Get(context.Background(), appID)
	require.NoError(t, err)
	return g
}

func TestRequestGeneration_SingleFlight(t *testing.T) {
	client := mocks.NewMockClient(t)
	release := make(chan struct{})
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(func(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			<-release
			return mocks.TextResponse("this is not json"), nil
		}).Once()

	cfg := checklist.DefaultConfig()
	cfg.Retry = resilience.RetryConfig{MaxAttempts: 1}
	f := newFixture(t, checklist.New(client, cfg), DefaultConfig())

	const callers = 10
	results := make([]*model.ChecklistGeneration, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := f.svc.RequestGeneration(context.Background(), "app-1")
			assert.NoError(t, err)
			results[i] = g
		}()
	}
	wg.Wait()

	for _, g := range results {
		require.NotNil(t, g)
		assert.Equal(t, results[0].ID, g.ID, "every caller observes the same generation")
		assert.Equal(t, model.GenerationProcessing, g.Status)
	}

	close(release)
	ready := f.settle(t, "app-1")
	assert.Equal(t, model.GenerationReady, ready.Status)
	assert.Equal(t, results[0].ID, ready.ID)
	require.NotNil(t, ready.Checklist)
	assert.False(t, ready.Checklist.AIGenerated)
	assert.NotEmpty(t, ready.Checklist.Items)
	assert.Equal(t, "v1", ready.ProfileVersion)
	require.NotNil(t, ready.Context)
	assert.Contains(t, ready.Context.RiskDrivers, model.DriverLowFunds)

	// A ready checklist is returned without another model call.
	again, err := f.svc.RequestGeneration(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, ready.ID, again.ID)
	assert.Equal(t, model.GenerationReady, again.Status)
	f.svc.Wait()
}

func TestRequestGeneration_ProfileChangeSupersedes(t *testing.T) {
	gen := &countingGenerator{}
	f := newFixture(t, gen, DefaultConfig())
	ctx := context.Background()

	_, err := f.svc.RequestGeneration(ctx, "app-1")
	require.NoError(t, err)
	first := f.settle(t, "app-1")
	require.Equal(t, model.GenerationReady, first.Status)

	f.snaps.update(func(s *canonical.ApplicationSnapshot) { s.Version = "v2" })
	f.clock.Advance(time.Minute)

	next, err := f.svc.RequestGeneration(ctx, "app-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
	assert.Equal(t, model.GenerationProcessing, next.Status)
	assert.Equal(t, 2, next.Attempt)

	cur := f.settle(t, "app-1")
	assert.Equal(t, model.GenerationReady, cur.Status)
	assert.Equal(t, "v2", cur.ProfileVersion)
	assert.Equal(t, int32(2), gen.calls.Load())

	history, err := f.svc.History(ctx, "app-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, next.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)
	assert.NotNil(t, history[1].SupersededAt, "old checklist retained as history")
	assert.NotNil(t, history[1].Checklist)
}

func TestRequestGeneration_SnapshotOutageKeepsReady(t *testing.T) {
	gen := &countingGenerator{}
	f := newFixture(t, gen, DefaultConfig())
	ctx := context.Background()

	_, err := f.svc.RequestGeneration(ctx, "app-1")
	require.NoError(t, err)
	ready := f.settle(t, "app-1")

	f.snaps.fail(errors.New("backend down"))
	got, err := f.svc.RequestGeneration(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, ready.ID, got.ID)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestRequestGeneration_Failures(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(s *snapshots)
		category model.ErrorCategory
		contains string
	}{
		{
			name:     "no approved rule set",
			mutate:   func(s *snapshots) { s.update(func(snap *canonical.ApplicationSnapshot) { snap.Application.Country = "FR" }) },
			category: model.CategoryInput,
			contains: "rule set not found",
		},
		{
			name:     "missing visa type",
			mutate:   func(s *snapshots) { s.update(func(snap *canonical.ApplicationSnapshot) { snap.Application.VisaType = "" }) },
			category: model.CategoryInput,
			contains: "incomplete profile",
		},
		{
			name:     "unknown application",
			mutate:   func(s *snapshots) { s.fail(notFoundErr()) },
			category: model.CategoryInput,
			contains: "not found",
		},
		{
			name:     "backend outage",
			mutate:   func(s *snapshots) { s.fail(errors.New("connection refused")) },
			category: model.CategoryInternal,
			contains: "connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &countingGenerator{}
			f := newFixture(t, gen, DefaultConfig())
			tt.mutate(f.snaps)

			_, err := f.svc.RequestGeneration(context.Background(), "app-1")
			require.NoError(t, err)
			g := f.settle(t, "app-1")

			assert.Equal(t, model.GenerationFailed, g.Status)
			assert.Equal(t, tt.category, g.ErrorCategory)
			assert.Contains(t, g.Error, tt.contains)
			assert.Nil(t, g.Checklist)
			assert.Zero(t, gen.calls.Load())

			// Failed generations are not retried implicitly.
			again, err := f.svc.RequestGeneration(context.Background(), "app-1")
			require.NoError(t, err)
			assert.Equal(t, g.ID, again.ID)
			assert.Equal(t, model.GenerationFailed, again.Status)
		})
	}
}

func notFoundErr() error {
	return errors.Join(backend.ErrNotFound, errors.New("status 404"))
}

func TestRegenerate_RetriesFailed(t *testing.T) {
	gen := &countingGenerator{}
	f := newFixture(t, gen, DefaultConfig())
	ctx := context.Background()

	f.snaps.fail(errors.New("connection refused"))
	_, err := f.svc.RequestGeneration(ctx, "app-1")
	require.NoError(t, err)
	failed := f.settle(t, "app-1")
	require.Equal(t, model.GenerationFailed, failed.Status)

	f.snaps.fail(nil)

	retry, err := f.svc.Regenerate(ctx, "app-1")
	require.NoError(t, err)
	assert.NotEqual(t, failed.ID, retry.ID)
	assert.Equal(t, 2, retry.Attempt)

	cur := f.settle(t, "app-1")
	assert.Equal(t, model.GenerationReady, cur.Status)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestRegenerate_CooldownOnReady(t *testing.T) {
	gen := &countingGenerator{}
	cfg := DefaultConfig()
	cfg.RegenerateCooldown = time.Hour
	f := newFixture(t, gen, cfg)
	ctx := context.Background()

	_, err := f.svc.RequestGeneration(ctx, "app-1")
	require.NoError(t, err)
	ready := f.settle(t, "app-1")

	f.clock.Advance(10 * time.Minute)
	got, err := f.svc.Regenerate(ctx, "app-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRegenerationNotAllowed))
	assert.Equal(t, ready.ID, got.ID)

	f.clock.Advance(time.Hour)
	got, err = f.svc.Regenerate(ctx, "app-1")
	require.NoError(t, err)
	assert.NotEqual(t, ready.ID, got.ID)
	f.settle(t, "app-1")
	assert.Equal(t, int32(2), gen.calls.Load())
}

func TestRegenerate_ProcessingUnchanged(t *testing.T) {
	f := newFixture(t, &countingGenerator{}, DefaultConfig())
	ctx := context.Background()

	g := &model.ChecklistGeneration{
		ID: "gen-live", ApplicationID: "app-1", Status: model.GenerationProcessing, Attempt: 1,
		CreatedAt: f.clock.Now(), UpdatedAt: f.clock.Now(),
	}
	created, err := f.store.CreateGeneration(ctx, g)
	require.NoError(t, err)
	require.True(t, created)

	got, err := f.svc.Regenerate(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, "gen-live", got.ID)
	assert.Equal(t, model.GenerationProcessing, got.Status)
}

func TestRequestGeneration_ReplacesStaleProcessing(t *testing.T) {
	gen := &countingGenerator{}
	f := newFixture(t, gen, DefaultConfig())
	ctx := context.Background()

	abandoned := &model.ChecklistGeneration{
		ID: "gen-crashed", ApplicationID: "app-1", Status: model.GenerationProcessing, Attempt: 1,
		CreatedAt: f.clock.Now(), UpdatedAt: f.clock.Now(),
	}
	_, err := f.store.CreateGeneration(ctx, abandoned)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	got, err := f.svc.RequestGeneration(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, "gen-crashed", got.ID, "a live run is left alone")

	f.clock.Advance(time.Hour)
	got, err = f.svc.RequestGeneration(ctx, "app-1")
	require.NoError(t, err)
	assert.NotEqual(t, "gen-crashed", got.ID)
	assert.Equal(t, 2, got.Attempt)
	assert.Equal(t, model.GenerationReady, f.settle(t, "app-1").Status)
}

func TestRun_SurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t, &countingGenerator{}, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	g, err := f.svc.RequestGeneration(ctx, "app-1")
	require.NoError(t, err)
	cancel()

	cur := f.settle(t, "app-1")
	assert.Equal(t, g.ID, cur.ID)
	assert.Equal(t, model.GenerationReady, cur.Status)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t, &countingGenerator{}, DefaultConfig())
	_, err := f.svc.Get(context.Background(), "nobody")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{RunTimeout: time.Minute, StaleAfter: time.Second}.withDefaults()
	assert.Equal(t, time.Minute, cfg.StaleAfter, "stale window never shorter than a run")
	assert.Equal(t, DefaultConfig().RunTimeout, Config{}.withDefaults().RunTimeout)
}

type fakeBackend struct {
	raw json.RawMessage
	err error
}

func (f fakeBackend) AIContext(context.Context, string) (json.RawMessage, error) {
	return f.raw, f.err
}

func TestBackendSource(t *testing.T) {
	src := BackendSource{Client: fakeBackend{raw: json.RawMessage(`{"application":{"countryCode":"DE","visaType":"tourist"}}`)}}
	snap, err := src.Snapshot(context.Background(), "app-9")
	require.NoError(t, err)
	assert.Equal(t, "app-9", snap.ApplicationID)
	assert.Equal(t, "DE", snap.Application.CountryCode)

	_, err = BackendSource{Client: fakeBackend{raw: json.RawMessage(`[1,2]`)}}.Snapshot(context.Background(), "x")
	assert.Error(t, err)

	_, err = BackendSource{Client: fakeBackend{err: backend.ErrNotFound}}.Snapshot(context.Background(), "x")
	assert.True(t, errors.Is(err, backend.ErrNotFound))
}
