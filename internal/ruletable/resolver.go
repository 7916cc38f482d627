// Package ruletable resolves the deterministic base document list for a
// (country, visa type) pair from approved rule sets.
package ruletable

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visa-checklist/internal/model"
)

// ErrRuleSetNotFound means no approved rule set exists for the pair. It is a
// hard stop: requirements are never guessed.
var ErrRuleSetNotFound = eris.New("ruletable: rule set not found")

type pairKey struct {
	country  string
	visaType string
}

// Resolver indexes approved rule sets from a Source and refreshes them after
// a TTL. A zero TTL loads once and never refreshes.
type Resolver struct {
	src Source
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	index    map[pairKey]model.RuleSet
	loadedAt time.Time
}

// NewResolver creates a Resolver over src.
func NewResolver(src Source, ttl time.Duration) *Resolver {
	return &Resolver{src: src, ttl: ttl, now: time.Now}
}

// RuleSet returns the approved rule set for the pair.
func (r *Resolver) RuleSet(ctx context.Context, countryCode, visaType string) (model.RuleSet, error) {
	idx, err := r.snapshot(ctx)
	if err != nil {
		return model.RuleSet{}, err
	}
	k := pairKey{strings.ToUpper(strings.TrimSpace(countryCode)), strings.ToLower(strings.TrimSpace(visaType))}
	rs, ok := idx[k]
	if !ok {
		return model.RuleSet{}, eris.Wrapf(ErrRuleSetNotFound, "ruletable: %s/%s", k.country, k.visaType)
	}
	return rs, nil
}

// Resolve returns the entries of the pair's rule set whose condition holds
// for c, ordered by tier strictness and then by declared position.
func (r *Resolver) Resolve(ctx context.Context, countryCode, visaType string, c model.CanonicalContext) ([]model.CandidateDocument, error) {
	rs, err := r.RuleSet(ctx, countryCode, visaType)
	if err != nil {
		return nil, err
	}
	return Select(rs, c), nil
}

// Select evaluates rs against c without touching any source.
func Select(rs model.RuleSet, c model.CanonicalContext) []model.CandidateDocument {
	var out []model.CandidateDocument
	for i, e := range rs.Entries {
		if Matches(e.Condition, &c) {
			out = append(out, model.CandidateDocument{Entry: e, Order: i})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Entry.Tier.Strictness() > out[j].Entry.Tier.Strictness()
	})
	return out
}

// Reload forces a refresh from the source.
func (r *Resolver) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(ctx)
}

func (r *Resolver) snapshot(ctx context.Context) (map[pairKey]model.RuleSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stale := r.index == nil || (r.ttl > 0 && r.now().Sub(r.loadedAt) > r.ttl)
	if stale {
		if err := r.loadLocked(ctx); err != nil {
			if r.index == nil {
				return nil, err
			}
			// Keep serving the last good index when a refresh fails.
			zap.L().Warn("ruletable: refresh failed, serving cached rules",
				zap.String("category", string(model.CategoryInternal)),
				zap.Error(err),
			)
		}
	}
	return r.index, nil
}

func (r *Resolver) loadLocked(ctx context.Context) error {
	sets, err := r.src.LoadAll(ctx)
	if err != nil {
		return eris.Wrap(err, "ruletable: load")
	}
	idx, err := buildIndex(sets)
	if err != nil {
		return err
	}
	r.index = idx
	r.loadedAt = r.now()
	zap.L().Info("ruletable: loaded rule sets", zap.Int("approved", len(idx)))
	return nil
}

// ValidateAll validates every rule set and returns how many distinct pairs
// have an approved set.
func ValidateAll(sets []model.RuleSet) (int, error) {
	idx, err := buildIndex(sets)
	if err != nil {
		return 0, err
	}
	return len(idx), nil
}

// buildIndex validates every rule set and keeps the approved ones. When a
// pair has more than one approved set the highest version wins.
func buildIndex(sets []model.RuleSet) (map[pairKey]model.RuleSet, error) {
	idx := make(map[pairKey]model.RuleSet, len(sets))
	for i := range sets {
		rs := sets[i]
		if err := Validate(&rs); err != nil {
			return nil, err
		}
		if !rs.Approved {
			continue
		}
		k := pairKey{rs.CountryCode, rs.VisaType}
		if prev, ok := idx[k]; ok && prev.Version >= rs.Version {
			continue
		}
		idx[k] = rs
	}
	return idx, nil
}
