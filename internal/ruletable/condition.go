package ruletable

import (
	"fmt"
	"strings"

	"github.com/sells-group/visa-checklist/internal/model"
)

// Comparison operators accepted in field predicates.
const (
	OpEq      = "eq"
	OpNe      = "ne"
	OpLt      = "lt"
	OpLte     = "lte"
	OpGt      = "gt"
	OpGte     = "gte"
	OpPresent = "present"
	OpAbsent  = "absent"
)

var knownOps = map[string]bool{
	OpEq: true, OpNe: true, OpLt: true, OpLte: true, OpGt: true, OpGte: true, OpPresent: true, OpAbsent: true,
}

// fieldFunc extracts one comparable value from a context. A nil result means
// the field is absent.
type fieldFunc func(c *model.CanonicalContext) any

// fields is the fixed set of context fields conditions may reference.
var fields = map[string]fieldFunc{
	"age":                 func(c *model.CanonicalContext) any { return intOrNil(c.Profile.Demographics.Age) },
	"nationality":         func(c *model.CanonicalContext) any { return strOrNil(c.Profile.Demographics.Nationality) },
	"available_funds":     func(c *model.CanonicalContext) any { return floatOrNil(c.Profile.Financial.AvailableFunds) },
	"monthly_income":      func(c *model.CanonicalContext) any { return floatOrNil(c.Profile.Financial.MonthlyIncome) },
	"estimated_trip_cost": func(c *model.CanonicalContext) any { return floatOrNil(c.Profile.Financial.EstimatedTripCost) },
	"sponsor_type":        func(c *model.CanonicalContext) any { return strOrNil(c.Profile.Financial.SponsorType) },
	"income_verifiable":   func(c *model.CanonicalContext) any { return boolOrNil(c.Profile.Financial.IncomeVerifiable) },
	"owns_property":       func(c *model.CanonicalContext) any { return boolOrNil(c.Profile.Ties.OwnsProperty) },
	"employment_status":   func(c *model.CanonicalContext) any { return strOrNil(c.Profile.Ties.EmploymentStatus) },
	"family_ties_score":   func(c *model.CanonicalContext) any { return floatOrNil(c.Profile.Ties.FamilyTiesScore) },
	"prior_trips":         func(c *model.CanonicalContext) any { return intOrNil(c.Profile.Travel.PriorTrips) },
	"prior_refusals":      func(c *model.CanonicalContext) any { return intOrNil(c.Profile.Travel.PriorRefusals) },
	"prior_overstay":      func(c *model.CanonicalContext) any { return boolOrNil(c.Profile.Travel.PriorOverstay) },
	"trip_duration_days":  func(c *model.CanonicalContext) any { return intOrNil(c.Profile.Destination.TripDurationDays) },
	"risk_score":          func(c *model.CanonicalContext) any { return float64(c.RiskScore) },
	"language":            func(c *model.CanonicalContext) any { return strOrNil(c.Profile.Language) },
}

// Matches reports whether cond holds for c. A nil condition always holds;
// every populated clause must hold.
func Matches(cond *model.Condition, c *model.CanonicalContext) bool {
	if cond == nil {
		return true
	}
	for _, d := range cond.AllDrivers {
		if !c.HasDriver(d) {
			return false
		}
	}
	if len(cond.AnyDrivers) > 0 {
		hit := false
		for _, d := range cond.AnyDrivers {
			if c.HasDriver(d) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for _, d := range cond.NoneDrivers {
		if c.HasDriver(d) {
			return false
		}
	}
	if cond.MinRiskLevel != "" && c.RiskLevel.Rank() < cond.MinRiskLevel.Rank() {
		return false
	}
	for _, fp := range cond.Fields {
		if !matchField(fp, c) {
			return false
		}
	}
	return true
}

// matchField evaluates one predicate. Absent fields satisfy only "absent";
// every comparison against an absent field is false.
func matchField(fp model.FieldPredicate, c *model.CanonicalContext) bool {
	get, ok := fields[fp.Field]
	if !ok {
		return false
	}
	got := get(c)
	switch fp.Op {
	case OpPresent:
		return got != nil
	case OpAbsent:
		return got == nil
	}
	if got == nil {
		return false
	}

	switch g := got.(type) {
	case float64:
		want, ok := toFloat(fp.Value)
		if !ok {
			return false
		}
		switch fp.Op {
		case OpEq:
			return g == want
		case OpNe:
			return g != want
		case OpLt:
			return g < want
		case OpLte:
			return g <= want
		case OpGt:
			return g > want
		case OpGte:
			return g >= want
		}
	case bool:
		want, ok := fp.Value.(bool)
		if !ok {
			return false
		}
		switch fp.Op {
		case OpEq:
			return g == want
		case OpNe:
			return g != want
		}
	case string:
		want := strings.ToLower(strings.TrimSpace(fmt.Sprint(fp.Value)))
		g = strings.ToLower(g)
		switch fp.Op {
		case OpEq:
			return g == want
		case OpNe:
			return g != want
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return float64(*v)
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolOrNil(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func strOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
