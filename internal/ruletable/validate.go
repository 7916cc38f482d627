package ruletable

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/visa-checklist/internal/country"
	"github.com/sells-group/visa-checklist/internal/model"
)

// Validate checks a rule set for structural errors: unknown tiers, drivers,
// fields or operators, and duplicate document types. The country code is
// upper-cased in place.
func Validate(rs *model.RuleSet) error {
	code, ok := country.Lookup(rs.CountryCode)
	if !ok {
		return eris.Errorf("ruletable: unknown country %q", rs.CountryCode)
	}
	rs.CountryCode = code
	rs.VisaType = strings.ToLower(strings.TrimSpace(rs.VisaType))
	if rs.VisaType == "" {
		return eris.Errorf("ruletable: %s: missing visa type", rs.CountryCode)
	}
	if len(rs.Entries) == 0 {
		return eris.Errorf("ruletable: %s/%s: no entries", rs.CountryCode, rs.VisaType)
	}

	seen := make(map[string]bool, len(rs.Entries))
	for i, e := range rs.Entries {
		where := func(msg string, args ...any) error {
			return eris.Errorf("ruletable: %s/%s entry %d (%s): "+msg,
				append([]any{rs.CountryCode, rs.VisaType, i, e.DocumentType}, args...)...)
		}
		if e.DocumentType == "" {
			return where("missing document_type")
		}
		if seen[e.DocumentType] {
			return where("duplicate document_type")
		}
		seen[e.DocumentType] = true
		if !e.Tier.Valid() {
			return where("unknown tier %q", e.Tier)
		}
		if err := validDrivers(e.Addresses); err != nil {
			return where("addresses: %v", err)
		}
		if e.Condition == nil {
			continue
		}
		c := e.Condition
		for _, ds := range [][]model.RiskDriver{c.AllDrivers, c.AnyDrivers, c.NoneDrivers} {
			if err := validDrivers(ds); err != nil {
				return where("condition: %v", err)
			}
		}
		if c.MinRiskLevel != "" && !c.MinRiskLevel.Valid() {
			return where("unknown min_risk_level %q", c.MinRiskLevel)
		}
		for _, fp := range c.Fields {
			if _, ok := fields[fp.Field]; !ok {
				return where("unknown field %q", fp.Field)
			}
			if !knownOps[fp.Op] {
				return where("unknown op %q on %s", fp.Op, fp.Field)
			}
			if fp.Op != OpPresent && fp.Op != OpAbsent && fp.Value == nil {
				return where("op %s on %s needs a value", fp.Op, fp.Field)
			}
		}
	}
	return nil
}

func validDrivers(ds []model.RiskDriver) error {
	for _, d := range ds {
		if !d.Valid() {
			return eris.Errorf("unknown driver %q", d)
		}
	}
	return nil
}
