package canonical

import (
	"strings"

	"github.com/sells-group/visa-checklist/internal/model"
)

var visaAliases = map[string]string{
	"tourist":  "tourist",
	"tourism":  "tourist",
	"visitor":  "tourist",
	"travel":   "tourist",
	"b2":       "tourist",
	"b1_b2":    "tourist",
	"b1/b2":    "tourist",
	"schengen": "tourist",
	"student":  "student",
	"study":    "student",
	"f1":       "student",
	"f_1":      "student",
	"business": "business",
	"b1":       "business",
	"work":     "work",
	"worker":   "work",
	"h1b":      "work",
	"transit":  "transit",
	"family":   "family",
}

var employmentAliases = map[string]string{
	"employed":       model.EmploymentEmployed,
	"employee":       model.EmploymentEmployed,
	"full_time":      model.EmploymentEmployed,
	"part_time":      model.EmploymentEmployed,
	"salaried":       model.EmploymentEmployed,
	"self_employed":  model.EmploymentSelfEmployed,
	"selfemployed":   model.EmploymentSelfEmployed,
	"business_owner": model.EmploymentSelfEmployed,
	"entrepreneur":   model.EmploymentSelfEmployed,
	"freelancer":     model.EmploymentSelfEmployed,
	"unemployed":     model.EmploymentUnemployed,
	"homemaker":      model.EmploymentUnemployed,
	"none":           model.EmploymentUnemployed,
	"student":        model.EmploymentStudent,
	"retired":        model.EmploymentRetired,
	"pensioner":      model.EmploymentRetired,
}

var sponsorAliases = map[string]string{
	"self":     model.SponsorSelf,
	"myself":   model.SponsorSelf,
	"own":      model.SponsorSelf,
	"personal": model.SponsorSelf,
	"parent":   "parent",
	"parents":  "parent",
	"family":   "family",
	"relative": "family",
	"spouse":   "family",
	"employer": "employer",
	"company":  "employer",
}

// key lower-cases s and folds spaces and hyphens to underscores.
func key(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// NormalizeVisaType maps known aliases to canonical visa type codes. Unknown
// non-empty values are returned in key form so the rule table can decide.
func NormalizeVisaType(s string) string {
	k := key(s)
	if v, ok := visaAliases[k]; ok {
		return v
	}
	return k
}

// NormalizeEmployment maps aliases to the employment statuses the risk
// engine understands. Unknown values become empty, which the engine treats
// as no stable employment.
func NormalizeEmployment(s string) string {
	return employmentAliases[key(s)]
}

// NormalizeSponsor maps aliases to sponsor kinds. Unknown non-empty values
// are kept so a third-party sponsor is still recognised as sponsored.
func NormalizeSponsor(s string) string {
	k := key(s)
	if v, ok := sponsorAliases[k]; ok {
		return v
	}
	return k
}
