// Package risk derives named risk drivers and a risk level from an applicant
// profile. Every function here is pure; callers pass thresholds explicitly.
package risk

import "github.com/sells-group/visa-checklist/internal/model"

// Thresholds holds the fixed cut-offs and weights used by the engine.
type Thresholds struct {
	LowFundsRatio        float64 `yaml:"low_funds_ratio" mapstructure:"low_funds_ratio"`
	BorderlineFundsRatio float64 `yaml:"borderline_funds_ratio" mapstructure:"borderline_funds_ratio"`
	WeakTiesStrength     float64 `yaml:"weak_ties_strength" mapstructure:"weak_ties_strength"`
	MinorAge             int     `yaml:"minor_age" mapstructure:"minor_age"`
	MinPriorTrips        int     `yaml:"min_prior_trips" mapstructure:"min_prior_trips"`

	// SuspiciousFundsMultiple flags funds exceeding this many months of income.
	SuspiciousFundsMultiple float64 `yaml:"suspicious_funds_multiple" mapstructure:"suspicious_funds_multiple"`

	// Ties strength is a weighted sum of these components, in [0,1].
	PropertyTieWeight   float64 `yaml:"property_tie_weight" mapstructure:"property_tie_weight"`
	EmploymentTieWeight float64 `yaml:"employment_tie_weight" mapstructure:"employment_tie_weight"`
	FamilyTieWeight     float64 `yaml:"family_tie_weight" mapstructure:"family_tie_weight"`

	MediumScore int `yaml:"medium_score" mapstructure:"medium_score"`
	HighScore   int `yaml:"high_score" mapstructure:"high_score"`

	// Weights maps driver name to its contribution to the risk score.
	Weights map[string]int `yaml:"weights" mapstructure:"weights"`
}

// DefaultThresholds returns the production cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LowFundsRatio:           0.8,
		BorderlineFundsRatio:    1.1,
		WeakTiesStrength:        0.5,
		MinorAge:                18,
		MinPriorTrips:           1,
		SuspiciousFundsMultiple: 12,
		PropertyTieWeight:       0.35,
		EmploymentTieWeight:     0.35,
		FamilyTieWeight:         0.30,
		MediumScore:             40,
		HighScore:               70,
		Weights:                 DefaultWeights(),
	}
}

// DefaultWeights returns the per-driver score contributions.
func DefaultWeights() map[string]int {
	return map[string]int{
		string(model.DriverLowFunds):                   30,
		string(model.DriverBorderlineFunds):            15,
		string(model.DriverWeakTies):                   20,
		string(model.DriverNoProperty):                 10,
		string(model.DriverNoStableEmployment):         15,
		string(model.DriverLimitedTravelHistory):       10,
		string(model.DriverPriorRefusal):               30,
		string(model.DriverMinorApplicant):             10,
		string(model.DriverSponsorFunded):              5,
		string(model.DriverUnverifiableSelfEmployment): 15,
		string(model.DriverSuspiciousFundsRatio):       20,
	}
}

// withDefaults fills zero values so a partially configured struct still
// behaves like the defaults.
func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.LowFundsRatio <= 0 {
		t.LowFundsRatio = d.LowFundsRatio
	}
	if t.BorderlineFundsRatio <= 0 {
		t.BorderlineFundsRatio = d.BorderlineFundsRatio
	}
	if t.WeakTiesStrength <= 0 {
		t.WeakTiesStrength = d.WeakTiesStrength
	}
	if t.MinorAge <= 0 {
		t.MinorAge = d.MinorAge
	}
	if t.MinPriorTrips <= 0 {
		t.MinPriorTrips = d.MinPriorTrips
	}
	if t.SuspiciousFundsMultiple <= 0 {
		t.SuspiciousFundsMultiple = d.SuspiciousFundsMultiple
	}
	if t.PropertyTieWeight+t.EmploymentTieWeight+t.FamilyTieWeight <= 0 {
		t.PropertyTieWeight = d.PropertyTieWeight
		t.EmploymentTieWeight = d.EmploymentTieWeight
		t.FamilyTieWeight = d.FamilyTieWeight
	}
	if t.MediumScore <= 0 {
		t.MediumScore = d.MediumScore
	}
	if t.HighScore <= 0 {
		t.HighScore = d.HighScore
	}
	if len(t.Weights) == 0 {
		t.Weights = d.Weights
	}
	return t
}
