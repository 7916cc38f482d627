package risk

import (
	"github.com/sells-group/visa-checklist/internal/model"
)

// Assessment bundles the drivers, score and level computed for one profile.
type Assessment struct {
	Drivers []model.RiskDriver
	Score   int
	Level   model.RiskLevel
}

// Assess is the one entry point other packages use to derive risk. It never
// fails: missing data resolves to the conservative driver.
func Assess(p model.ApplicantProfile, t Thresholds) Assessment {
	t = t.withDefaults()
	drivers := ComputeRiskDrivers(p, t)
	score := ComputeRiskScore(drivers, t)
	return Assessment{
		Drivers: drivers,
		Score:   score,
		Level:   ComputeRiskLevel(score, t),
	}
}

// ComputeRiskDrivers returns the drivers firing for p in the fixed order of
// model.AllRiskDrivers. The result is never empty; {none} is returned when no
// threshold fires.
func ComputeRiskDrivers(p model.ApplicantProfile, t Thresholds) []model.RiskDriver {
	t = t.withDefaults()
	fired := make(map[model.RiskDriver]bool)

	switch ratio, ok := fundsRatio(p.Financial); {
	case !ok, ratio < t.LowFundsRatio:
		fired[model.DriverLowFunds] = true
	case ratio <= t.BorderlineFundsRatio:
		fired[model.DriverBorderlineFunds] = true
	}

	if TiesStrength(p.Ties, t) < t.WeakTiesStrength {
		fired[model.DriverWeakTies] = true
	}

	if p.Ties.OwnsProperty == nil || !*p.Ties.OwnsProperty {
		fired[model.DriverNoProperty] = true
	}

	switch p.Ties.EmploymentStatus {
	case model.EmploymentEmployed, model.EmploymentStudent, model.EmploymentRetired:
	case model.EmploymentSelfEmployed:
		if p.Financial.IncomeVerifiable == nil || !*p.Financial.IncomeVerifiable {
			fired[model.DriverUnverifiableSelfEmployment] = true
		}
	default:
		fired[model.DriverNoStableEmployment] = true
	}

	if p.Travel.PriorTrips == nil || *p.Travel.PriorTrips < t.MinPriorTrips {
		fired[model.DriverLimitedTravelHistory] = true
	}

	if (p.Travel.PriorRefusals != nil && *p.Travel.PriorRefusals > 0) ||
		(p.Travel.PriorOverstay != nil && *p.Travel.PriorOverstay) {
		fired[model.DriverPriorRefusal] = true
	}

	if p.Demographics.Age != nil && *p.Demographics.Age < t.MinorAge {
		fired[model.DriverMinorApplicant] = true
	}

	sponsored := p.Financial.SponsorType != "" && p.Financial.SponsorType != model.SponsorSelf
	if sponsored {
		fired[model.DriverSponsorFunded] = true
	}

	if suspiciousFunds(p.Financial, sponsored, t) {
		fired[model.DriverSuspiciousFundsRatio] = true
	}

	out := make([]model.RiskDriver, 0, len(fired))
	for _, d := range model.AllRiskDrivers {
		if fired[d] {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return []model.RiskDriver{model.DriverNone}
	}
	return out
}

// ComputeRiskScore sums the configured weights of drivers, clamped to 0..100.
func ComputeRiskScore(drivers []model.RiskDriver, t Thresholds) int {
	t = t.withDefaults()
	score := 0
	for _, d := range drivers {
		score += t.Weights[string(d)]
	}
	return min(max(score, 0), 100)
}

// ComputeRiskLevel maps a numeric score to a level with boundaries at
// MediumScore and HighScore (40 and 70 by default).
func ComputeRiskLevel(score int, t Thresholds) model.RiskLevel {
	t = t.withDefaults()
	switch {
	case score >= t.HighScore:
		return model.RiskHigh
	case score >= t.MediumScore:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// TiesStrength scores home-country ties in [0,1].
func TiesStrength(ties model.Ties, t Thresholds) float64 {
	t = t.withDefaults()
	var s float64
	if ties.OwnsProperty != nil && *ties.OwnsProperty {
		s += t.PropertyTieWeight
	}
	switch ties.EmploymentStatus {
	case model.EmploymentEmployed, model.EmploymentRetired:
		s += t.EmploymentTieWeight
	case model.EmploymentSelfEmployed, model.EmploymentStudent:
		s += t.EmploymentTieWeight / 2
	}
	if ties.FamilyTiesScore != nil {
		f := min(max(*ties.FamilyTiesScore, 0), 1)
		s += f * t.FamilyTieWeight
	}
	return s
}

// fundsRatio returns available funds over estimated cost. ok is false when
// either side is missing or the cost is not positive.
func fundsRatio(f model.Financial) (float64, bool) {
	if f.AvailableFunds == nil || f.EstimatedTripCost == nil || *f.EstimatedTripCost <= 0 {
		return 0, false
	}
	return *f.AvailableFunds / *f.EstimatedTripCost, true
}

func suspiciousFunds(f model.Financial, sponsored bool, t Thresholds) bool {
	if f.AvailableFunds == nil || *f.AvailableFunds <= 0 {
		return false
	}
	if f.MonthlyIncome == nil || *f.MonthlyIncome <= 0 {
		// Funds with no declared income are unexplained unless a sponsor covers them.
		return !sponsored
	}
	return *f.AvailableFunds > t.SuspiciousFundsMultiple*(*f.MonthlyIncome)
}
