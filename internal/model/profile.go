package model

import "slices"

// RiskDriver is a named, discrete risk factor derived from applicant data.
type RiskDriver string

const (
	DriverLowFunds                   RiskDriver = "low_funds"
	DriverBorderlineFunds            RiskDriver = "borderline_funds"
	DriverWeakTies                   RiskDriver = "weak_ties"
	DriverNoProperty                 RiskDriver = "no_property"
	DriverNoStableEmployment         RiskDriver = "no_stable_employment"
	DriverLimitedTravelHistory       RiskDriver = "limited_travel_history"
	DriverPriorRefusal               RiskDriver = "prior_refusal"
	DriverMinorApplicant             RiskDriver = "minor_applicant"
	DriverSponsorFunded              RiskDriver = "sponsor_funded"
	DriverUnverifiableSelfEmployment RiskDriver = "unverifiable_self_employment"
	DriverSuspiciousFundsRatio       RiskDriver = "suspicious_funds_ratio"
	DriverNone                       RiskDriver = "none"
)

// AllRiskDrivers lists the closed driver set in a fixed order.
var AllRiskDrivers = []RiskDriver{
	DriverLowFunds,
	DriverBorderlineFunds,
	DriverWeakTies,
	DriverNoProperty,
	DriverNoStableEmployment,
	DriverLimitedTravelHistory,
	DriverPriorRefusal,
	DriverMinorApplicant,
	DriverSponsorFunded,
	DriverUnverifiableSelfEmployment,
	DriverSuspiciousFundsRatio,
	DriverNone,
}

// Valid reports whether d belongs to the closed driver set.
func (d RiskDriver) Valid() bool {
	return slices.Contains(AllRiskDrivers, d)
}

// RiskLevel is the three-value risk summary.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Rank orders levels so they can be compared; unknown levels rank 0.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

// Valid reports whether l is one of the three levels.
func (l RiskLevel) Valid() bool {
	return l.Rank() > 0
}

// Employment statuses understood by the risk engine.
const (
	EmploymentEmployed     = "employed"
	EmploymentSelfEmployed = "self_employed"
	EmploymentUnemployed   = "unemployed"
	EmploymentStudent      = "student"
	EmploymentRetired      = "retired"
)

// SponsorSelf marks an applicant funding their own trip.
const SponsorSelf = "self"

// Demographics holds identity-adjacent applicant fields.
type Demographics struct {
	Age         *int   `json:"age,omitempty"`
	Nationality string `json:"nationality,omitempty"` // ISO 3166-1 alpha-2
}

// Financial holds the applicant's funding picture.
type Financial struct {
	AvailableFunds    *float64 `json:"available_funds,omitempty"`
	MonthlyIncome     *float64 `json:"monthly_income,omitempty"`
	SponsorType       string   `json:"sponsor_type,omitempty"`
	EstimatedTripCost *float64 `json:"estimated_trip_cost,omitempty"`
	IncomeVerifiable  *bool    `json:"income_verifiable,omitempty"`
}

// Ties holds home-country ties.
type Ties struct {
	OwnsProperty     *bool    `json:"owns_property,omitempty"`
	EmploymentStatus string   `json:"employment_status,omitempty"`
	FamilyTiesScore  *float64 `json:"family_ties_score,omitempty"` // 0..1
}

// TravelHistory holds prior travel outcomes.
type TravelHistory struct {
	PriorTrips    *int  `json:"prior_trips,omitempty"`
	PriorRefusals *int  `json:"prior_refusals,omitempty"`
	PriorOverstay *bool `json:"prior_overstay,omitempty"`
}

// Destination identifies what is being applied for.
type Destination struct {
	CountryCode      string `json:"country_code"`
	VisaType         string `json:"visa_type"`
	TripDurationDays *int   `json:"trip_duration_days,omitempty"`
}

// ApplicantProfile is an immutable snapshot of one application version.
// Profile edits produce a new Version; an existing value is never mutated.
type ApplicantProfile struct {
	ApplicationID string        `json:"application_id"`
	Version       string        `json:"version"`
	Language      string        `json:"language"`
	Demographics  Demographics  `json:"demographics"`
	Financial     Financial     `json:"financial"`
	Ties          Ties          `json:"ties"`
	Travel        TravelHistory `json:"travel"`
	Destination   Destination   `json:"destination"`
}

// CanonicalContext is the single normalized input every downstream step
// consumes. RiskLevel here is authoritative.
type CanonicalContext struct {
	Profile     ApplicantProfile `json:"profile"`
	RiskDrivers []RiskDriver     `json:"risk_drivers"`
	RiskScore   int              `json:"risk_score"`
	RiskLevel   RiskLevel        `json:"risk_level"`
}

// HasDriver reports whether the context carries driver d.
func (c *CanonicalContext) HasDriver(d RiskDriver) bool {
	return slices.Contains(c.RiskDrivers, d)
}

// CountryCode is a shortcut for the destination country.
func (c *CanonicalContext) CountryCode() string {
	return c.Profile.Destination.CountryCode
}

// VisaType is a shortcut for the destination visa type.
func (c *CanonicalContext) VisaType() string {
	return c.Profile.Destination.VisaType
}
