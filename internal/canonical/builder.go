// Package canonical normalizes raw application snapshots into the single
// CanonicalContext consumed by rule resolution, enrichment and verification.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"

	"github.com/sells-group/visa-checklist/internal/country"
	"github.com/sells-group/visa-checklist/internal/model"
	"github.com/sells-group/visa-checklist/internal/risk"
)

// ErrIncompleteProfile is returned when the destination country or visa type
// is missing. Every other gap degrades to a conservative default.
var ErrIncompleteProfile = eris.New("canonical: incomplete profile")

// Supported prompt and explanation languages.
var supportedLanguages = map[string]bool{"en": true, "ru": true, "uz": true}

// Config controls defaulting during normalization.
type Config struct {
	Thresholds      risk.Thresholds
	DailyCostUSD    float64
	DefaultTripDays int
	DefaultLanguage string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Thresholds:      risk.DefaultThresholds(),
		DailyCostUSD:    100,
		DefaultTripDays: 14,
		DefaultLanguage: "en",
	}
}

// Builder turns snapshots into canonical contexts.
type Builder struct {
	cfg Config
}

// NewBuilder creates a Builder, filling zero config values with defaults.
func NewBuilder(cfg Config) *Builder {
	d := DefaultConfig()
	if cfg.DailyCostUSD <= 0 {
		cfg.DailyCostUSD = d.DailyCostUSD
	}
	if cfg.DefaultTripDays <= 0 {
		cfg.DefaultTripDays = d.DefaultTripDays
	}
	if !supportedLanguages[cfg.DefaultLanguage] {
		cfg.DefaultLanguage = d.DefaultLanguage
	}
	return &Builder{cfg: cfg}
}

// Build normalizes snap and attaches the risk assessment.
func (b *Builder) Build(snap ApplicationSnapshot) (model.CanonicalContext, error) {
	profile, err := b.Profile(snap)
	if err != nil {
		return model.CanonicalContext{}, err
	}
	a := risk.Assess(profile, b.cfg.Thresholds)
	return model.CanonicalContext{
		Profile:     profile,
		RiskDrivers: a.Drivers,
		RiskScore:   a.Score,
		RiskLevel:   a.Level,
	}, nil
}

// Profile normalizes snap into a typed profile without assessing risk.
func (b *Builder) Profile(snap ApplicationSnapshot) (model.ApplicantProfile, error) {
	rawCountry := strings.TrimSpace(snap.Application.CountryCode)
	if rawCountry == "" {
		rawCountry = strings.TrimSpace(snap.Application.Country)
	}
	if rawCountry == "" {
		return model.ApplicantProfile{}, eris.Wrap(ErrIncompleteProfile, "canonical: missing destination country")
	}
	code, ok := country.Lookup(rawCountry)
	if !ok {
		return model.ApplicantProfile{}, eris.Wrapf(ErrIncompleteProfile, "canonical: unknown destination country %q", rawCountry)
	}
	visaType := NormalizeVisaType(snap.Application.VisaType)
	if visaType == "" {
		return model.ApplicantProfile{}, eris.Wrap(ErrIncompleteProfile, "canonical: missing visa type")
	}

	p := model.ApplicantProfile{
		ApplicationID: strings.TrimSpace(snap.ApplicationID),
		Language:      b.language(snap.UserProfile.AppLanguage),
		Destination: model.Destination{
			CountryCode:      code,
			VisaType:         visaType,
			TripDurationDays: positiveInt(snap.Application.DurationDays.Ptr()),
		},
	}

	days := b.cfg.DefaultTripDays
	if p.Destination.TripDurationDays != nil {
		days = *p.Destination.TripDurationDays
	}

	if q := snap.QuestionnaireSummary; q != nil {
		p.Demographics.Age = nonNegativeInt(q.Age.Ptr())
		if nat, ok := country.Lookup(q.Citizenship); ok {
			p.Demographics.Nationality = nat
		}

		p.Financial.AvailableFunds = nonNegative(q.BankBalanceUSD.Ptr())
		p.Financial.MonthlyIncome = nonNegative(q.MonthlyIncomeUSD.Ptr())
		p.Financial.SponsorType = NormalizeSponsor(q.SponsorType)
		p.Financial.EstimatedTripCost = positive(q.TripBudgetUSD.Ptr())
		p.Financial.IncomeVerifiable = q.IncomeDocumented.Ptr()

		p.Ties.OwnsProperty = q.HasProperty.Ptr()
		p.Ties.EmploymentStatus = NormalizeEmployment(q.EmploymentStatus)
		p.Ties.FamilyTiesScore = familyTies(q)

		p.Travel.PriorTrips = nonNegativeInt(q.PreviousTrips.Ptr())
		p.Travel.PriorRefusals = nonNegativeInt(q.PreviousVisaRefusals.Ptr())
		p.Travel.PriorOverstay = q.PreviousOverstay.Ptr()
	}

	if p.Financial.EstimatedTripCost == nil {
		cost := b.cfg.DailyCostUSD * float64(days)
		p.Financial.EstimatedTripCost = &cost
	}

	p.Version = strings.TrimSpace(snap.Version)
	if p.Version == "" && snap.UpdatedAt != nil {
		p.Version = snap.UpdatedAt.UTC().Format("20060102T150405.000000000Z")
	}
	if p.Version == "" {
		p.Version = fingerprint(p)
	}
	return p, nil
}

func (b *Builder) language(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return b.cfg.DefaultLanguage
	}
	tag, err := language.Parse(strings.ReplaceAll(raw, "_", "-"))
	if err != nil {
		return b.cfg.DefaultLanguage
	}
	base, _ := tag.Base()
	if supportedLanguages[base.String()] {
		return base.String()
	}
	return b.cfg.DefaultLanguage
}

// fingerprint derives a stable version for snapshots that carry none.
func fingerprint(p model.ApplicantProfile) string {
	p.Version = ""
	raw, _ := json.Marshal(p)
	sum := sha256.Sum256(raw)
	return "fp-" + hex.EncodeToString(sum[:8])
}

// familyTies uses the explicit score when present, otherwise derives one
// from marital status and children. Nothing known yields nil.
func familyTies(q *QuestionnaireSummary) *float64 {
	if s := q.FamilyTiesScore.Ptr(); s != nil {
		v := min(max(*s, 0), 1)
		// Scores reported on a 0..10 scale are rescaled.
		if *s > 1 && *s <= 10 {
			v = *s / 10
		}
		return &v
	}
	marital := strings.ToLower(strings.TrimSpace(q.MaritalStatus))
	children := q.HasChildren.Ptr()
	if marital == "" && children == nil {
		return nil
	}
	var v float64
	if marital == "married" {
		v += 0.5
	}
	if children != nil && *children {
		v += 0.5
	}
	return &v
}

func positive(v *float64) *float64 {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}

func nonNegative(v *float64) *float64 {
	if v == nil || *v < 0 {
		return nil
	}
	return v
}

func positiveInt(v *int) *int {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}

func nonNegativeInt(v *int) *int {
	if v == nil || *v < 0 {
		return nil
	}
	return v
}
