package model

import "time"

// Tier is a document priority tier.
type Tier string

const (
	TierRequired          Tier = "required"
	TierHighlyRecommended Tier = "highly_recommended"
	TierOptional          Tier = "optional"
)

// Strictness orders tiers; higher is stricter. Unknown tiers return 0.
func (t Tier) Strictness() int {
	switch t {
	case TierRequired:
		return 3
	case TierHighlyRecommended:
		return 2
	case TierOptional:
		return 1
	default:
		return 0
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t.Strictness() > 0
}

// AtLeast reports whether t is as strict as other or stricter.
func (t Tier) AtLeast(other Tier) bool {
	return t.Strictness() >= other.Strictness()
}

// ItemSource records where a checklist item's explanation came from.
type ItemSource string

const (
	SourceRules      ItemSource = "rules"
	SourceEnrichment ItemSource = "enrichment"
)

// ChecklistItem is one row of a generated checklist.
type ChecklistItem struct {
	DocumentType   string       `json:"document_type"`
	Name           string       `json:"name"`
	Applicable     bool         `json:"applicable"`
	Tier           Tier         `json:"tier"`
	Priority       int          `json:"priority"`
	WhyRequired    string       `json:"why_required"`
	RiskDrivers    []RiskDriver `json:"risk_drivers,omitempty"`
	Guidance       string       `json:"guidance,omitempty"`
	CommonMistakes []string     `json:"common_mistakes,omitempty"`
	Source         ItemSource   `json:"source"`
}

// Checklist is the ordered output of the orchestrator.
type Checklist struct {
	CountryCode string          `json:"country_code"`
	VisaType    string          `json:"visa_type"`
	Language    string          `json:"language"`
	RiskLevel   RiskLevel       `json:"risk_level"`
	Items       []ChecklistItem `json:"items"`
	Summary     string          `json:"summary,omitempty"`
	Notes       []string        `json:"notes,omitempty"`
	AIGenerated bool            `json:"ai_generated"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Item returns the checklist item for a document type, or nil.
func (c *Checklist) Item(documentType string) *ChecklistItem {
	for i := range c.Items {
		if c.Items[i].DocumentType == documentType {
			return &c.Items[i]
		}
	}
	return nil
}

// GenerationStatus is the lifecycle state of a checklist generation.
type GenerationStatus string

const (
	GenerationProcessing GenerationStatus = "processing"
	GenerationReady      GenerationStatus = "ready"
	GenerationFailed     GenerationStatus = "failed"
)

// Terminal reports whether s is ready or failed.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationReady || s == GenerationFailed
}

// ErrorCategory distinguishes failure classes in records and logs.
type ErrorCategory string

const (
	CategoryInput        ErrorCategory = "input"
	CategoryEnrichment   ErrorCategory = "enrichment"
	CategoryConsistency  ErrorCategory = "consistency"
	CategoryVerification ErrorCategory = "verification"
	CategoryInternal     ErrorCategory = "internal"
)

// ChecklistGeneration is the authoritative lifecycle record for one
// application's checklist. At most one non-superseded record exists per
// application.
type ChecklistGeneration struct {
	ID             string            `json:"id"`
	ApplicationID  string            `json:"application_id"`
	Status         GenerationStatus  `json:"status"`
	Checklist      *Checklist        `json:"checklist,omitempty"`
	Context        *CanonicalContext `json:"context,omitempty"`
	Error          string            `json:"error,omitempty"`
	ErrorCategory  ErrorCategory     `json:"error_category,omitempty"`
	ProfileVersion string            `json:"profile_version,omitempty"`
	Attempt        int               `json:"attempt"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	GeneratedAt    *time.Time        `json:"generated_at,omitempty"`
	SupersededAt   *time.Time        `json:"superseded_at,omitempty"`
}
