package model

// RuleSet is the approved document list for one (country, visa type) pair.
// Rule sets are authored out of band and read-only to this service.
type RuleSet struct {
	CountryCode string      `json:"country_code" yaml:"country_code"`
	VisaType    string      `json:"visa_type" yaml:"visa_type"`
	Version     string      `json:"version" yaml:"version"`
	Approved    bool        `json:"approved" yaml:"approved"`
	Entries     []RuleEntry `json:"entries" yaml:"entries"`
}

// RuleEntry is one candidate document within a rule set.
type RuleEntry struct {
	DocumentType   string            `json:"document_type" yaml:"document_type"`
	Name           string            `json:"name" yaml:"name"`
	Condition      *Condition        `json:"condition,omitempty" yaml:"condition,omitempty"`
	Tier           Tier              `json:"tier" yaml:"tier"`
	Addresses      []RiskDriver      `json:"addresses,omitempty" yaml:"addresses,omitempty"`
	Explanations   map[string]string `json:"explanations,omitempty" yaml:"explanations,omitempty"`
	Guidance       map[string]string `json:"guidance,omitempty" yaml:"guidance,omitempty"`
	CommonMistakes []string          `json:"common_mistakes,omitempty" yaml:"common_mistakes,omitempty"`
}

// Condition is a declarative applicability predicate over CanonicalContext.
// All populated clauses must hold.
type Condition struct {
	AllDrivers   []RiskDriver     `json:"all_drivers,omitempty" yaml:"all_drivers,omitempty"`
	AnyDrivers   []RiskDriver     `json:"any_drivers,omitempty" yaml:"any_drivers,omitempty"`
	NoneDrivers  []RiskDriver     `json:"none_drivers,omitempty" yaml:"none_drivers,omitempty"`
	MinRiskLevel RiskLevel        `json:"min_risk_level,omitempty" yaml:"min_risk_level,omitempty"`
	Fields       []FieldPredicate `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// FieldPredicate compares one profile field against a value.
type FieldPredicate struct {
	Field string `json:"field" yaml:"field"`
	Op    string `json:"op" yaml:"op"` // eq, ne, lt, lte, gt, gte, present, absent
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// CandidateDocument is a rule entry that applies to a given context.
type CandidateDocument struct {
	Entry RuleEntry `json:"entry"`
	Order int       `json:"order"` // declared position in the rule set
}
