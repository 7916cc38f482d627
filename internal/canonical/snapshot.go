package canonical

import "time"

// ApplicationSnapshot is the raw application record served by the backend's
// internal AI-context endpoint. Field names follow the upstream camelCase.
type ApplicationSnapshot struct {
	ApplicationID        string                `json:"applicationId"`
	Version              string                `json:"version,omitempty"`
	UpdatedAt            *time.Time            `json:"updatedAt,omitempty"`
	Application          ApplicationInfo       `json:"application"`
	UserProfile          UserProfile           `json:"userProfile"`
	QuestionnaireSummary *QuestionnaireSummary `json:"questionnaireSummary,omitempty"`
}

// ApplicationInfo describes the visa being applied for. Country may hold
// either a code or a display name; CountryCode wins when both are set.
type ApplicationInfo struct {
	Country      string  `json:"country,omitempty"`
	CountryCode  string  `json:"countryCode,omitempty"`
	VisaType     string  `json:"visaType,omitempty"`
	DurationDays FlexInt `json:"durationDays"`
	Status       string  `json:"status,omitempty"`
}

// UserProfile carries account-level preferences.
type UserProfile struct {
	UserID      string `json:"userId,omitempty"`
	AppLanguage string `json:"appLanguage,omitempty"`
}

// QuestionnaireSummary is the applicant's self-reported questionnaire.
// Amounts are in USD.
type QuestionnaireSummary struct {
	Age                  FlexInt   `json:"age"`
	Citizenship          string    `json:"citizenship,omitempty"`
	BankBalanceUSD       FlexFloat `json:"bankBalanceUSD"`
	MonthlyIncomeUSD     FlexFloat `json:"monthlyIncomeUSD"`
	SponsorType          string    `json:"sponsorType,omitempty"`
	TripBudgetUSD        FlexFloat `json:"tripBudgetUSD"`
	HasProperty          FlexBool  `json:"hasProperty"`
	EmploymentStatus     string    `json:"employmentStatus,omitempty"`
	FamilyTiesScore      FlexFloat `json:"familyTiesScore"`
	MaritalStatus        string    `json:"maritalStatus,omitempty"`
	HasChildren          FlexBool  `json:"hasChildren"`
	PreviousTrips        FlexInt   `json:"previousTrips"`
	PreviousVisaRefusals FlexInt   `json:"previousVisaRefusals"`
	PreviousOverstay     FlexBool  `json:"previousOverstay"`
	IncomeDocumented     FlexBool  `json:"incomeDocumented"`
}
