package model

import "time"

// DocumentStatus is the stored verification status of an uploaded document.
type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "pending"
	DocumentVerified DocumentStatus = "verified"
	DocumentRejected DocumentStatus = "rejected"
)

// Verdict is the raw outcome returned by document verification.
type Verdict string

const (
	VerdictVerified    Verdict = "verified"
	VerdictRejected    Verdict = "rejected"
	VerdictNeedsReview Verdict = "needs_review"
	VerdictUncertain   Verdict = "uncertain"
)

// StatusForVerdict maps a verdict to the stored document status. The second
// return value reports whether the document should stay flagged for review.
// needs_review maps to rejected so the pending sweep never skips it silently.
func StatusForVerdict(v Verdict) (DocumentStatus, bool) {
	switch v {
	case VerdictVerified:
		return DocumentVerified, false
	case VerdictRejected, VerdictNeedsReview:
		return DocumentRejected, false
	default:
		return DocumentPending, true
	}
}

// UserDocument is one uploaded file tracked by the validation queue.
type UserDocument struct {
	ID             string         `json:"id"`
	ApplicationID  string         `json:"application_id"`
	DocumentType   string         `json:"document_type"`
	ContentRef     string         `json:"content_ref"`
	Status         DocumentStatus `json:"status"`
	NeedsReview    bool           `json:"needs_review"`
	Verdict        Verdict        `json:"verdict,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	Attempts       int            `json:"attempts"`
	LastAttemptAt  *time.Time     `json:"last_attempt_at,omitempty"`
	VerifyingSince *time.Time     `json:"-"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// VerificationOutcome is what one verification pass writes back.
type VerificationOutcome struct {
	Status      DocumentStatus `json:"status"`
	NeedsReview bool           `json:"needs_review"`
	Verdict     Verdict        `json:"verdict,omitempty"`
	Notes       string         `json:"notes,omitempty"`
}
