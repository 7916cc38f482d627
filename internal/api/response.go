package api

import (
	"time"

	"github.com/sells-group/visa-checklist/internal/model"
)

type checklistResponse struct {
	ApplicationID string                 `json:"applicationId"`
	GenerationID  string                 `json:"generationId"`
	Status        model.GenerationStatus `json:"status"`
	Items         []itemResponse         `json:"items"`
	Summary       string                 `json:"summary,omitempty"`
	Notes         []string               `json:"notes,omitempty"`
	RiskLevel     model.RiskLevel        `json:"riskLevel,omitempty"`
	Progress      *progress              `json:"progress,omitempty"`
	AIGenerated   *bool                  `json:"aiGenerated,omitempty"`
	GeneratedAt   *time.Time             `json:"generatedAt,omitempty"`
	Error         string                 `json:"error,omitempty"`
	ErrorCategory model.ErrorCategory    `json:"errorCategory,omitempty"`
}

type itemResponse struct {
	DocumentType   string             `json:"documentType"`
	Name           string             `json:"name"`
	Applicable     bool               `json:"applicable"`
	Tier           model.Tier         `json:"tier"`
	Priority       int                `json:"priority"`
	WhyRequired    string             `json:"whyRequired"`
	RiskDrivers    []model.RiskDriver `json:"riskDrivers,omitempty"`
	Guidance       string             `json:"guidance,omitempty"`
	CommonMistakes []string           `json:"commonMistakes,omitempty"`
	Source         model.ItemSource   `json:"source"`
}

func toItemResponses(items []model.ChecklistItem) []itemResponse {
	out := make([]itemResponse, len(items))
	for i, it := range items {
		out[i] = itemResponse{
			DocumentType:   it.DocumentType,
			Name:           it.Name,
			Applicable:     it.Applicable,
			Tier:           it.Tier,
			Priority:       it.Priority,
			WhyRequired:    it.WhyRequired,
			RiskDrivers:    it.RiskDrivers,
			Guidance:       it.Guidance,
			CommonMistakes: it.CommonMistakes,
			Source:         it.Source,
		}
	}
	return out
}

// progress counts uploads against the checklist's required items.
type progress struct {
	Required         int `json:"required"`
	RequiredVerified int `json:"requiredVerified"`
	Uploaded         int `json:"uploaded"`
	Verified         int `json:"verified"`
	Rejected         int `json:"rejected"`
	Pending          int `json:"pending"`
}

func toChecklistResponse(g *model.ChecklistGeneration) checklistResponse {
	resp := checklistResponse{
		ApplicationID: g.ApplicationID,
		GenerationID:  g.ID,
		Status:        g.Status,
		Items:         []itemResponse{},
	}
	switch g.Status {
	case model.GenerationReady:
		if c := g.Checklist; c != nil {
			resp.Items = toItemResponses(c.Items)
			resp.Summary = c.Summary
			resp.Notes = c.Notes
			resp.RiskLevel = c.RiskLevel
			ai := c.AIGenerated
			resp.AIGenerated = &ai
		}
		resp.GeneratedAt = g.GeneratedAt
	case model.GenerationFailed:
		resp.Error = g.Error
		resp.ErrorCategory = g.ErrorCategory
	}
	return resp
}

func computeProgress(c *model.Checklist, docs []model.UserDocument) progress {
	byType := make(map[string]model.DocumentStatus, len(docs))
	var p progress
	for _, d := range docs {
		byType[d.DocumentType] = d.Status
		p.Uploaded++
		switch d.Status {
		case model.DocumentVerified:
			p.Verified++
		case model.DocumentRejected:
			p.Rejected++
		default:
			p.Pending++
		}
	}
	for _, it := range c.Items {
		if it.Tier != model.TierRequired || !it.Applicable {
			continue
		}
		p.Required++
		if byType[it.DocumentType] == model.DocumentVerified {
			p.RequiredVerified++
		}
	}
	return p
}

type historyEntry struct {
	GenerationID   string                 `json:"generationId"`
	Status         model.GenerationStatus `json:"status"`
	Attempt        int                    `json:"attempt"`
	ProfileVersion string                 `json:"profileVersion,omitempty"`
	AIGenerated    *bool                  `json:"aiGenerated,omitempty"`
	ErrorCategory  model.ErrorCategory    `json:"errorCategory,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	GeneratedAt    *time.Time             `json:"generatedAt,omitempty"`
	SupersededAt   *time.Time             `json:"supersededAt,omitempty"`
}

func toHistoryEntry(g *model.ChecklistGeneration) historyEntry {
	e := historyEntry{
		GenerationID:   g.ID,
		Status:         g.Status,
		Attempt:        g.Attempt,
		ProfileVersion: g.ProfileVersion,
		ErrorCategory:  g.ErrorCategory,
		CreatedAt:      g.CreatedAt,
		GeneratedAt:    g.GeneratedAt,
		SupersededAt:   g.SupersededAt,
	}
	if g.Checklist != nil {
		ai := g.Checklist.AIGenerated
		e.AIGenerated = &ai
	}
	return e
}

type documentResponse struct {
	ID           string               `json:"id"`
	DocumentType string               `json:"documentType"`
	Status       model.DocumentStatus `json:"status"`
	NeedsReview  bool                 `json:"needsReview"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

func toDocumentResponse(d *model.UserDocument) documentResponse {
	return documentResponse{
		ID:           d.ID,
		DocumentType: d.DocumentType,
		Status:       d.Status,
		NeedsReview:  d.NeedsReview,
		UpdatedAt:    d.UpdatedAt,
	}
}
