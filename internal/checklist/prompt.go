package checklist

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/visa-checklist/internal/country"
	"github.com/sells-group/visa-checklist/internal/model"
	"github.com/sells-group/visa-checklist/pkg/anthropic"
)

const systemInstruction = `You prepare visa document checklists for applicants.

You receive a JSON payload with the applicant's canonical context (profile, risk drivers, risk score and risk level) and the approved candidate documents for the destination and visa type.

Rules:
1. Every candidate with tier "required" must appear in your output with tier "required". Never drop or downgrade it.
2. You may raise the tier of a non-required candidate when the applicant's risk drivers make it important. You may add at most a few documents not in the candidate list, only when a risk driver clearly calls for them.
3. For each item explain why this applicant needs it. When a document addresses one of the applicant's risk drivers, name that driver in "riskDrivers" and refer to it in "whyRequired".
4. Only use risk drivers present in the context. Never invent a risk level; if you mention one it must be the context's risk level.
5. The destination is fixed. Mention no other destination country.
6. Write every text field in the language given by "language".
7. Use "notes" for short general advice that belongs to no single document.

Respond with a single JSON object and nothing else:
{"summary": string, "riskLevel": "low"|"medium"|"high", "items": [{"documentType": string, "name": string, "tier": "required"|"highly_recommended"|"optional", "whyRequired": string, "riskDrivers": [string], "guidance": string, "commonMistakes": [string]}], "notes": [string]}`

var languageNames = map[string]string{
	"en": "English",
	"ru": "Russian",
	"uz": "Uzbek (Latin script)",
}

type promptCandidate struct {
	DocumentType string             `json:"documentType"`
	Name         string             `json:"name"`
	Tier         model.Tier         `json:"tier"`
	Addresses    []model.RiskDriver `json:"addresses,omitempty"`
	Explanation  string             `json:"explanation,omitempty"`
}

type promptPayload struct {
	Language    string                 `json:"language"`
	Destination promptDestination      `json:"destination"`
	MaxItems    int                    `json:"maxItems"`
	Context     model.CanonicalContext `json:"context"`
	Candidates  []promptCandidate      `json:"candidates"`
}

type promptDestination struct {
	CountryCode string `json:"countryCode"`
	CountryName string `json:"countryName"`
	VisaType    string `json:"visaType"`
}

// buildRequest serializes the one-shot enrichment request and returns a
// short hash identifying it for the audit trail.
func buildRequest(cfg Config, cctx model.CanonicalContext, base []model.CandidateDocument) (anthropic.MessageRequest, string, error) {
	lang := cctx.Profile.Language
	payload := promptPayload{
		Language: lang,
		Destination: promptDestination{
			CountryCode: cctx.CountryCode(),
			CountryName: country.Name(cctx.CountryCode(), "en"),
			VisaType:    cctx.VisaType(),
		},
		MaxItems: cfg.MaxItems,
		Context:  cctx,
	}
	for _, c := range base {
		payload.Candidates = append(payload.Candidates, promptCandidate{
			DocumentType: c.Entry.DocumentType,
			Name:         c.Entry.Name,
			Tier:         c.Entry.Tier,
			Addresses:    c.Entry.Addresses,
			Explanation:  localizedText(c.Entry.Explanations, "en"),
		})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return anthropic.MessageRequest{}, "", eris.Wrap(err, "checklist: marshal prompt payload")
	}

	langName, ok := languageNames[lang]
	if !ok {
		langName = languageNames["en"]
	}
	user := fmt.Sprintf("Respond in %s.\n\n%s", langName, raw)

	sum := sha256.Sum256([]byte(cfg.SystemPrompt + "\x00" + user))
	temp := cfg.Temperature
	return anthropic.MessageRequest{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(cfg.SystemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: &temp,
	}, hex.EncodeToString(sum[:8]), nil
}

// localizedText picks lang, then English, then the first other language in
// key order.
func localizedText(m map[string]string, lang string) string {
	if s := m[lang]; s != "" {
		return s
	}
	if s := m["en"]; s != "" {
		return s
	}
	for _, k := range slices.Sorted(maps.Keys(m)) {
		if m[k] != "" {
			return m[k]
		}
	}
	return ""
}
