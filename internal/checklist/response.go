package checklist

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"

	"github.com/sells-group/visa-checklist/internal/model"
	"github.com/sells-group/visa-checklist/pkg/anthropic"
)

type enrichment struct {
	Summary   string          `json:"summary"`
	RiskLevel model.RiskLevel `json:"riskLevel,omitempty"`
	Items     []enrichedItem  `json:"items"`
	Notes     []string        `json:"notes,omitempty"`
}

type enrichedItem struct {
	DocumentType   string             `json:"documentType"`
	Name           string             `json:"name,omitempty"`
	Tier           model.Tier         `json:"tier"`
	WhyRequired    string             `json:"whyRequired"`
	RiskDrivers    []model.RiskDriver `json:"riskDrivers"`
	Guidance       string             `json:"guidance,omitempty"`
	CommonMistakes []string           `json:"commonMistakes,omitempty"`
}

const enrichmentSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["summary", "items"],
  "properties": {
    "summary": {"type": "string"},
    "riskLevel": {"type": "string", "enum": ["low", "medium", "high"]},
    "notes": {"type": "array", "items": {"type": "string"}},
    "items": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["documentType", "tier", "whyRequired", "riskDrivers"],
        "properties": {
          "documentType": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "tier": {"type": "string", "enum": ["required", "highly_recommended", "optional"]},
          "whyRequired": {"type": "string", "minLength": 1},
          "riskDrivers": {"type": "array", "items": {"type": "string", "enum": %DRIVERS%}},
          "guidance": {"type": "string"},
          "commonMistakes": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

var enrichmentSchema = mustSchema()

func mustSchema() *gojsonschema.Schema {
	drivers, err := json.Marshal(model.AllRiskDrivers)
	if err != nil {
		panic(err)
	}
	src := strings.Replace(enrichmentSchemaJSON, "%DRIVERS%", string(drivers), 1)
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(err)
	}
	return s
}

// parseEnrichment cleans, validates and decodes the model output. On error
// the returned reason is ReasonInvalidJSON or ReasonSchemaViolation.
func parseEnrichment(text string) (enrichment, string, error) {
	var enr enrichment
	cleaned := cleanJSON(text)
	if !json.Valid([]byte(cleaned)) {
		return enr, ReasonInvalidJSON, eris.New("checklist: response is not valid JSON")
	}

	result, err := enrichmentSchema.Validate(gojsonschema.NewStringLoader(cleaned))
	if err != nil {
		return enr, ReasonInvalidJSON, eris.Wrap(err, "checklist: validate response")
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return enr, ReasonSchemaViolation, eris.Errorf("checklist: response violates schema: %s", strings.Join(errs, "; "))
	}

	if err := json.Unmarshal([]byte(cleaned), &enr); err != nil {
		return enr, ReasonInvalidJSON, eris.Wrap(err, "checklist: decode response")
	}
	return enr, "", nil
}

// cleanJSON extracts the JSON object from the model's reply.
func cleanJSON(text string) string {
	return anthropic.ExtractJSON(text)
}
