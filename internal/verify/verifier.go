package verify

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/sells-group/visa-checklist/internal/model"
	"github.com/sells-group/visa-checklist/pkg/anthropic"
)

// Request is everything a verifier sees for one document.
type Request struct {
	Document model.UserDocument
	// Item is the checklist item for the document type, nil when the
	// upload is not on the checklist.
	Item    *model.ChecklistItem
	Context model.CanonicalContext
}

// Result is a raw verifier verdict. Unknown verdicts are allowed and map to
// a pending status.
type Result struct {
	Verdict model.Verdict
	Notes   string
}

// Verifier checks one uploaded document against its checklist item.
type Verifier interface {
	Verify(ctx context.Context, req Request) (Result, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, req Request) (Result, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

const verifySystemInstruction = `You review documents uploaded for a visa application.

You receive a JSON payload: the document's content reference and declared type, the checklist item it should satisfy, and the applicant's canonical context.

Decide one verdict:
- "verified": the document is the expected type and satisfies the checklist item.
- "rejected": the document is the wrong type, expired, illegible or clearly insufficient.
- "needs_review": the document may be usable but a person must look at it.
- "uncertain": you cannot tell from what you were given.

Respond with a single JSON object and nothing else:
{"verdict": "verified"|"rejected"|"needs_review"|"uncertain", "notes": string}`

const verdictSchemaJSON = `{
  "type": "object",
  "required": ["verdict"],
  "properties": {
    "verdict": {"type": "string", "minLength": 1},
    "notes": {"type": "string"}
  }
}`

var verdictSchema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(verdictSchemaJSON))
	if err != nil {
		panic(err)
	}
	return s
}()

// LLMConfig configures the model-backed verifier.
type LLMConfig struct {
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// LLMVerifier asks the completion API for a verdict.
type LLMVerifier struct {
	client anthropic.Client
	cfg    LLMConfig
}

// NewLLMVerifier creates an LLMVerifier.
func NewLLMVerifier(client anthropic.Client, cfg LLMConfig) *LLMVerifier {
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5-20251001"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	return &LLMVerifier{client: client, cfg: cfg}
}

type verifyPayload struct {
	ContentRef   string                 `json:"contentRef"`
	DocumentType string                 `json:"documentType"`
	Item         *model.ChecklistItem   `json:"checklistItem,omitempty"`
	Context      model.CanonicalContext `json:"context"`
}

type verdictResponse struct {
	Verdict string `json:"verdict"`
	Notes   string `json:"notes"`
}

// Verify sends one verification request. Transport errors are returned;
// an unreadable reply yields an uncertain verdict.
func (v *LLMVerifier) Verify(ctx context.Context, req Request) (Result, error) {
	payload, err := json.Marshal(verifyPayload{
		ContentRef:   req.Document.ContentRef,
		DocumentType: req.Document.DocumentType,
		Item:         req.Item,
		Context:      req.Context,
	})
	if err != nil {
		return Result{}, eris.Wrap(err, "verify: marshal payload")
	}
	temp := 0.0
	resp, err := v.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       v.cfg.Model,
		MaxTokens:   v.cfg.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(verifySystemInstruction),
		Messages:    []anthropic.Message{{Role: "user", Content: string(payload)}},
		Temperature: &temp,
	})
	if err != nil {
		return Result{}, eris.Wrap(err, "verify: create message")
	}
	resp.Usage.LogCost(v.cfg.Model, "verify")
	return parseVerdict(resp.Text()), nil
}

func parseVerdict(text string) Result {
	cleaned := anthropic.ExtractJSON(text)
	res, err := verdictSchema.Validate(gojsonschema.NewStringLoader(cleaned))
	if err != nil || !res.Valid() {
		zap.L().Warn("verify: unreadable verdict",
			zap.String("category", string(model.CategoryVerification)),
			zap.Int("length", len(text)),
		)
		return Result{Verdict: model.VerdictUncertain, Notes: "unreadable verification response"}
	}
	var vr verdictResponse
	if err := json.Unmarshal([]byte(cleaned), &vr); err != nil {
		return Result{Verdict: model.VerdictUncertain, Notes: "unreadable verification response"}
	}
	return Result{
		Verdict: model.Verdict(strings.ToLower(strings.TrimSpace(vr.Verdict))),
		Notes:   strings.TrimSpace(vr.Notes),
	}
}
