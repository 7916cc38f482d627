package checklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visa-checklist/internal/model"
)

func TestCleanJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", "Sure! {\"a\":1} Hope this helps.", `{"a":1}`},
		{"no object", "no json here", "no json here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}

func TestParseEnrichment(t *testing.T) {
	t.Parallel()

	enr, reason, err := parseEnrichment(`{"summary": "ok", "riskLevel": "low", "items": [
		{"documentType": "passport", "name": "Passport", "tier": "required", "whyRequired": "Identity.",
		 "riskDrivers": ["none"], "guidance": "Check expiry.", "commonMistakes": ["Expired"]}],
		"notes": ["Apply early."]}`)
	require.NoError(t, err)
	assert.Empty(t, reason)
	assert.Equal(t, model.RiskLow, enr.RiskLevel)
	require.Len(t, enr.Items, 1)
	assert.Equal(t, model.TierRequired, enr.Items[0].Tier)
	assert.Equal(t, []string{"Expired"}, enr.Items[0].CommonMistakes)
	assert.Equal(t, []string{"Apply early."}, enr.Notes)
}

func TestParseEnrichment_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     string
		reason string
	}{
		{"truncated", `{"summary": "x", "items": [`, ReasonInvalidJSON},
		{"empty", "", ReasonInvalidJSON},
		{"array unwrapped", `[{"documentType": "passport"}]`, ReasonSchemaViolation},
		{"no items", `{"summary": "x", "items": []}`, ReasonSchemaViolation},
		{"missing why", `{"summary": "x", "items": [{"documentType": "p", "tier": "required", "riskDrivers": []}]}`, ReasonSchemaViolation},
		{"extra field", `{"summary": "x", "items": [{"documentType": "p", "tier": "required", "whyRequired": "y", "riskDrivers": [], "urgent": true}]}`, ReasonSchemaViolation},
		{"bad level", `{"summary": "x", "riskLevel": "severe", "items": [{"documentType": "p", "tier": "required", "whyRequired": "y", "riskDrivers": []}]}`, ReasonSchemaViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, reason, err := parseEnrichment(tt.in)
			assert.Error(t, err)
			assert.Equal(t, tt.reason, reason)
		})
	}
}
