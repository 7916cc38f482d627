package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierStrictness(t *testing.T) {
	t.Parallel()

	assert.True(t, TierRequired.AtLeast(TierRequired))
	assert.True(t, TierRequired.AtLeast(TierHighlyRecommended))
	assert.True(t, TierHighlyRecommended.AtLeast(TierOptional))
	assert.False(t, TierOptional.AtLeast(TierRequired))
	assert.False(t, TierHighlyRecommended.AtLeast(TierRequired))
	assert.False(t, Tier("mandatory").Valid())
}

func TestRiskLevelRank(t *testing.T) {
	t.Parallel()

	assert.Less(t, RiskLow.Rank(), RiskMedium.Rank())
	assert.Less(t, RiskMedium.Rank(), RiskHigh.Rank())
	assert.False(t, RiskLevel("severe").Valid())
}

func TestGenerationStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, GenerationProcessing.Terminal())
	assert.True(t, GenerationReady.Terminal())
	assert.True(t, GenerationFailed.Terminal())
}

func TestChecklistItemLookup(t *testing.T) {
	t.Parallel()

	cl := Checklist{Items: []ChecklistItem{
		{DocumentType: "passport"},
		{DocumentType: "bank_statement"},
	}}
	assert.NotNil(t, cl.Item("bank_statement"))
	assert.Nil(t, cl.Item("invitation_letter"))
}

func TestRiskDriverValid(t *testing.T) {
	t.Parallel()

	for _, d := range AllRiskDrivers {
		assert.True(t, d.Valid(), d)
	}
	assert.False(t, RiskDriver("rich").Valid())
}
