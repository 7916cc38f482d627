package checklist

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visa-checklist/internal/canonical"
	"github.com/sells-group/visa-checklist/internal/model"
	"github.com/sells-group/visa-checklist/internal/ruletable"
	"github.com/sells-group/visa-checklist/pkg/anthropic/mocks"
)

// Funds cover 60% of the trip cost, no property, no prior trips.
const lowFundsSnapshot = `{
  "applicationId": "app-e2e",
  "application": {"country": "DE", "visaType": "tourist", "durationDays": 14},
  "userProfile": {"userId": "u-7", "appLanguage": "en"},
  "questionnaireSummary": {
    "age": 34,
    "citizenship": "Uzbekistan",
    "bankBalanceUSD": 840,
    "monthlyIncomeUSD": 700,
    "tripBudgetUSD": 1400,
    "hasProperty": false,
    "employmentStatus": "employed",
    "previousTrips": 0
  }
}`

func scenario(t *testing.T) (model.CanonicalContext, []model.CandidateDocument) {
	t.Helper()

	var snap canonical.ApplicationSnapshot
	require.NoError(t, json.Unmarshal([]byte(lowFundsSnapshot), &snap))
	cctx, err := canonical.NewBuilder(canonical.DefaultConfig()).Build(snap)
	require.NoError(t, err)

	resolver := ruletable.NewResolver(ruletable.FileSource{Dir: filepath.Join("..", "..", "rules")}, 0)
	base, err := resolver.Resolve(context.Background(), cctx.CountryCode(), cctx.VisaType(), cctx)
	require.NoError(t, err)
	return cctx, base
}

// mirrorEnrichment echoes the base list and explains the funding and
// property documents by their drivers.
func mirrorEnrichment(base []model.CandidateDocument) enrichment {
	enr := enrichment{Summary: "Focus on proving funds and ties.", RiskLevel: model.RiskMedium}
	for _, c := range base {
		item := enrichedItem{
			DocumentType: c.Entry.DocumentType,
			Tier:         c.Entry.Tier,
			WhyRequired:  "Standard requirement.",
			RiskDrivers:  []model.RiskDriver{},
		}
		switch c.Entry.DocumentType {
		case "bank_statement":
			item.WhyRequired = "Your savings cover about 60% of the trip cost (low_funds), so statements matter."
			item.RiskDrivers = []model.RiskDriver{model.DriverLowFunds}
		case "property_document":
			item.WhyRequired = "You reported no property at home (no_property); show another tie."
			item.RiskDrivers = []model.RiskDriver{model.DriverNoProperty}
		}
		enr.Items = append(enr.Items, item)
	}
	return enr
}

func TestScenario_LowFundsNoPropertyNoTrips(t *testing.T) {
	cctx, base := scenario(t)

	assert.Contains(t, cctx.RiskDrivers, model.DriverLowFunds)
	assert.Contains(t, cctx.RiskDrivers, model.DriverNoProperty)
	assert.Contains(t, cctx.RiskDrivers, model.DriverLimitedTravelHistory)
	assert.GreaterOrEqual(t, cctx.RiskLevel.Rank(), model.RiskMedium.Rank())

	mc := mocks.NewMockClient(t)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(respond(t, mirrorEnrichment(base)), nil).Once()

	cl := New(mc, fastConfig()).Generate(context.Background(), cctx, base)
	require.True(t, cl.AIGenerated)

	bank := cl.Item("bank_statement")
	require.NotNil(t, bank)
	assert.Equal(t, model.TierRequired, bank.Tier)
	assert.Contains(t, bank.RiskDrivers, model.DriverLowFunds)
	assert.Contains(t, bank.WhyRequired, "low_funds")

	prop := cl.Item("property_document")
	require.NotNil(t, prop)
	assert.Equal(t, model.TierRequired, prop.Tier)
	assert.Contains(t, prop.RiskDrivers, model.DriverNoProperty)
	assert.Contains(t, prop.WhyRequired, "no_property")
	assert.Equal(t, cctx.RiskLevel, cl.RiskLevel)
}

func TestScenario_FallbackKeepsRequiredDocuments(t *testing.T) {
	cctx, base := scenario(t)

	mc := mocks.NewMockClient(t)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("invalid api key")).Once()

	cl := New(mc, fastConfig()).Generate(context.Background(), cctx, base)
	require.False(t, cl.AIGenerated)

	for _, c := range base {
		it := cl.Item(c.Entry.DocumentType)
		require.NotNil(t, it, c.Entry.DocumentType)
		assert.Equal(t, c.Entry.Tier, it.Tier)
	}
	bank := cl.Item("bank_statement")
	require.NotNil(t, bank)
	assert.Contains(t, bank.RiskDrivers, model.DriverLowFunds)
	prop := cl.Item("property_document")
	require.NotNil(t, prop)
	assert.Contains(t, prop.RiskDrivers, model.DriverNoProperty)
}
