package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRulesRequest_DefaultsToApproved(t *testing.T) {
	req := RulesRequest()

	pf, ok := req.Filter.(notionapi.PropertyFilter)
	require.True(t, ok)
	assert.Equal(t, ColumnStatus, pf.Property)
	require.NotNil(t, pf.Status)
	assert.Equal(t, StatusApproved, pf.Status.Equals)
	assert.Equal(t, 100, req.PageSize)

	var props []string
	for _, s := range req.Sorts {
		props = append(props, s.Property)
		assert.Equal(t, notionapi.SortOrderASC, s.Direction)
	}
	assert.Equal(t, []string{ColumnCountry, ColumnVisaType, ColumnOrder}, props)
}

func TestRulesRequest_SeveralStatuses(t *testing.T) {
	req := RulesRequest(StatusApproved, "In Review")

	or, ok := req.Filter.(notionapi.OrCompoundFilter)
	require.True(t, ok)
	require.Len(t, or, 2)
	assert.Equal(t, "In Review", or[1].(notionapi.PropertyFilter).Status.Equals)
}

func TestQueryRules(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-rules", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && pf.Status != nil && pf.Status.Equals == StatusApproved &&
			len(req.Sorts) == 3 && req.PageSize == 100
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "rule-1"}, {ID: "rule-2"}},
	}, nil).Once()

	pages, err := QueryRules(ctx, mc, "db-rules")
	assert.NoError(t, err)
	assert.Len(t, pages, 2)
	mc.AssertExpectations(t)
}

func TestQueryRules_Error(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-err", mock.Anything).Return(nil, assert.AnError).Once()

	pages, err := QueryRules(ctx, mc, "db-err")
	assert.Error(t, err)
	assert.Nil(t, pages)
	assert.Contains(t, err.Error(), "notion: query rules Approved")
	mc.AssertExpectations(t)
}
