package notion

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// Columns of the rule table database.
const (
	ColumnStatus   = "Status"
	ColumnCountry  = "Country"
	ColumnVisaType = "Visa Type"
	ColumnOrder    = "Order"
)

// StatusApproved marks a reviewed rule row.
const StatusApproved = "Approved"

const rulePageSize = 100

// RulesRequest builds the query for rule rows in any of the given statuses,
// ordered by country, visa type and display order. With no statuses only
// approved rows match.
func RulesRequest(statuses ...string) *notionapi.DatabaseQueryRequest {
	if len(statuses) == 0 {
		statuses = []string{StatusApproved}
	}
	var filter notionapi.Filter = statusIs(statuses[0])
	if len(statuses) > 1 {
		or := make(notionapi.OrCompoundFilter, 0, len(statuses))
		for _, s := range statuses {
			or = append(or, statusIs(s))
		}
		filter = or
	}
	return &notionapi.DatabaseQueryRequest{
		Filter: filter,
		Sorts: []notionapi.SortObject{
			{Property: ColumnCountry, Direction: notionapi.SortOrderASC},
			{Property: ColumnVisaType, Direction: notionapi.SortOrderASC},
			{Property: ColumnOrder, Direction: notionapi.SortOrderASC},
		},
		PageSize: rulePageSize,
	}
}

func statusIs(status string) notionapi.PropertyFilter {
	return notionapi.PropertyFilter{
		Property: ColumnStatus,
		Status:   &notionapi.StatusFilterCondition{Equals: status},
	}
}

// QueryRules fetches every rule row in the given statuses (approved when
// none are given).
func QueryRules(ctx context.Context, c Client, dbID string, statuses ...string) ([]notionapi.Page, error) {
	pages, err := QueryAll(ctx, c, dbID, RulesRequest(statuses...))
	if err != nil {
		label := StatusApproved
		if len(statuses) > 0 {
			label = strings.Join(statuses, ",")
		}
		return nil, eris.Wrapf(err, "notion: query rules %s", label)
	}
	return pages, nil
}
