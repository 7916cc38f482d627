package ruletable

import (
	"context"
	"sort"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/visa-checklist/internal/model"
	"github.com/sells-group/visa-checklist/pkg/notion"
)

// NotionSource reads rule sets from a Notion database with one row per
// (country, visa type, document). Only approved rows are fetched, so every
// rule set it returns is approved.
type NotionSource struct {
	Client     notion.Client
	DatabaseID string
}

type notionRow struct {
	country  string
	visaType string
	version  string
	order    float64
	entry    model.RuleEntry
}

func (n NotionSource) LoadAll(ctx context.Context) ([]model.RuleSet, error) {
	pages, err := notion.QueryRules(ctx, n.Client, n.DatabaseID)
	if err != nil {
		return nil, eris.Wrap(err, "ruletable: load notion rules")
	}

	type key struct{ country, visaType string }
	groups := make(map[key][]notionRow)
	var order []key
	for _, p := range pages {
		row, err := parseRulePage(p)
		if err != nil {
			zap.L().Warn("ruletable: skipping malformed rule page",
				zap.String("page_id", string(p.ID)),
				zap.String("category", string(model.CategoryInput)),
				zap.Error(err),
			)
			continue
		}
		k := key{row.country, row.visaType}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], row)
	}

	sets := make([]model.RuleSet, 0, len(order))
	for _, k := range order {
		rows := groups[k]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].order < rows[j].order })
		rs := model.RuleSet{CountryCode: k.country, VisaType: k.visaType, Approved: true}
		for _, r := range rows {
			if r.version > rs.Version {
				rs.Version = r.version
			}
			rs.Entries = append(rs.Entries, r.entry)
		}
		sets = append(sets, rs)
	}
	return sets, nil
}

func parseRulePage(p notionapi.Page) (notionRow, error) {
	row := notionRow{
		country:  strings.ToUpper(selectOrText(p, notion.ColumnCountry)),
		visaType: strings.ToLower(selectOrText(p, notion.ColumnVisaType)),
		version:  richText(p, "Version"),
		order:    number(p, notion.ColumnOrder),
		entry: model.RuleEntry{
			DocumentType: richText(p, "Document Type"),
			Name:         title(p, "Document"),
			Tier:         model.Tier(strings.ToLower(strings.ReplaceAll(selectOrText(p, "Tier"), " ", "_"))),
			Explanations: localized(p, "Explanation"),
			Guidance:     localized(p, "Guidance"),
		},
	}
	for _, d := range multiSelect(p, "Addresses") {
		row.entry.Addresses = append(row.entry.Addresses, model.RiskDriver(d))
	}
	for _, line := range strings.Split(richText(p, "Common Mistakes"), "\n") {
		if line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-")); line != "" {
			row.entry.CommonMistakes = append(row.entry.CommonMistakes, line)
		}
	}
	if raw := richText(p, "Condition"); strings.TrimSpace(raw) != "" {
		var cond model.Condition
		if err := yaml.Unmarshal([]byte(raw), &cond); err != nil {
			return row, eris.Wrap(err, "invalid Condition")
		}
		row.entry.Condition = &cond
	}

	switch {
	case row.country == "":
		return row, eris.New("missing Country property")
	case row.visaType == "":
		return row, eris.New("missing Visa Type property")
	case row.entry.DocumentType == "":
		return row, eris.New("missing Document Type property")
	}
	return row, nil
}

// localized collects "<prefix> (en)", "<prefix> (ru)" and "<prefix> (uz)".
func localized(p notionapi.Page, prefix string) map[string]string {
	out := make(map[string]string)
	for _, lang := range []string{"en", "ru", "uz"} {
		if s := richText(p, prefix+" ("+lang+")"); s != "" {
			out[lang] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func title(p notionapi.Page, name string) string {
	if tp, ok := p.Properties[name].(*notionapi.TitleProperty); ok {
		return strings.TrimSpace(plainText(tp.Title))
	}
	return ""
}

func richText(p notionapi.Page, name string) string {
	if rtp, ok := p.Properties[name].(*notionapi.RichTextProperty); ok {
		return strings.TrimSpace(plainText(rtp.RichText))
	}
	return ""
}

// selectOrText accepts either a select or a rich_text column.
func selectOrText(p notionapi.Page, name string) string {
	if sp, ok := p.Properties[name].(*notionapi.SelectProperty); ok {
		return strings.TrimSpace(sp.Select.Name)
	}
	return richText(p, name)
}

func multiSelect(p notionapi.Page, name string) []string {
	msp, ok := p.Properties[name].(*notionapi.MultiSelectProperty)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(msp.MultiSelect))
	for _, opt := range msp.MultiSelect {
		out = append(out, opt.Name)
	}
	return out
}

func number(p notionapi.Page, name string) float64 {
	if np, ok := p.Properties[name].(*notionapi.NumberProperty); ok {
		return np.Number
	}
	return 0
}

func plainText(rts []notionapi.RichText) string {
	var b strings.Builder
	for _, rt := range rts {
		b.WriteString(rt.PlainText)
	}
	return b.String()
}
