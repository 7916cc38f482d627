package checklist

import (
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/visa-checklist/internal/metrics"
	"github.com/sells-group/visa-checklist/internal/model"
)

// mergeResult is the enriched checklist before consistency checks.
type mergeResult struct {
	checklist *model.Checklist
	// missing lists required base documents absent from the enrichment.
	missing []string
	// restored counts required documents the enrichment downgraded.
	restored int
}

// merge overlays the enrichment on the base documents. The rule table stays
// authoritative for which documents are required: required base items keep
// their tier, and documents the model adds are capped at highly_recommended.
func merge(cctx model.CanonicalContext, base []model.CandidateDocument, enr enrichment, maxItems int) mergeResult {
	lang := cctx.Profile.Language

	enriched := make(map[string]enrichedItem, len(enr.Items))
	for _, ei := range enr.Items {
		if _, dup := enriched[ei.DocumentType]; !dup {
			enriched[ei.DocumentType] = ei
		}
	}

	var res mergeResult
	items := make([]model.ChecklistItem, 0, len(base)+len(enr.Items))
	inBase := make(map[string]bool, len(base))
	for _, c := range base {
		e := c.Entry
		inBase[e.DocumentType] = true
		item := baseItem(cctx, e)

		ei, ok := enriched[e.DocumentType]
		if !ok {
			if e.Tier == model.TierRequired {
				res.missing = append(res.missing, e.DocumentType)
			}
			items = append(items, item)
			continue
		}

		item.WhyRequired = strings.TrimSpace(ei.WhyRequired)
		if g := strings.TrimSpace(ei.Guidance); g != "" {
			item.Guidance = g
		}
		if len(ei.CommonMistakes) > 0 {
			item.CommonMistakes = trimAll(ei.CommonMistakes)
		}
		item.RiskDrivers = relevantDrivers(cctx, e.Addresses, ei.RiskDrivers)

		switch {
		case e.Tier == model.TierRequired && ei.Tier != model.TierRequired:
			res.restored++
			metrics.ConsistencyCorrections.WithLabelValues("required").Inc()
			zap.L().Warn("checklist: enrichment downgraded a required document, restored",
				zap.String("category", string(model.CategoryConsistency)),
				zap.String("application_id", cctx.Profile.ApplicationID),
				zap.String("document_type", e.DocumentType),
				zap.String("enriched_tier", string(ei.Tier)),
			)
		case ei.Tier.Valid():
			item.Tier = ei.Tier
		}
		items = append(items, item)
	}

	seen := make(map[string]bool)
	for _, ei := range enr.Items {
		if inBase[ei.DocumentType] || seen[ei.DocumentType] {
			continue
		}
		seen[ei.DocumentType] = true
		tier := ei.Tier
		if tier == model.TierRequired || !tier.Valid() {
			tier = model.TierHighlyRecommended
		}
		items = append(items, model.ChecklistItem{
			DocumentType:   ei.DocumentType,
			Name:           firstNonEmpty(strings.TrimSpace(ei.Name), humanize(ei.DocumentType)),
			Applicable:     true,
			Tier:           tier,
			WhyRequired:    strings.TrimSpace(ei.WhyRequired),
			RiskDrivers:    relevantDrivers(cctx, nil, ei.RiskDrivers),
			Guidance:       strings.TrimSpace(ei.Guidance),
			CommonMistakes: trimAll(ei.CommonMistakes),
			Source:         model.SourceEnrichment,
		})
	}

	res.checklist = &model.Checklist{
		CountryCode: cctx.CountryCode(),
		VisaType:    cctx.VisaType(),
		Language:    lang,
		RiskLevel:   cctx.RiskLevel,
		Items:       prioritize(items, maxItems),
		Summary:     strings.TrimSpace(enr.Summary),
		Notes:       trimAll(enr.Notes),
		AIGenerated: true,
	}
	return res
}

// fallbackChecklist is the rules-only checklist: every base document as
// resolved, each with its rule-table explanation or a generic one, plus
// notes telling the applicant the list is not personalized. The item cap
// bounds model output only and is not applied here.
func fallbackChecklist(cctx model.CanonicalContext, base []model.CandidateDocument) *model.Checklist {
	items := make([]model.ChecklistItem, 0, len(base))
	for _, c := range base {
		items = append(items, baseItem(cctx, c.Entry))
	}
	return &model.Checklist{
		CountryCode: cctx.CountryCode(),
		VisaType:    cctx.VisaType(),
		Language:    cctx.Profile.Language,
		RiskLevel:   cctx.RiskLevel,
		Items:       prioritize(items, 0),
		Summary:     genericSummary(cctx),
		Notes:       genericNotes(cctx),
		AIGenerated: false,
	}
}

func baseItem(cctx model.CanonicalContext, e model.RuleEntry) model.ChecklistItem {
	lang := cctx.Profile.Language
	why := localizedText(e.Explanations, lang)
	if why == "" {
		why = genericExplanation(cctx)
	}
	return model.ChecklistItem{
		DocumentType:   e.DocumentType,
		Name:           firstNonEmpty(e.Name, humanize(e.DocumentType)),
		Applicable:     true,
		Tier:           e.Tier,
		WhyRequired:    why,
		RiskDrivers:    relevantDrivers(cctx, e.Addresses, nil),
		Guidance:       localizedText(e.Guidance, lang),
		CommonMistakes: slices.Clone(e.CommonMistakes),
		Source:         model.SourceRules,
	}
}

// relevantDrivers returns the drivers from either list that the context
// actually carries, in canonical order. Drivers the model cites that the
// context lacks are dropped.
func relevantDrivers(cctx model.CanonicalContext, lists ...[]model.RiskDriver) []model.RiskDriver {
	want := make(map[model.RiskDriver]bool)
	for _, l := range lists {
		for _, d := range l {
			if d != model.DriverNone && cctx.HasDriver(d) {
				want[d] = true
			}
		}
	}
	var out []model.RiskDriver
	for _, d := range model.AllRiskDrivers {
		if want[d] {
			out = append(out, d)
		}
	}
	return out
}

// prioritize orders items by tier, keeping relative order within a tier,
// assigns 1-based priorities and applies the cap. Required items survive
// the cap regardless of its size.
func prioritize(items []model.ChecklistItem, maxItems int) []model.ChecklistItem {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Tier.Strictness() > items[j].Tier.Strictness()
	})

	required := 0
	for _, it := range items {
		if it.Tier == model.TierRequired {
			required++
		}
	}
	if limit := max(maxItems, required); maxItems > 0 && len(items) > limit {
		items = items[:limit]
	}

	for i := range items {
		items[i].Priority = i + 1
	}
	return items
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// humanize turns "bank_statement" into "Bank statement".
func humanize(docType string) string {
	s := strings.ReplaceAll(docType, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
