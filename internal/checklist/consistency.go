package checklist

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/visa-checklist/internal/country"
	"github.com/sells-group/visa-checklist/internal/metrics"
	"github.com/sells-group/visa-checklist/internal/model"
)

// enforceConsistency corrects enriched text in place and returns the number
// of corrections. Other destination names are rewritten to the requested
// country (the applicant's own nationality is left alone) and every risk
// level mentioned in text is forced to the context's level.
func enforceConsistency(cctx model.CanonicalContext, cl *model.Checklist, surfaced model.RiskLevel) int {
	corrections := 0
	if surfaced != "" && surfaced != cctx.RiskLevel {
		corrections++
		metrics.ConsistencyCorrections.WithLabelValues("risk_level").Inc()
		zap.L().Warn("checklist: enrichment reported a different risk level, corrected",
			zap.String("category", string(model.CategoryConsistency)),
			zap.String("application_id", cctx.Profile.ApplicationID),
			zap.String("reported", string(surfaced)),
			zap.String("risk_level", string(cctx.RiskLevel)),
		)
	}
	cl.RiskLevel = cctx.RiskLevel

	want := cctx.CountryCode()
	exempt := cctx.Profile.Demographics.Nationality
	var foreign []string
	levelFixes := 0

	fix := func(s string) string {
		s, found := rewriteCountries(s, want, exempt, cl.Language)
		foreign = append(foreign, found...)
		s, n := fixRiskLevels(s, cctx.RiskLevel, cl.Language)
		levelFixes += n
		return s
	}

	cl.Summary = fix(cl.Summary)
	for i := range cl.Notes {
		cl.Notes[i] = fix(cl.Notes[i])
	}
	for i := range cl.Items {
		it := &cl.Items[i]
		it.Name = fix(it.Name)
		it.WhyRequired = fix(it.WhyRequired)
		it.Guidance = fix(it.Guidance)
		for j := range it.CommonMistakes {
			it.CommonMistakes[j] = fix(it.CommonMistakes[j])
		}
	}

	if len(foreign) > 0 {
		metrics.CountryMismatches.WithLabelValues(want).Add(float64(len(foreign)))
		metrics.ConsistencyCorrections.WithLabelValues("country").Add(float64(len(foreign)))
		zap.L().Warn("checklist: country mismatch in enriched text, rewritten",
			zap.String("category", string(model.CategoryConsistency)),
			zap.String("application_id", cctx.Profile.ApplicationID),
			zap.String("country_code", want),
			zap.Strings("found", foreign),
		)
	}
	if levelFixes > 0 {
		metrics.ConsistencyCorrections.WithLabelValues("risk_level").Add(float64(levelFixes))
		zap.L().Warn("checklist: risk level mismatch in enriched text, corrected",
			zap.String("category", string(model.CategoryConsistency)),
			zap.String("application_id", cctx.Profile.ApplicationID),
			zap.String("risk_level", string(cctx.RiskLevel)),
			zap.Int("occurrences", levelFixes),
		)
	}
	return corrections + len(foreign) + levelFixes
}

// rewriteCountries replaces every country other than want and exempt with
// want's name in lang, in the same grammatical form as the replaced word.
// It returns the codes that were replaced.
func rewriteCountries(text, want, exempt, lang string) (string, []string) {
	mentions := country.Find(text)
	if len(mentions) == 0 {
		return text, nil
	}

	var b strings.Builder
	var found []string
	last := 0
	for _, m := range mentions {
		if m.Code == want || (exempt != "" && m.Code == exempt) {
			continue
		}
		name := country.NameAs(want, lang, m)
		before := text[last:m.Start]
		if m.Lang == "ru" {
			before = country.AdjustPreposition(before, name)
		}
		b.WriteString(before)
		b.WriteString(name)
		last = m.End
		found = append(found, m.Code)
	}
	if len(found) == 0 {
		return text, nil
	}
	b.WriteString(text[last:])
	return b.String(), found
}

// levelPattern finds a risk level word in capture group 1.
// A pattern with lang set only applies to text in that language.
type levelPattern struct {
	lang  string
	re    *regexp.Regexp
	level func(word string) (model.RiskLevel, bool)
	word  func(want model.RiskLevel, orig string) string
}

var riskPatterns = []levelPattern{
	{
		re:    regexp.MustCompile(`(?i)\b(low|medium|moderate|high)(?:\s*-\s*|\s+)risk\b`),
		level: englishLevel,
		word:  englishWord,
	},
	{
		re:    regexp.MustCompile(`(?i)\brisk\s+(?:level|rating|profile)\s*(?:is\s+|of\s+|:\s*|=\s*)?(low|medium|moderate|high)\b`),
		level: englishLevel,
		word:  englishWord,
	},
	{
		re:    regexp.MustCompile(`(?i)(низк\p{L}*|средн\p{L}*|высок\p{L}*)\s+(?:уров\p{L}*\s+|степен\p{L}*\s+)?риск`),
		level: russianLevel,
		word:  russianWord,
	},
	{
		re:    regexp.MustCompile(`(?i)уров\p{L}*\s+риска\s*(?:[:\-–]\s*|—\s*)?(низк\p{L}*|средн\p{L}*|высок\p{L}*)`),
		level: russianLevel,
		word:  russianWord,
	},
	{
		lang:  "uz",
		re:    regexp.MustCompile(`(?i)\b(past|o['‘’ʻ]?rta|yuqori)\s+(?:darajali\s+)?risk`),
		level: uzbekLevel,
		word:  uzbekWord,
	},
	{
		lang:  "uz",
		re:    regexp.MustCompile(`(?i)\brisk\s+darajasi\s*(?::\s*)?(past|o['‘’ʻ]?rta|yuqori)`),
		level: uzbekLevel,
		word:  uzbekWord,
	},
}

// fixRiskLevels rewrites every risk level claim in text that differs from
// want and returns how many it rewrote.
func fixRiskLevels(text string, want model.RiskLevel, lang string) (string, int) {
	if text == "" || !want.Valid() {
		return text, 0
	}
	fixed := 0
	for _, p := range riskPatterns {
		if p.lang != "" && p.lang != lang {
			continue
		}
		locs := p.re.FindAllStringSubmatchIndex(text, -1)
		if len(locs) == 0 {
			continue
		}
		var b strings.Builder
		last := 0
		for _, loc := range locs {
			ws, we := loc[2], loc[3]
			word := text[ws:we]
			if lvl, ok := p.level(word); !ok || lvl == want {
				continue
			}
			b.WriteString(text[last:ws])
			b.WriteString(matchCase(p.word(want, word), word))
			last = we
			fixed++
		}
		b.WriteString(text[last:])
		text = b.String()
	}
	return text, fixed
}

func englishLevel(word string) (model.RiskLevel, bool) {
	switch strings.ToLower(word) {
	case "low":
		return model.RiskLow, true
	case "medium", "moderate":
		return model.RiskMedium, true
	case "high":
		return model.RiskHigh, true
	}
	return "", false
}

func englishWord(want model.RiskLevel, _ string) string {
	return string(want)
}

var russianStems = map[model.RiskLevel]string{
	model.RiskLow:    "низк",
	model.RiskMedium: "средн",
	model.RiskHigh:   "высок",
}

func russianLevel(word string) (model.RiskLevel, bool) {
	lower := strings.ToLower(word)
	for lvl, stem := range russianStems {
		if strings.HasPrefix(lower, stem) {
			return lvl, true
		}
	}
	return "", false
}

// russianWord swaps the stem and keeps the case ending, adjusting the vowel
// between the hard stems (низк-, высок-) and the soft one (средн-).
func russianWord(want model.RiskLevel, orig string) string {
	lower := strings.ToLower(orig)
	from, _ := russianLevel(orig)
	suffix := strings.TrimPrefix(lower, russianStems[from])
	soft := map[string]string{"о": "е", "а": "я", "у": "ю", "ы": "и"}
	hard := map[string]string{"е": "о", "я": "а", "ю": "у"}

	if r, size := utf8.DecodeRuneInString(suffix); size > 0 {
		first := string(r)
		switch {
		case want == model.RiskMedium && from != model.RiskMedium:
			if v, ok := soft[first]; ok {
				suffix = v + suffix[size:]
			}
		case want != model.RiskMedium && from == model.RiskMedium:
			if v, ok := hard[first]; ok {
				suffix = v + suffix[size:]
			}
		}
	}
	return russianStems[want] + suffix
}

func uzbekLevel(word string) (model.RiskLevel, bool) {
	lower := strings.ToLower(word)
	switch {
	case lower == "past":
		return model.RiskLow, true
	case lower == "yuqori":
		return model.RiskHigh, true
	case strings.HasPrefix(lower, "o") && strings.HasSuffix(lower, "rta"):
		return model.RiskMedium, true
	}
	return "", false
}

func uzbekWord(want model.RiskLevel, _ string) string {
	switch want {
	case model.RiskLow:
		return "past"
	case model.RiskHigh:
		return "yuqori"
	default:
		return "o'rta"
	}
}

// matchCase capitalizes repl when orig starts with an upper-case letter.
func matchCase(repl, orig string) string {
	r, _ := utf8.DecodeRuneInString(orig)
	if !unicode.IsUpper(r) {
		return repl
	}
	if strings.ToUpper(orig) == orig && utf8.RuneCountInString(orig) > 1 {
		return strings.ToUpper(repl)
	}
	first, size := utf8.DecodeRuneInString(repl)
	return string(unicode.ToUpper(first)) + repl[size:]
}
