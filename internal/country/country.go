// Package country resolves ISO 3166-1 alpha-2 codes to display names and
// finds country names mentioned in free text.
package country

import (
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// isoCodes lists ISO 3166-1 alpha-2 codes for sovereign states and commonly
// used territories.
var isoCodes = strings.Fields(`
AD AE AF AG AL AM AO AR AT AU AZ BA BB BD BE BF BG BH BI BJ BN BO BR BS BT BW BY BZ
CA CD CF CG CH CI CL CM CN CO CR CU CV CY CZ DE DJ DK DM DO DZ EC EE EG ER ES ET FI
FJ FM FR GA GB GD GE GH GM GN GQ GR GT GW GY HK HN HR HT HU ID IE IL IN IQ IR IS IT
JM JO JP KE KG KH KI KM KN KP KR KW KZ LA LB LC LI LK LR LS LT LU LV LY MA MC MD ME
MG MH MK ML MM MN MO MR MT MU MV MW MX MY MZ NA NE NG NI NL NO NP NR NZ OM PA PE PG
PH PK PL PS PT PW PY QA RO RS RU RW SA SB SC SD SE SG SI SK SL SM SN SO SR SS ST SV
SY SZ TD TG TH TJ TL TM TN TO TR TT TV TW TZ UA UG US UY UZ VA VC VE VN VU WS XK YE
ZA ZM ZW`)

// aliases are informal names that models use in place of the display name.
var aliases = map[string][]string{
	"US": {"USA", "U.S.", "U.S.A.", "United States of America"},
	"GB": {"UK", "U.K.", "Britain", "Great Britain", "England", "Scotland", "Wales"},
	"AE": {"UAE", "Emirates"},
	"KR": {"Korea", "Republic of Korea"},
	"CZ": {"Czech Republic"},
	"NL": {"Holland"},
	"TR": {"Turkey", "Türkiye"},
	"CI": {"Ivory Coast"},
	"RU": {"Russian Federation"},
}

// ruAliases are informal Russian names.
var ruAliases = map[string][]string{
	"US": {"США", "Америка"},
	"GB": {"Англия", "Британия"},
	"AE": {"ОАЭ", "Эмираты"},
	"KR": {"Южная Корея"},
	"NL": {"Голландия"},
}

// languages for which names are indexed.
var languages = []language.Tag{language.English, language.Russian, language.Uzbek}

// Mention is one country name found in text.
type Mention struct {
	Code  string
	Start int // byte offset
	End   int
	Text  string
	// Lang is "ru" or "uz" when the mention was matched in an inflected
	// form of that language, empty otherwise.
	Lang   string
	Case   Case   // ru only
	Suffix string // uz only
}

type index struct {
	byName map[string]string // lower-cased name -> code
	names  []string          // lower-cased, longest first
	ru     []inflected       // Russian names, most specific first
	uz     []inflected       // Uzbek names, most specific first
}

var (
	idxOnce sync.Once
	idx     *index
)

func load() *index {
	idxOnce.Do(func() {
		ix := &index{byName: make(map[string]string)}
		add := func(name, code string) {
			key := strings.ToLower(strings.TrimSpace(name))
			if key == "" {
				return
			}
			if _, dup := ix.byName[key]; !dup {
				ix.byName[key] = code
			}
		}
		for _, tag := range languages {
			namer := display.Regions(tag)
			if namer == nil {
				continue
			}
			for _, code := range isoCodes {
				r, err := language.ParseRegion(code)
				if err != nil {
					continue
				}
				add(namer.Name(r), code)
			}
		}
		for code, names := range aliases {
			for _, n := range names {
				add(n, code)
			}
		}
		for code, names := range ruAliases {
			for _, n := range names {
				add(n, code)
				ix.ru = append(ix.ru, newInflected(n, code))
			}
		}
		ix.ru = append(ix.ru, displayNames(language.Russian)...)
		ix.uz = displayNames(language.Uzbek)
		sortInflected(ix.ru)
		sortInflected(ix.uz)
		for name := range ix.byName {
			ix.names = append(ix.names, name)
		}
		sort.Slice(ix.names, func(i, j int) bool {
			if len(ix.names[i]) != len(ix.names[j]) {
				return len(ix.names[i]) > len(ix.names[j])
			}
			return ix.names[i] < ix.names[j]
		})
		idx = ix
	})
	return idx
}

// Name returns the display name of code in lang (en, ru or uz), falling back
// to English and finally to the code itself.
func Name(code, lang string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	r, err := language.ParseRegion(code)
	if err != nil {
		return code
	}
	tag := language.English
	if t, err := language.Parse(lang); err == nil {
		tag = t
	}
	if namer := display.Regions(tag); namer != nil {
		if n := namer.Name(r); n != "" {
			return n
		}
	}
	if n := display.English.Regions().Name(r); n != "" {
		return n
	}
	return code
}

// Lookup resolves a code or a country name in any indexed language to its
// ISO code.
func Lookup(nameOrCode string) (string, bool) {
	s := strings.TrimSpace(nameOrCode)
	if s == "" {
		return "", false
	}
	if len(s) == 2 {
		up := strings.ToUpper(s)
		for _, c := range isoCodes {
			if c == up {
				return up, true
			}
		}
	}
	code, ok := load().byName[strings.ToLower(s)]
	return code, ok
}

// Find returns every country name mentioned in text, left to right. Longer
// names win over names they contain ("South Sudan" over "Sudan"), and matches
// must sit on word boundaries so "Niger" is not found inside "Nigeria", and
// start with a capital so "turkey" and "того" are not countries.
// Russian names are also found in their declined forms ("Франции") and
// Uzbek names with case suffixes ("Fransiyaga").
func Find(text string) []Mention {
	ix := load()
	taken := make([]bool, len(text))
	var out []Mention
	if lower := strings.ToLower(text); len(lower) == len(text) {
		out = findExact(text, lower, ix, taken)
	} else {
		// Case folding changed byte lengths; offsets would drift.
		out = findSlow(text, ix, taken)
	}
	out = append(out, findInflected(text, ix, taken, out)...)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func findExact(text, lower string, ix *index, taken []bool) []Mention {
	var out []Mention
	for _, name := range ix.names {
		from := 0
		for {
			i := strings.Index(lower[from:], name)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(name)
			from = end
			if !boundary(text, start, end) || !startsUpper(text[start:]) || overlaps(taken, start, end) {
				continue
			}
			for k := start; k < end; k++ {
				taken[k] = true
			}
			out = append(out, Mention{Code: ix.byName[name], Start: start, End: end, Text: text[start:end]})
		}
	}
	return out
}

// findSlow matches rune-by-rune with case-insensitive comparison for inputs
// whose lower-case form has a different byte length.
func findSlow(text string, ix *index, taken []bool) []Mention {
	var out []Mention
	for _, name := range ix.names {
		for start := 0; start < len(text); {
			end, ok := matchFold(text, start, name)
			if ok && boundary(text, start, end) && startsUpper(text[start:]) && !overlaps(taken, start, end) {
				for k := start; k < end; k++ {
					taken[k] = true
				}
				out = append(out, Mention{Code: ix.byName[name], Start: start, End: end, Text: text[start:end]})
				start = end
				continue
			}
			_, size := utf8.DecodeRuneInString(text[start:])
			start += size
		}
	}
	return out
}

func matchFold(text string, start int, name string) (int, bool) {
	i := start
	for _, nr := range name {
		if i >= len(text) {
			return 0, false
		}
		tr, size := utf8.DecodeRuneInString(text[i:])
		if unicode.ToLower(tr) != nr {
			return 0, false
		}
		i += size
	}
	return i, true
}

func boundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func overlaps(taken []bool, start, end int) bool {
	for k := start; k < end; k++ {
		if taken[k] {
			return true
		}
	}
	return false
}
