package country

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Case is a Russian grammatical case.
type Case int

const (
	Nominative Case = iota
	Genitive
	Dative
	Accusative
	Instrumental
	Prepositional
	numCases
)

var caseNames = [numCases]string{"nominative", "genitive", "dative", "accusative", "instrumental", "prepositional"}

func (c Case) String() string {
	if c < 0 || c >= numCases {
		return "unknown"
	}
	return caseNames[c]
}

// paradigm is a declension class keyed by its nominative ending. forms
// replace that ending, one per case.
type paradigm struct {
	ending string
	adj    bool // only before another word
	forms  [numCases]string
}

// paradigms are tried in order; the first ending that fits wins.
var paradigms = []paradigm{
	{ending: "ия", forms: [numCases]string{"ия", "ии", "ии", "ию", "ией", "ии"}},
	{ending: "ая", adj: true, forms: [numCases]string{"ая", "ой", "ой", "ую", "ой", "ой"}},
	{ending: "ые", adj: true, forms: [numCases]string{"ые", "ых", "ым", "ые", "ыми", "ых"}},
	{ending: "ое", adj: true, forms: [numCases]string{"ое", "ого", "ому", "ое", "ым", "ом"}},
	{ending: "ый", adj: true, forms: [numCases]string{"ый", "ого", "ому", "ый", "ым", "ом"}},
	{ending: "ий", adj: true, forms: [numCases]string{"ий", "ого", "ому", "ий", "им", "ом"}},
	{ending: "я", forms: [numCases]string{"я", "и", "е", "ю", "ей", "е"}},
	{ending: "а", forms: [numCases]string{"а", "ы", "е", "у", "ой", "е"}},
	{ending: "ы", forms: [numCases]string{"ы", "ов", "ам", "ы", "ами", "ах"}},
	{ending: "й", forms: [numCases]string{"й", "я", "ю", "й", "ем", "е"}},
	{ending: "ь", forms: [numCases]string{"ь", "я", "ю", "ь", "ем", "е"}},
}

var consonantParadigm = paradigm{forms: [numCases]string{"", "а", "у", "", "ом", "е"}}

const ruVowels = "аеёиоуыэюя"

// ruForms returns the six case forms of one Russian word. Words it cannot
// decline (abbreviations, foreign vowel endings, short words) come back
// unchanged in every case with ok false.
func ruForms(word string, last bool) (forms [numCases]string, ok bool) {
	for c := range forms {
		forms[c] = word
	}
	// Only the tail of a hyphenated word declines ("Южно-Африканская").
	head := ""
	if i := strings.LastIndex(word, "-"); i >= 0 {
		head, word = word[:i+1], word[i+1:]
	}
	if utf8.RuneCountInString(word) < 3 || strings.ToUpper(word) == word {
		return forms, false
	}
	lw := strings.ToLower(word)
	p, found := paradigmFor(lw, last)
	if !found {
		return forms, false
	}
	stem := word[:len(word)-len(p.ending)]
	ls := strings.ToLower(stem)
	for c := range forms {
		end := p.forms[c]
		switch {
		case p.ending == "а" && Case(c) == Genitive && endsWithAny(ls, "гкхжшчщ"):
			end = "и"
		case p.ending == "а" && Case(c) == Instrumental && endsWithAny(ls, "жшчщц"):
			end = "ей"
		case p.ending == "" && Case(c) == Instrumental && endsWithAny(ls, "жшчщц"):
			end = "ем"
		}
		forms[c] = head + stem + end
	}
	return forms, true
}

func paradigmFor(lw string, last bool) (paradigm, bool) {
	for _, p := range paradigms {
		if p.adj && last {
			continue
		}
		if !strings.HasSuffix(lw, p.ending) {
			continue
		}
		// Vowel + а is foreign and does not decline ("Папуа").
		if p.ending == "а" && endsWithAny(strings.TrimSuffix(lw, "а"), ruVowels) {
			return paradigm{}, false
		}
		return p, true
	}
	r, _ := utf8.DecodeLastRuneInString(lw)
	if unicode.Is(unicode.Cyrillic, r) && unicode.IsLetter(r) && !strings.ContainsRune(ruVowels, r) {
		return consonantParadigm, true
	}
	return paradigm{}, false
}

func endsWithAny(s, chars string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r != utf8.RuneError && strings.ContainsRune(chars, r)
}

// Decline puts a Russian country name into case c, word by word.
func Decline(name string, c Case) string {
	if c <= Nominative || c >= numCases {
		return name
	}
	words := strings.Fields(name)
	for i, w := range words {
		forms, _ := ruForms(w, i == len(words)-1)
		words[i] = forms[c]
	}
	return strings.Join(words, " ")
}

// NameAs renders code's name the way mention m was written: Russian
// mentions in m's case, Uzbek mentions with m's suffix, and anything else
// as the display name in lang.
func NameAs(code, lang string, m Mention) string {
	switch m.Lang {
	case "ru":
		return Decline(Name(code, "ru"), m.Case)
	case "uz":
		name := Name(code, "uz")
		return name + harmonize(m.Suffix, name)
	}
	return Name(code, lang)
}

// uzSuffixes are the Uzbek case suffixes a country name takes.
var uzSuffixes = []string{"gacha", "dagi", "ning", "dan", "ga", "ka", "qa", "da", "ni"}

// harmonize picks the dative variant that fits the last letter of name.
func harmonize(suffix, name string) string {
	switch suffix {
	case "ga", "ka", "qa":
		switch {
		case strings.HasSuffix(name, "k"):
			return "ka"
		case strings.HasSuffix(name, "q"):
			return "qa"
		}
		return "ga"
	}
	return suffix
}

// AdjustPreposition fixes a trailing "в"/"во" or "с"/"со" in before so it
// reads naturally ahead of next: "во Францию" but "в Германию".
func AdjustPreposition(before, next string) string {
	trimmed := strings.TrimRightFunc(before, unicode.IsSpace)
	if trimmed == before || trimmed == "" {
		return before
	}
	start := 0
	if i := strings.LastIndexFunc(trimmed, func(r rune) bool { return !unicode.IsLetter(r) }); i >= 0 {
		_, size := utf8.DecodeRuneInString(trimmed[i:])
		start = i + size
	}
	word := trimmed[start:]
	var base, clusters string
	switch strings.ToLower(word) {
	case "в", "во":
		base, clusters = "в", "вф"
	case "с", "со":
		base, clusters = "с", "сзшжщ"
	default:
		return before
	}

	form := base
	n := []rune(strings.ToLower(next))
	if len(n) > 1 && strings.ContainsRune(clusters, n[0]) && unicode.IsLetter(n[1]) && !strings.ContainsRune(ruVowels, n[1]) {
		form += "о"
	}
	if r, _ := utf8.DecodeRuneInString(word); unicode.IsUpper(r) {
		form = strings.ToUpper(form[:len(base)]) + form[len(base):]
	}
	return trimmed[:start] + form + before[len(trimmed):]
}

// inflected is a country name split into words for inflected matching.
type inflected struct {
	code  string
	words []string
}

func newInflected(name, code string) inflected {
	var words []string
	for _, t := range tokenize(name) {
		words = append(words, name[t.start:t.end])
	}
	return inflected{code: code, words: words}
}

func displayNames(tag language.Tag) []inflected {
	namer := display.Regions(tag)
	if namer == nil {
		return nil
	}
	var out []inflected
	for _, code := range isoCodes {
		r, err := language.ParseRegion(code)
		if err != nil {
			continue
		}
		if n := namer.Name(r); n != "" {
			out = append(out, newInflected(n, code))
		}
	}
	return out
}

// sortInflected puts multi-word and longer names first.
func sortInflected(names []inflected) {
	sort.SliceStable(names, func(i, j int) bool {
		if len(names[i].words) != len(names[j].words) {
			return len(names[i].words) > len(names[j].words)
		}
		return len(strings.Join(names[i].words, " ")) > len(strings.Join(names[j].words, " "))
	})
}

type span struct{ start, end int }

// tokenize splits text into words. Hyphens and apostrophes between letters
// stay inside the word.
func tokenize(text string) []span {
	var out []span
	start := -1
	for i, r := range text {
		inner := r == '-' || isApostrophe(r)
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if start < 0 {
				start = i
			}
		case inner && start >= 0:
			next, _ := utf8.DecodeRuneInString(text[i+utf8.RuneLen(r):])
			if !unicode.IsLetter(next) {
				out = append(out, span{start, i})
				start = -1
			}
		default:
			if start >= 0 {
				out = append(out, span{start, i})
				start = -1
			}
		}
	}
	if start >= 0 {
		out = append(out, span{start, len(text)})
	}
	return out
}

func isApostrophe(r rune) bool {
	switch r {
	case '\'', '‘', '’', 'ʻ', 'ʼ':
		return true
	}
	return false
}

// fold normalizes a word for comparison.
func fold(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "ё", "е")
	return strings.Map(func(r rune) rune {
		if isApostrophe(r) {
			return 'ʻ'
		}
		return r
	}, s)
}

func isCyrillic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Cyrillic, r) {
			return true
		}
	}
	return false
}

func startsUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}

// joinable reports whether gap may separate two words of one name.
func joinable(gap string) bool {
	return gap != "" && len(gap) <= 8 && !strings.ContainsAny(gap, ".,;:!?()\n")
}

// findInflected sets the case of Cyrillic exact mentions and then finds
// declined Russian and suffixed Uzbek names in words not yet taken.
func findInflected(text string, ix *index, taken []bool, exact []Mention) []Mention {
	toks := tokenize(text)
	for i := range exact {
		m := &exact[i]
		if !isCyrillic(m.Text) {
			continue
		}
		words := newInflected(m.Text, m.Code).words
		mask := caseMask(words, words)
		m.Lang = "ru"
		m.Case = pickCase(mask, previousWord(text, toks, m.Start))
	}

	var out []Mention
	for i := 0; i < len(toks); i++ {
		if overlaps(taken, toks[i].start, toks[i].end) || !startsUpper(text[toks[i].start:toks[i].end]) {
			continue
		}
		m, n, ok := matchAt(text, toks, i, ix, taken)
		if !ok {
			continue
		}
		for k := m.Start; k < m.End; k++ {
			taken[k] = true
		}
		out = append(out, m)
		i += n - 1
	}
	return out
}

func matchAt(text string, toks []span, i int, ix *index, taken []bool) (Mention, int, bool) {
	words := func(n int) ([]string, bool) {
		if i+n > len(toks) {
			return nil, false
		}
		out := make([]string, n)
		for j := 0; j < n; j++ {
			t := toks[i+j]
			if overlaps(taken, t.start, t.end) {
				return nil, false
			}
			if j > 0 && !joinable(text[toks[i+j-1].end:t.start]) {
				return nil, false
			}
			out[j] = text[t.start:t.end]
		}
		return out, true
	}
	mention := func(code string, n int) Mention {
		start, end := toks[i].start, toks[i+n-1].end
		return Mention{Code: code, Start: start, End: end, Text: text[start:end]}
	}

	if isCyrillic(text[toks[i].start:toks[i].end]) {
		for _, name := range ix.ru {
			got, ok := words(len(name.words))
			if !ok {
				continue
			}
			// Short single words ("Куба", "Чад") decline into common nouns.
			if len(name.words) == 1 && utf8.RuneCountInString(name.words[0]) < 4 {
				continue
			}
			mask := caseMask(name.words, got)
			if mask == 0 {
				continue
			}
			m := mention(name.code, len(name.words))
			m.Lang = "ru"
			m.Case = pickCase(mask, previousWord(text, toks, m.Start))
			return m, len(name.words), true
		}
		return Mention{}, 0, false
	}

	for _, name := range ix.uz {
		got, ok := words(len(name.words))
		if !ok {
			continue
		}
		if suffix, ok := uzMatch(name.words, got); ok {
			m := mention(name.code, len(name.words))
			m.Lang = "uz"
			m.Suffix = suffix
			return m, len(name.words), true
		}
	}
	return Mention{}, 0, false
}

// caseMask returns a bit per case in which got spells name.
func caseMask(name, got []string) uint8 {
	if len(name) != len(got) {
		return 0
	}
	mask := uint8(1<<numCases - 1)
	for j, w := range name {
		forms, _ := ruForms(w, j == len(name)-1)
		var bits uint8
		g := fold(got[j])
		for c, f := range forms {
			if fold(f) == g {
				bits |= 1 << c
			}
		}
		mask &= bits
	}
	return mask
}

// uzMatch reports the suffix when got is name with a case suffix on its
// last word. The bare name is left to the exact pass.
func uzMatch(name, got []string) (string, bool) {
	last := len(name) - 1
	for j := 0; j < last; j++ {
		if fold(name[j]) != fold(got[j]) {
			return "", false
		}
	}
	base, word := fold(name[last]), fold(got[last])
	if !strings.HasPrefix(word, base) {
		return "", false
	}
	rest := word[len(base):]
	for _, s := range uzSuffixes {
		if rest == s {
			return s, true
		}
	}
	return "", false
}

func previousWord(text string, toks []span, start int) string {
	for k := len(toks) - 1; k >= 0; k-- {
		if toks[k].end > start {
			continue
		}
		if strings.TrimSpace(text[toks[k].end:start]) != "" {
			return ""
		}
		return strings.ToLower(text[toks[k].start:toks[k].end])
	}
	return ""
}

// caseAfter lists the cases a preposition governs, most likely first.
var caseAfter = map[string][]Case{
	"в":     {Prepositional, Accusative},
	"во":    {Prepositional, Accusative},
	"на":    {Prepositional, Accusative},
	"о":     {Prepositional},
	"об":    {Prepositional},
	"при":   {Prepositional},
	"к":     {Dative},
	"ко":    {Dative},
	"по":    {Dative},
	"через": {Accusative},
	"за":    {Accusative, Instrumental},
	"про":   {Accusative},
	"с":     {Instrumental, Genitive},
	"со":    {Instrumental, Genitive},
	"из":    {Genitive},
	"от":    {Genitive},
	"до":    {Genitive},
	"для":   {Genitive},
	"без":   {Genitive},
	"у":     {Genitive},
	"из-за": {Genitive},
	"около": {Genitive},
	"после": {Genitive},
	"кроме": {Genitive},
}

var defaultCaseOrder = []Case{Nominative, Genitive, Accusative, Instrumental, Dative, Prepositional}

// pickCase resolves an ambiguous form using the preceding preposition.
func pickCase(mask uint8, prev string) Case {
	for _, c := range caseAfter[prev] {
		if mask&(1<<c) != 0 {
			return c
		}
	}
	for _, c := range defaultCaseOrder {
		if mask&(1<<c) != 0 {
			return c
		}
	}
	return Nominative
}
