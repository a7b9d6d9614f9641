package extract

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Lllllllleong/labelflow/internal/patterns"
	"github.com/Lllllllleong/labelflow/internal/textclean"
)

// Metadata is the product variant printed on a label. Empty fields were not
// recognized.
type Metadata struct {
	Article string `json:"article"`
	Size    string `json:"size"`
	Color   string `json:"color"`
}

// Complete reports whether all three fields resolved.
func (m Metadata) Complete() bool {
	return m.Article != "" && m.Size != "" && m.Color != ""
}

// Key is the grouping key of a page.
func (m Metadata) Key() [3]string {
	return [3]string{m.Article, m.Size, m.Color}
}

// Page holds the inputs of metadata extraction: the raw page text and, when
// known, the name of the file the page came from.
type Page struct {
	Text     string
	Filename string
}

// FieldRule is one tier of a metadata field. Rules receive the healed page
// text and the fields resolved so far.
type FieldRule struct {
	Name  string
	Match func(text string, p Page, partial Metadata) (string, bool)
}

// ArticleRules is the ordered article strategy.
var ArticleRules = []FieldRule{
	{Name: "labeled", Match: articleLabeled},
	{Name: "abbreviated", Match: regexField(patterns.ArticleAbbrev)},
	{Name: "slash-token", Match: regexField(patterns.ArticleSlash)},
	{Name: "label-own-line", Match: articleOwnLine},
}

// SizeRules is the ordered size strategy. GS1 spans are stripped before any
// rule runs.
var SizeRules = []FieldRule{
	{Name: "labeled", Match: sizeLabeled},
	{Name: "alpha", Match: sizeAlpha},
	{Name: "numeric", Match: sizeNumeric},
	{Name: "word", Match: sizeWord},
}

// ColorRules is the ordered color strategy. Every candidate is cleaned with
// textclean.CleanColor and an empty result lets the next rule try.
var ColorRules = []FieldRule{
	{Name: "labeled", Match: regexField(patterns.ColorLabeled)},
	{Name: "garment-phrase", Match: regexField(patterns.GarmentColor)},
	{Name: "dash-line", Match: regexField(patterns.DashColorLine)},
	{Name: "filename", Match: colorFromFilename},
	{Name: "article-suffix", Match: colorFromArticle},
}

// Meta extracts the article, size and color of one page.
func Meta(p Page) Metadata {
	text := textclean.Heal(p.Text)
	var m Metadata
	m.Article = firstMatch(ArticleRules, text, p, m, cleanArticle)
	m.Size = firstMatch(SizeRules, textclean.StripGS1(text, serialOf(p.Text)), p, m, cleanSize)
	m.Color = firstMatch(ColorRules, text, p, m, textclean.CleanColor)
	return m
}

// serialOf returns the serial part of the page's code, or the whole code when
// it is not in GS1 form.
func serialOf(raw string) string {
	code, ok := Code(raw)
	if !ok {
		return ""
	}
	if patterns.CanonicalCode.MatchString(code) {
		return code[len("01")+14+len("21"):]
	}
	return code
}

func firstMatch(rules []FieldRule, text string, p Page, partial Metadata, clean func(string) string) string {
	for _, rule := range rules {
		v, ok := rule.Match(text, p, partial)
		if !ok {
			continue
		}
		if v = clean(v); v != "" {
			return v
		}
	}
	return ""
}

func regexField(re *regexp.Regexp) func(string, Page, Metadata) (string, bool) {
	return func(text string, _ Page, _ Metadata) (string, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return "", false
		}
		return m[1], true
	}
}

// --- article ---

func articleLabeled(text string, _ Page, _ Metadata) (string, bool) {
	m := patterns.ArticleLabeled.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	v := m[1]
	if loc := patterns.ArticleStop.FindStringIndex(v); loc != nil {
		v = v[:loc[0]]
	}
	return v, true
}

func articleOwnLine(text string, _ Page, _ Metadata) (string, bool) {
	lines := textclean.Lines(text)
	for i, ln := range lines {
		if patterns.ArticleLabelOnly.MatchString(ln) && i+1 < len(lines) {
			return lines[i+1], true
		}
	}
	return "", false
}

// cleanArticle drops everything after an embedded color label, trailing
// punctuation, and a value repeated back to back by the text layer.
func cleanArticle(s string) string {
	if loc := patterns.ColorToken.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ":;,.- ")
	return collapseRepeats(strings.TrimSpace(s))
}

// collapseRepeats reduces "ABCABC" and "ABCABCABC" to "ABC".
func collapseRepeats(s string) string {
	r := []rune(s)
	n := len(r)
	for p := 1; p <= n/2; p++ {
		if n%p != 0 {
			continue
		}
		unit := string(r[:p])
		if strings.Repeat(unit, n/p) == s {
			return unit
		}
	}
	return s
}

// --- size ---

func sizeLabeled(text string, _ Page, _ Metadata) (string, bool) {
	m := patterns.SizeLabeled.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	v := m[1]
	if loc := patterns.Labels.FindStringIndex(v); loc != nil {
		v = v[:loc[0]]
	}
	v = normalizeSize(v)
	if fields := strings.Fields(v); len(fields) > 0 {
		return fields[0], true
	}
	return "", false
}

func sizeAlpha(text string, _ Page, _ Metadata) (string, bool) {
	m := patterns.SizeAlpha.FindString(text)
	if m == "" {
		return "", false
	}
	return strings.ToUpper(m), true
}

func sizeNumeric(text string, _ Page, _ Metadata) (string, bool) {
	m := patterns.SizeNumeric.FindString(text)
	return m, m != ""
}

// sizeWord returns the whitelisted word size that appears earliest in the text.
func sizeWord(text string, _ Page, _ Metadata) (string, bool) {
	upper := strings.ToUpper(text)
	best, bestAt := "", -1
	for _, w := range patterns.SizeWords {
		at := indexWord(upper, w)
		if at >= 0 && (bestAt < 0 || at < bestAt) {
			best, bestAt = w, at
		}
	}
	return best, bestAt >= 0
}

// indexWord finds w in s where it is not part of a longer word.
func indexWord(s, w string) int {
	from := 0
	for {
		i := strings.Index(s[from:], w)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(w)
		if !isWordByteBefore(s, i) && !isWordByteAt(s, end) {
			return i
		}
		from = i + 1
	}
}

func isWordByteBefore(s string, i int) bool {
	if i == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return isWordRune(r)
}

func isWordByteAt(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// cleanSize folds dashes and removes spacing around pair separators.
func cleanSize(s string) string {
	return strings.TrimSpace(normalizeSize(s))
}

var reSizeSep = regexp.MustCompile(`\s*([/\-])\s*`)

func normalizeSize(s string) string {
	s = textclean.NormalizeDashes(strings.TrimSpace(s))
	s = reSizeSep.ReplaceAllString(s, "$1")
	return strings.Join(strings.Fields(s), " ")
}

// --- color ---

// colorFromFilename reads the color slot of the splitter naming convention
// ARTICLE__SIZE__COLOR__...
func colorFromFilename(_ string, p Page, _ Metadata) (string, bool) {
	if p.Filename == "" {
		return "", false
	}
	base := strings.TrimSuffix(filepath.Base(p.Filename), filepath.Ext(p.Filename))
	parts := strings.Split(base, "__")
	if len(parts) < 3 {
		return "", false
	}
	return strings.ReplaceAll(parts[2], "_", " "), true
}

func colorFromArticle(_ string, _ Page, partial Metadata) (string, bool) {
	_, suffix, ok := strings.Cut(partial.Article, "/")
	if !ok {
		return "", false
	}
	return suffix, true
}
