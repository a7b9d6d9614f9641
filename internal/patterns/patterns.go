// Package patterns is the shared regular-expression vocabulary used to read
// marking labels: GS1 codes, articles, sizes, colors and the noise around them.
package patterns

import "regexp"

// Letter classes used when healing wrapped text. Latin plus Cyrillic.
const (
	Letter   = `A-Za-zА-Яа-яЁё`
	Cyrillic = `А-Яа-яЁё`
)

// --- GS1 codes ---

var (
	// GS1OneLine matches the compact form: (01)<14 digits>(21)<serial> on one line,
	// brackets optional.
	GS1OneLine = regexp.MustCompile(`\(?\s*01\s*\)?\s*(\d{14})\s*\(?\s*21\s*\)?\s*([!-~]{4,})`)

	// GS1HeadLine matches a header line that carries only 01<14>21, the serial
	// having wrapped onto a later line.
	GS1HeadLine = regexp.MustCompile(`^\s*\(?\s*01\s*\)?\s*(\d{14})\s*\(?\s*21\s*\)?\s*$`)

	// RawIdentifier matches a bare digit line long enough to be a GTIN.
	RawIdentifier = regexp.MustCompile(`^\d{14,}$`)

	// PrintablePrefix captures the leading run of printable non-space ASCII.
	PrintablePrefix = regexp.MustCompile(`^\s*([!-~]{4,})`)

	// GS1Span01 and GS1Span21 are the header and serial spans left over once
	// whole codes are removed. Stripping them before size matching keeps
	// serial digits from being read as a size. The header span takes a
	// trailing 21 on the same line with it.
	GS1Span01 = regexp.MustCompile(`(?:\(\s*01\s*\)[ \t]*\d{14}|\b01\d{14})(?:[ \t]*\(?[ \t]*21[ \t]*\)?)?`)
	GS1Span21 = regexp.MustCompile(`\(\s*21\s*\)\s*[!-~]{4,}`)

	// CanonicalCode is the normalized code form stored in the registry.
	CanonicalCode = regexp.MustCompile(`^01\d{14}21[!-~]+$`)
)

// --- Labels ---

var (
	// ArticleLabeled captures everything after an article label up to the end of line.
	ArticleLabeled = regexp.MustCompile(`(?im)(?:Артикул|Article)\s*[:\-]?[ \t]*(\S.*)$`)
	// ArticleLabelOnly matches a label standing alone on its line.
	ArticleLabelOnly = regexp.MustCompile(`(?i)^\s*(?:Артикул|Article)\s*[:\-]?\s*$`)
	// ArticleAbbrev matches "арт. PREFIX/suffix".
	ArticleAbbrev = regexp.MustCompile(`(?i)арт\.\s*([A-Z0-9_]+/\S+)`)
	// ArticleSlash matches the generic PREFIX/suffix article token.
	ArticleSlash = regexp.MustCompile(`(?i)\b([A-Z0-9_]+/[A-Za-zА-Яа-яЁё0-9_\-]+)`)

	// ArticleStop marks where a labeled article value ends.
	ArticleStop = regexp.MustCompile(`(?i)\s*(?:Цвет|Color|Размер\s*:|Size\s*:)`)
	// ColorToken is any embedded color label, glued or not.
	ColorToken = regexp.MustCompile(`(?i)Цвет|Color`)

	ColorLabeled = regexp.MustCompile(`(?i)(?:Цвет|Color)\s*:\s*([^\r\n]+)`)
	// GarmentColor matches "<garment> <color> р." phrasing.
	GarmentColor = regexp.MustCompile(`(?is)(?:Балаклава|Шапка|Снуд|Шарф|Повязка|Бандана)\s+(.+?)\s+р\.`)
	// DashColorLine matches a standalone "- <cyrillic words>" line.
	DashColorLine = regexp.MustCompile(`(?m)^\s*-\s*([` + Cyrillic + `][` + Cyrillic + `\- ]*?)\s*$`)

	SizeLabeled = regexp.MustCompile(`(?i)(?:Размер|Size)\s*:\s*([^\r\n]+)`)

	// Labels are the tokens the normalizer un-sticks from neighbouring words.
	Labels = regexp.MustCompile(`(?i)Артикул|Article|(?:Цвет|Color|Размер|Size)\s*:`)
)

// --- Sizes ---

const alphaSize = `(?:XXXL|XXL|XL|XS|S|M|L|(?:1[0-9]|[2-9])(?:XXXL|XXL|XL|XS))`

var (
	// SizeAlpha matches letter sizes, optionally multiplied and optionally paired.
	SizeAlpha = regexp.MustCompile(`(?i)\b(` + alphaSize + `(?:[/\-]` + alphaSize + `)?)\b`)
	// SizeNumeric matches NN, NN-NN and NN/NN.
	SizeNumeric = regexp.MustCompile(`\b\d{2}(?:[/\-]\d{2})?\b`)
)

// SizeWords lists word sizes in priority order. Matching is case-insensitive.
var SizeWords = []string{
	"ONE SIZE", "ONESIZE", "UNISIZE", "UNIVERSAL", "UNI",
	"ЕДИНЫЙ РАЗМЕР", "УНИВЕРСАЛЬНЫЙ", "ПОДРОСТКОВЫЙ", "ДЕТСКИЙ",
}

// --- Color cleanup ---

var (
	// ColorStop marks where a color value ends: a size label, a GS1 span or a
	// bare number. The end of line is handled by the label patterns themselves.
	ColorStop = regexp.MustCompile(`(?is)(?:Размер|Size\s*:|\(\s*01\s*\)|\(\s*21\s*\)|\b\d{2,}\b).*$`)
	// ColorNoise removes anything that is not a letter, digit, underscore, dash or space.
	ColorNoise = regexp.MustCompile(`[^\p{L}\p{N}_\- ]`)
	// TrailingLatinCaps drops an upper-case Latin tail glued after Cyrillic.
	TrailingLatinCaps = regexp.MustCompile(`([` + Cyrillic + `])\s*[A-Z]+$`)

	CyrillicWord = regexp.MustCompile(`^[` + Cyrillic + `\-]+$`)
	LatinWord    = regexp.MustCompile(`^[A-Za-z]+$`)
	UpperLatin   = regexp.MustCompile(`[A-Z]`)
	LowerLatin   = regexp.MustCompile(`[a-z]`)
)

// --- Working files ---

// WorkingName matches file names reserved for staging: cut heads, rewritten
// tails and anything marked tmp.
var WorkingName = regexp.MustCompile(`(?i)__head_|__tail_|tmp`)
