// Package textclean heals the artifacts PDF text extraction leaves on marking
// labels: hyphenated and slash-broken wraps, decorative whitespace and labels
// glued to their neighbours.
package textclean

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/Lllllllleong/labelflow/internal/patterns"
)

var (
	reSlashBreak  = regexp.MustCompile(`/\s*\n\s*`)
	reHyphenBreak = regexp.MustCompile(`([` + patterns.Letter + `])-\s*\n\s*([` + patterns.Letter + `])`)
	reWordBreak   = regexp.MustCompile(`([` + patterns.Letter + `])[ \t]*\n\s*([` + patterns.Letter + `])`)
	reHSpace      = regexp.MustCompile(`[ \t]+`)
)

// NormalizeDashes folds en and em dashes into ASCII hyphens.
func NormalizeDashes(s string) string {
	return strings.NewReplacer("–", "-", "—", "-").Replace(s)
}

// Heal prepares raw page text for metadata parsing.
func Heal(raw string) string {
	t := norm.NFC.String(raw)
	t = strings.ReplaceAll(t, "\r\n", "\n")
	t = NormalizeDashes(t)
	t = reSlashBreak.ReplaceAllString(t, "/")
	t = replaceOverlapping(reHyphenBreak, t)
	t = replaceOverlapping(reWordBreak, t)
	t = reHSpace.ReplaceAllString(t, " ")
	return Unstick(t)
}

// replaceOverlapping joins the two captured letters until no match remains.
// A single pass misses chains like "a\nb\nc" because matches cannot share
// the middle letter.
func replaceOverlapping(re *regexp.Regexp, s string) string {
	for {
		next := re.ReplaceAllString(s, "$1$2")
		if next == s {
			return s
		}
		s = next
	}
}

// Unstick separates labels from the tokens they are glued to: a line break
// before the label when the previous word runs into it, a space after it when
// the value does. "ABCЦвет:черный" becomes "ABC\nЦвет: черный".
func Unstick(s string) string {
	locs := patterns.Labels.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2*len(locs))
	last := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		gluedBefore := start > 0 && !isSpace(s[start-1])
		gluedAfter := end < len(s) && !isSpace(s[end])
		if !gluedBefore && !gluedAfter {
			continue
		}
		b.WriteString(s[last:start])
		if gluedBefore {
			b.WriteByte('\n')
		}
		b.WriteString(s[start:end])
		if gluedAfter {
			b.WriteByte(' ')
		}
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// Lines splits text into trimmed, non-empty lines.
func Lines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(raw))
	for _, ln := range raw {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}

// StripGS1 blanks out GS1 codes and their header/serial spans. serial is
// the page's extracted serial, if any; it is blanked wherever it occurs, so
// a serial that wrapped away from its header is removed too.
func StripGS1(text, serial string) string {
	t := patterns.GS1OneLine.ReplaceAllString(text, " ")
	t = patterns.GS1Span01.ReplaceAllString(t, " ")
	t = patterns.GS1Span21.ReplaceAllString(t, " ")
	if serial != "" {
		t = strings.ReplaceAll(t, serial, " ")
	}
	return t
}

// CollapseSpaces removes all Unicode whitespace, including no-break spaces,
// for whitespace-insensitive matching.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// CleanColor reduces a raw color candidate to at most three meaningful words.
// It cuts at the first stop marker and drops characters that cannot be part of
// a color. Pure-Latin and mixed-case Latin tokens are OCR debris and go too.
func CleanColor(s string) string {
	s = patterns.ColorStop.ReplaceAllString(s, "")
	s = patterns.ColorNoise.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.Trim(strings.Join(strings.Fields(s), " "), " -")
	if s == "" {
		return ""
	}
	s = patterns.TrailingLatinCaps.ReplaceAllString(s, "$1")

	var kept []string
	for _, tok := range strings.Fields(s) {
		switch {
		case patterns.CyrillicWord.MatchString(tok):
			kept = append(kept, tok)
		case patterns.LatinWord.MatchString(tok):
		case patterns.UpperLatin.MatchString(tok) && patterns.LowerLatin.MatchString(tok):
		default:
			kept = append(kept, tok)
		}
		if len(kept) == 3 {
			break
		}
	}
	return strings.Trim(strings.Join(kept, " "), " -")
}
