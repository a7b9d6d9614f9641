// Package extract recovers identity from the raw text of one label page: the
// serial code that makes a unit unique, and the article/size/color triple
// used to group pages. Every extractor is an ordered list of rules evaluated
// until the first one matches, and every rule is a pure function of its input.
package extract

import (
	"strings"

	"github.com/Lllllllleong/labelflow/internal/patterns"
	"github.com/Lllllllleong/labelflow/internal/textclean"
)

// CodeLookahead is how many lines after a bare GS1 header are searched for
// the wrapped serial.
const CodeLookahead = 5

// CodeRule is one tier of code extraction.
type CodeRule struct {
	Name  string
	Match func(lines []string) (string, bool)
}

// CodeRules is the tiered code strategy, first match wins.
var CodeRules = []CodeRule{
	{Name: "gs1-one-line", Match: matchOneLine},
	{Name: "gs1-wrapped-serial", Match: matchWrappedSerial},
	{Name: "raw-identifier", Match: matchAfterRawIdentifier},
}

// Code extracts the unit code from a page's raw text. The boolean is false
// when no rule recognizes a code.
func Code(raw string) (string, bool) {
	lines := textclean.Lines(raw)
	if len(lines) == 0 {
		return "", false
	}
	for _, rule := range CodeRules {
		if code, ok := rule.Match(lines); ok {
			return code, true
		}
	}
	return "", false
}

// Canonical renders a GS1 header and serial as 01<gtin>21<serial>.
func Canonical(gtin, serial string) string {
	return "01" + gtin + "21" + textclean.CollapseSpaces(serial)
}

// NormalizeCode strips brackets, whitespace and zero-width characters from a
// code typed or pasted by a person, producing the canonical form.
func NormalizeCode(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '(', ')', '\u200b', '\u200c', '\u200d', '\ufeff':
			return -1
		}
		return r
	}, s)
	return textclean.CollapseSpaces(s)
}

func matchOneLine(lines []string) (string, bool) {
	for _, ln := range lines {
		if m := patterns.GS1OneLine.FindStringSubmatch(ln); m != nil {
			return Canonical(m[1], m[2]), true
		}
	}
	return "", false
}

func matchWrappedSerial(lines []string) (string, bool) {
	for i, ln := range lines {
		m := patterns.GS1HeadLine.FindStringSubmatch(ln)
		if m == nil {
			continue
		}
		for j := i + 1; j < len(lines) && j <= i+CodeLookahead; j++ {
			if s := patterns.PrintablePrefix.FindStringSubmatch(lines[j]); s != nil {
				return Canonical(m[1], s[1]), true
			}
		}
	}
	return "", false
}

func matchAfterRawIdentifier(lines []string) (string, bool) {
	for i, ln := range lines {
		if !patterns.RawIdentifier.MatchString(ln) {
			continue
		}
		for _, next := range lines[i+1:] {
			if s := patterns.PrintablePrefix.FindStringSubmatch(next); s != nil {
				return s[1], true
			}
		}
		return "", false
	}
	return "", false
}
