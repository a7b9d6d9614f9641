package inventory

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Lllllllleong/labelflow/internal/textclean"
)

// MatchArticle reports whether article occurs in text, ignoring all
// whitespace on both sides. Case matters.
func MatchArticle(text, article string) bool {
	a := textclean.CollapseSpaces(textclean.NormalizeDashes(article))
	if a == "" {
		return false
	}
	return strings.Contains(textclean.CollapseSpaces(textclean.NormalizeDashes(text)), a)
}

// MatchSize reports whether size occurs in text as a whole token. Tokens are
// runs of letters, digits, '-' and '/', so "L" matches neither "5L", "XL" nor
// "L/XL". Case and dash variants are ignored.
func MatchSize(text, size string) bool {
	s := strings.ToUpper(strings.TrimSpace(textclean.NormalizeDashes(size)))
	if s == "" {
		return false
	}
	t := strings.ToUpper(textclean.NormalizeDashes(text))
	for from := 0; from <= len(t)-len(s); {
		i := strings.Index(t[from:], s)
		if i < 0 {
			return false
		}
		i += from
		if !tokenRuneBefore(t, i) && !tokenRuneAt(t, i+len(s)) {
			return true
		}
		_, w := utf8.DecodeRuneInString(t[i:])
		from = i + w
	}
	return false
}

func isTokenRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '/'
}

func tokenRuneBefore(s string, i int) bool {
	if i == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return isTokenRune(r)
}

func tokenRuneAt(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return isTokenRune(r)
}
