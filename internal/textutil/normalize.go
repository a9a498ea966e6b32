package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Normalize canonicalizes text for content addressing. It applies NFKC,
// Unicode case folding, replaces punctuation and symbols with spaces, and
// collapses whitespace. Two inputs that differ only in case, width, accents
// written as compatibility forms, punctuation, or spacing normalize equally.
func Normalize(text string) string {
	folded := folder.String(norm.NFKC.String(text))
	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsMark(r):
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
