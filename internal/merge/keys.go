package merge

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// TitleKey is the cross-source comparison key for an exhibition title:
// NFKC, case folded, parentheticals removed, whitespace collapsed.
func TitleKey(title string) string {
	return collapse(stripParens(fold(title), false))
}

// VenueKey is the comparison key for a canonical venue name. Branch
// qualifiers are kept as plain words so branches of one brand never share
// a key.
func VenueKey(venue string) string {
	return collapse(stripParens(fold(venue), true))
}

func fold(s string) string {
	return folder.String(norm.NFKC.String(s))
}

// stripParens removes (...) and [...] groups. With keepContent the brackets
// become spaces and the text inside survives.
func stripParens(s string, keepContent bool) string {
	var b strings.Builder
	b.Grow(len(s))
	depth := 0
	for _, r := range s {
		switch r {
		case '(', '[':
			depth++
			b.WriteByte(' ')
			continue
		case ')', ']':
			if depth > 0 {
				depth--
			}
			b.WriteByte(' ')
			continue
		}
		if depth == 0 || keepContent {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func identity(titleKey, venueKey string) string {
	return titleKey + "\x00" + venueKey
}
