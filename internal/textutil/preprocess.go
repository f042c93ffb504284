package textutil

import (
	"strings"
	"unicode"
)

// Preprocess trims text and collapses every run of whitespace (including
// newlines) into a single space. Embedders call it before deciding whether a
// text is worth embedding at all.
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	b.Grow(len(text))
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
			continue
		}
		b.WriteRune(r)
		wasSpace = false
	}
	return b.String()
}
