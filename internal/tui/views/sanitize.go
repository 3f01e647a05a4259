package views

import (
	"strings"
	"unicode/utf8"
)

// sanitize strips codepoints that break cell-width accounting in tcell:
// zero width joiners, variation selectors and skin tone modifiers. Message
// bodies come from other users' phones and browsers, so anything goes.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !breaksRendering(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

func breaksRendering(r rune) bool {
	switch {
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	}
	return false
}
