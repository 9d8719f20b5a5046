package views

import (
	"strings"
	"unicode/utf8"
)

// sanitizeForTerminal strips codepoints that break cell-width accounting
// in tcell. Message text from the aggregated platforms is full of emoji
// sequences (skin tones, ZWJ families, variation selectors) that terminals
// render as one glyph but tview measures as several, which shears the
// chat-list and thread columns. Dropping the modifiers leaves the base
// emoji, which renders at a stable two cells.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !distortsCellWidth(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

func distortsCellWidth(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tone modifiers
		return true
	case r == 0x200D: // zero width joiner
		return true
	case r >= 0xFE00 && r <= 0xFE0F: // variation selectors
		return true
	case r >= 0xE0100 && r <= 0xE01EF: // variation selectors supplement
		return true
	default:
		return false
	}
}
