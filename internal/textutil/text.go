package textutil

import (
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
	"golang.org/x/net/html"
)

const variationSelector16 = "\uFE0F"

// Emojis returns the emoji grapheme clusters in text, in order of appearance.
// Variation selectors are stripped so "❤️" and "❤" compare equal.
func Emojis(text string) []string {
	var found []string
	gr := uniseg.NewGraphemes(text)
	for gr.Next() {
		runes := gr.Runes()
		if len(runes) == 0 || !isPictographic(runes[0]) {
			continue
		}
		found = append(found, NormalizeEmoji(gr.Str()))
	}
	return found
}

// NormalizeEmoji removes presentation selectors from an emoji sequence.
func NormalizeEmoji(e string) string {
	return strings.ReplaceAll(e, variationSelector16, "")
}

// Words lowercases text and splits it on whitespace.
func Words(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Unescape decodes HTML entities the X API leaves in post text (&amp;, &lt;, ...).
func Unescape(text string) string {
	if !strings.Contains(text, "&") {
		return text
	}
	return html.UnescapeString(text)
}

// RuneLen counts user-visible characters.
func RuneLen(text string) int {
	return uniseg.GraphemeClusterCount(text)
}

func isPictographic(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // Mahjong through Symbols and Pictographs Extended-A
		return true
	case r >= 0x2600 && r <= 0x27BF: // Misc symbols, dingbats
		return true
	case r >= 0x2B05 && r <= 0x2B55: // Arrows, stars, circles
		return true
	case r == 0x203C || r == 0x2049 || r == 0x2122 || r == 0x2139:
		return true
	case r >= 0x2190 && r <= 0x21FF, r >= 0x2300 && r <= 0x23FF:
		return unicode.Is(unicode.So, r)
	}
	return false
}
