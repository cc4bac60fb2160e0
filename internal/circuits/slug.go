package circuits

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slugify derives a tracking event name: lowercase ASCII letters and digits,
// diacritics stripped, every other run of characters collapsed to a single underscore.
func Slugify(value string) string {
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripper, value)
	if err != nil {
		stripped = value
	}

	var builder strings.Builder
	pendingSeparator := false
	for _, r := range strings.ToLower(stripped) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSeparator && builder.Len() > 0 {
				builder.WriteByte('_')
			}
			pendingSeparator = false
			builder.WriteRune(r)
			continue
		}
		pendingSeparator = true
	}
	return builder.String()
}
