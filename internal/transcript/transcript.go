// Package transcript normalizes recognized speech for submission and display.
package transcript

import "strings"

// Clean collapses all whitespace runs in text to single spaces and trims the ends.
func Clean(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Join concatenates finalized fragments in order. Whitespace-only fragments are dropped.
func Join(fragments []string) string {
	if len(fragments) == 0 {
		return ""
	}
	return Clean(strings.Join(fragments, " "))
}

// Preview cleans text and shortens it to at most max runes, ending in ellipsis when cut.
// The ellipsis counts toward max. A non-positive max disables shortening.
func Preview(text string, max int, ellipsis string) string {
	text = Clean(text)
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	keep := max - len([]rune(ellipsis))
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + ellipsis
}
