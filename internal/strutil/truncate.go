// Package strutil provides small string helpers for render paths.
package strutil

import "strings"

// Truncate clips s to at most maxLen runes, appending "..." when anything was
// cut. Truncation is rune-level so multi-byte characters are never split.
// Returns the empty string when maxLen <= 0.
func Truncate(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// FirstLine returns s up to but not including the first newline.
func FirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
