// Package strutil holds string helpers for values bound for size limited columns.
package strutil

import (
	"strings"
	"unicode/utf8"
)

// Truncate returns s cut to at most maxRunes characters. Invalid UTF-8
// sequences are replaced with U+FFFD first, so the result is always valid
// UTF-8 and never ends inside a multi-byte character.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	s = strings.ToValidUTF8(s, string(utf8.RuneError))
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}
