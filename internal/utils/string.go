package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// IsWordSeparator reports runes that join words inside identifiers
// such as variable names (tumor_size, non-hodgkin, left/right).
func IsWordSeparator(r rune) bool {
	return r == '_' || r == '-' || r == '/'
}

// IsEdgePunct reports runes trimmed from the edges of a word.
func IsEdgePunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// TrimPunct removes leading and trailing punctuation and symbols.
func TrimPunct(s string) string {
	return strings.TrimFunc(s, IsEdgePunct)
}

// TrimPunctBounds returns the byte bounds of s once edge punctuation is trimmed.
// start == end when nothing is left.
func TrimPunctBounds(s string) (start, end int) {
	end = len(s)
	for start < end {
		r, size := utf8.DecodeRuneInString(s[start:])
		if !IsEdgePunct(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(s[start:end])
		if !IsEdgePunct(r) {
			break
		}
		end -= size
	}
	return start, end
}
