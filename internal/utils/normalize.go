package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldChain strips accents and case folds a string.
// Transformers keep internal state, so a fresh chain is built per call.
func foldChain() transform.Transformer {
	return transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
		cases.Fold(),
	)
}

// Fold returns s without diacritics and with full Unicode case folding applied.
// "Tumeur Bénigne" -> "tumeur benigne".
func Fold(s string) string {
	folded, _, err := transform.String(foldChain(), s)
	if err != nil {
		return strings.ToLower(s)
	}
	return folded
}

// NormalizeTerm folds s and rewrites it into space separated tokens.
// Word separators used in identifiers (`_`, `-`, `/`) split tokens,
// punctuation at token edges is trimmed and empty tokens are dropped,
// so "  Non-Hodgkin's  (Lymphoma) " becomes "non hodgkin's lymphoma".
func NormalizeTerm(s string) string {
	tokens := Tokens(s)
	if len(tokens) == 0 {
		return ""
	}
	return strings.Join(tokens, " ")
}

// Tokens returns the normalized tokens of s, see NormalizeTerm.
func Tokens(s string) []string {
	if s == "" {
		return nil
	}
	folded := Fold(s)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return unicode.IsSpace(r) || IsWordSeparator(r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		f = TrimPunct(f)
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// TokenCount returns the number of tokens in an already normalized string.
func TokenCount(normalized string) int {
	if normalized == "" {
		return 0
	}
	return strings.Count(normalized, " ") + 1
}
