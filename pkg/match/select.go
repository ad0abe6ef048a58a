package match

import (
	"context"
	"iter"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/idea4rc/termserve/internal/utils"
	"github.com/idea4rc/termserve/pkg/dictionary"
)

// ScoredMatch is a candidate together with the dictionary term it matched.
type ScoredMatch struct {
	Candidate
	Code  dictionary.Code
	Term  string // normalized dictionary term
	Score int
}

// Result maps matched span text to its code. It never holds the empty key.
type Result map[string]dictionary.Code

// NewResult flattens resolved matches into a Result. When the same span text
// occurs more than once the first occurrence wins.
func NewResult(matches []ScoredMatch) Result {
	result := make(Result, len(matches))
	for _, m := range matches {
		if m.Span == "" {
			continue
		}
		if _, seen := result[m.Span]; seen {
			continue
		}
		result[m.Span] = m.Code
	}
	return result
}

// Best finds the highest scoring term for c at or above threshold.
//
// Only terms with the same token count as the candidate compete, and the length
// window skips terms that cannot reach threshold. Ties go to the shorter term,
// then the lexicographically smaller term, then the smallest code.
func Best(c Candidate, ix *dictionary.TermIndex, threshold int) (ScoredMatch, bool) {
	la := utf8.RuneCountInString(c.Normalized)
	if la == 0 {
		return ScoredMatch{}, false
	}

	var best ScoredMatch
	found := false
	lo, hi := runeWindow(la, threshold)
	// Within yields shortest first then lexicographic, so a strict
	// comparison keeps the tie-break order.
	for entry := range ix.Within(c.Tokens(), lo, hi) {
		s := scoreNormalized(c.Normalized, entry.Term)
		if s < threshold || (found && s <= best.Score) {
			continue
		}
		best = ScoredMatch{
			Candidate: c,
			Code:      entry.Codes[0],
			Term:      entry.Term,
			Score:     s,
		}
		found = true
		if s == MaxScore {
			break
		}
	}
	return best, found
}

// Select scores every candidate, keeps the best term of those reaching
// threshold and resolves overlapping spans. The returned matches do not
// overlap and are ordered by start offset.
//
// The context is checked between candidates so a superseded request stops early.
func Select(ctx context.Context, candidates iter.Seq[Candidate], ix *dictionary.TermIndex, threshold int) ([]ScoredMatch, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}

	var scored []ScoredMatch
	for c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if m, ok := Best(c, ix, threshold); ok {
			scored = append(scored, m)
		}
	}
	return resolveOverlaps(scored), nil
}

// resolveOverlaps keeps a set of non overlapping matches.
//
// Matches are taken by score, then by window length so a phrase beats the
// words it contains, then by position. A higher threshold only drops matches
// from the tail of this order, so it never yields more matches.
//
// A phrase only beats the words inside it when it scores at least as high:
// with "breast" and "breast cancer" indexed, "breast cancr" resolves to the
// exact "breast" rather than the fuzzy phrase.
func resolveOverlaps(scored []ScoredMatch) []ScoredMatch {
	if len(scored) < 2 {
		return scored
	}
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Words != b.Words {
			return a.Words > b.Words
		}
		return a.Start < b.Start
	})

	accepted := scored[:0:0]
	for _, m := range scored {
		if overlapsAny(m, accepted) {
			continue
		}
		accepted = append(accepted, m)
	}

	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].Start < accepted[j].Start
	})
	return accepted
}

func overlapsAny(m ScoredMatch, accepted []ScoredMatch) bool {
	for _, a := range accepted {
		if m.Start < a.End && a.Start < m.End {
			return true
		}
	}
	return false
}

// widenSpans grows each span over the punctuation its matched term starts or
// ends with, so "C++" is reported as "C++" and not "C". termOf returns the
// dictionary text of a code. matches must be disjoint and ordered by start,
// widening never makes them overlap.
func widenSpans(text string, matches []ScoredMatch, termOf func(dictionary.Code) (string, bool)) {
	for i := range matches {
		m := &matches[i]
		term, ok := termOf(m.Code)
		if !ok {
			continue
		}
		term = strings.TrimSpace(term)
		lo, hi := utils.TrimPunctBounds(term)
		if lo == hi || (lo == 0 && hi == len(term)) {
			continue
		}

		prevEnd := 0
		if i > 0 {
			prevEnd = matches[i-1].End
		}
		nextStart := len(text)
		if i+1 < len(matches) {
			nextStart = matches[i+1].Start
		}

		if lead := term[:lo]; lead != "" {
			m.Start -= edgeBefore(text[prevEnd:m.Start], lead)
		}
		if trail := term[hi:]; trail != "" {
			m.End += edgeAfter(text[m.End:nextStart], trail)
		}
		m.Span = text[m.Start:m.End]
	}
}

// edgeAfter returns the byte length of the prefix of s that folds to edge, or 0.
func edgeAfter(s, edge string) int {
	want := utf8.RuneCountInString(edge)
	n, runes := 0, 0
	for runes < want && n < len(s) {
		r, size := utf8.DecodeRuneInString(s[n:])
		if unicode.IsSpace(r) {
			return 0
		}
		n += size
		runes++
	}
	if runes < want || utils.Fold(s[:n]) != utils.Fold(edge) {
		return 0
	}
	return n
}

// edgeBefore returns the byte length of the suffix of s that folds to edge, or 0.
func edgeBefore(s, edge string) int {
	want := utf8.RuneCountInString(edge)
	n, runes := 0, 0
	for runes < want && n < len(s) {
		r, size := utf8.DecodeLastRuneInString(s[:len(s)-n])
		if unicode.IsSpace(r) {
			return 0
		}
		n += size
		runes++
	}
	if runes < want || utils.Fold(s[len(s)-n:]) != utils.Fold(edge) {
		return 0
	}
	return n
}
