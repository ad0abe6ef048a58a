package match

import (
	"math"
	"sort"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"github.com/idea4rc/termserve/internal/utils"
)

const (
	MinScore = 0
	MaxScore = 100
)

// Score returns the similarity of a and b in [0,100] after normalization:
// the Levenshtein distance over runes turned into a ratio of the longer string,
// rounded half up. 100 is an exact normalized match.
// Score(a, b) == Score(b, a) for every pair.
func Score(a, b string) int {
	return scoreNormalized(utils.NormalizeTerm(a), utils.NormalizeTerm(b))
}

func scoreNormalized(a, b string) int {
	if a == b {
		return MaxScore
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return MinScore
	}
	return ratio(matchr.Levenshtein(a, b), max(la, lb))
}

// ratio maps an edit distance over a length to [0,100].
func ratio(distance, length int) int {
	if length == 0 {
		return MaxScore
	}
	if distance >= length {
		return MinScore
	}
	return (MaxScore*(length-distance) + length/2) / length
}

// lengthBound is the best score two strings of these rune lengths can reach:
// the distance is never below the length difference.
func lengthBound(la, lb int) int {
	return ratio(abs(la-lb), max(la, lb))
}

// runeWindow returns the term rune lengths that can still reach threshold
// against a candidate of la runes. The bound grows with lb up to la and
// shrinks past it, so both edges are found by binary search.
func runeWindow(la, threshold int) (lo, hi int) {
	if threshold <= MinScore {
		return 0, math.MaxInt
	}
	lo = sort.Search(la+1, func(lb int) bool {
		return lengthBound(la, lb) >= threshold
	})
	// past 200*la runes the bound is 0 for any length
	k := sort.Search(200*la+2-la, func(i int) bool {
		return lengthBound(la, la+i) < threshold
	})
	return lo, la + k - 1
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
