package match

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/idea4rc/termserve/internal/utils"
)

// Candidate is a span of the input text considered for matching.
// Start and End are byte offsets into the original text, Span == text[Start:End].
type Candidate struct {
	Span       string
	Start      int
	End        int
	Words      int    // whitespace delimited words in the window
	Normalized string // normalized words joined by a single space
}

// Tokens returns the number of normalized tokens in the candidate.
func (c Candidate) Tokens() int {
	return utils.TokenCount(c.Normalized)
}

type word struct {
	start, end int
	norm       string
}

// ExtractCandidates yields every word of text and every window of up to
// maxWords adjacent words, ordered by start word then window length.
//
// A word is a run of non-whitespace runes with punctuation trimmed from both
// ends, so "tumor," yields "tumor" while "tumor_size" stays whole. Each range
// over the returned sequence rescans text.
func ExtractCandidates(text string, maxWords int) iter.Seq[Candidate] {
	if maxWords < 1 {
		maxWords = 1
	}
	return func(yield func(Candidate) bool) {
		words := splitWords(text)
		var b strings.Builder
		for i := range words {
			b.Reset()
			for n := 1; n <= maxWords && i+n <= len(words); n++ {
				last := words[i+n-1]
				if n > 1 {
					b.WriteByte(' ')
				}
				b.WriteString(last.norm)

				c := Candidate{
					Span:       text[words[i].start:last.end],
					Start:      words[i].start,
					End:        last.end,
					Words:      n,
					Normalized: b.String(),
				}
				if !yield(c) {
					return
				}
			}
		}
	}
}

func splitWords(text string) []word {
	var words []word
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}
		start := i
		for i < len(text) {
			r, size = utf8.DecodeRuneInString(text[i:])
			if unicode.IsSpace(r) {
				break
			}
			i += size
		}

		lo, hi := utils.TrimPunctBounds(text[start:i])
		if lo == hi {
			continue
		}
		norm := utils.NormalizeTerm(text[start+lo : start+hi])
		if norm == "" {
			continue
		}
		words = append(words, word{start: start + lo, end: start + hi, norm: norm})
	}
	return words
}
