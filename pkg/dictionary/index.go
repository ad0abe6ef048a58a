package dictionary

import (
	"iter"
	"slices"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/idea4rc/termserve/internal/utils"
	"github.com/tchap/go-patricia/v2/patricia"
)

// TermEntry is one normalized term of the index and every code that shares it.
// Codes is sorted and must be treated as read-only.
type TermEntry struct {
	Term   string
	Codes  []Code
	Runes  int
	Tokens int
}

// TermIndex is the inverted normalized-term -> codes structure.
// It is built once by the dictionary constructor and never written afterwards,
// so concurrent readers need no locking.
type TermIndex struct {
	trie      *patricia.Trie
	buckets   map[int][]TermEntry // token count -> entries sorted by (Runes, Term)
	maxTokens int
	size      int
}

func buildIndex(codes []Code, terms map[Code]string) *TermIndex {
	ix := &TermIndex{
		trie:    patricia.NewTrie(),
		buckets: make(map[int][]TermEntry),
	}

	byTerm := make(map[string]*TermEntry, len(codes))
	order := make([]string, 0, len(codes))
	for _, code := range codes {
		norm := utils.NormalizeTerm(terms[code])
		if norm == "" {
			log.Warnf("Term for code %q normalizes to nothing, not indexed", string(code))
			continue
		}
		entry, ok := byTerm[norm]
		if !ok {
			entry = &TermEntry{
				Term:   norm,
				Runes:  len([]rune(norm)),
				Tokens: utils.TokenCount(norm),
			}
			byTerm[norm] = entry
			order = append(order, norm)
		}
		// codes arrive sorted, so entry.Codes stays sorted
		entry.Codes = append(entry.Codes, code)
	}

	for _, norm := range order {
		entry := byTerm[norm]
		entry.Codes = slices.Clip(entry.Codes)
		ix.trie.Insert(patricia.Prefix(norm), *entry)
		ix.buckets[entry.Tokens] = append(ix.buckets[entry.Tokens], *entry)
		if entry.Tokens > ix.maxTokens {
			ix.maxTokens = entry.Tokens
		}
	}
	for tokens, bucket := range ix.buckets {
		sort.Slice(bucket, func(i, j int) bool {
			if bucket[i].Runes != bucket[j].Runes {
				return bucket[i].Runes < bucket[j].Runes
			}
			return bucket[i].Term < bucket[j].Term
		})
		ix.buckets[tokens] = bucket
	}
	ix.size = len(order)

	log.Debugf("Term index built: %d terms, longest term %d tokens", ix.size, ix.maxTokens)
	return ix
}

// Len returns the number of distinct normalized terms.
func (ix *TermIndex) Len() int {
	return ix.size
}

// MaxTokens returns the token count of the longest indexed term.
func (ix *TermIndex) MaxTokens() int {
	return ix.maxTokens
}

// Lookup returns the codes whose term normalizes to the same text as term.
func (ix *TermIndex) Lookup(term string) []Code {
	norm := utils.NormalizeTerm(term)
	if norm == "" {
		return nil
	}
	item := ix.trie.Get(patricia.Prefix(norm))
	if item == nil {
		return nil
	}
	return slices.Clone(item.(TermEntry).Codes)
}

// Within yields the entries with the given token count whose rune length lies
// in [minRunes, maxRunes], shortest first and then in lexicographic order.
func (ix *TermIndex) Within(tokens, minRunes, maxRunes int) iter.Seq[TermEntry] {
	return func(yield func(TermEntry) bool) {
		bucket := ix.buckets[tokens]
		start := sort.Search(len(bucket), func(i int) bool {
			return bucket[i].Runes >= minRunes
		})
		for _, entry := range bucket[start:] {
			if entry.Runes > maxRunes {
				return
			}
			if !yield(entry) {
				return
			}
		}
	}
}

// WithPrefix returns up to limit entries whose normalized term starts with the
// normalized prefix, shortest first. limit <= 0 means no limit.
func (ix *TermIndex) WithPrefix(prefix string, limit int) []TermEntry {
	norm := utils.NormalizeTerm(prefix)
	if norm == "" {
		return nil
	}
	// keep a trailing separator so "breast " only completes multi-word terms
	if strings.HasSuffix(prefix, " ") {
		norm += " "
	}

	var entries []TermEntry
	err := ix.trie.VisitSubtree(patricia.Prefix(norm), func(_ patricia.Prefix, item patricia.Item) error {
		entries = append(entries, item.(TermEntry))
		return nil
	})
	if err != nil {
		log.Errorf("Error visiting term subtree: %v", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Runes != entries[j].Runes {
			return entries[i].Runes < entries[j].Runes
		}
		return entries[i].Term < entries[j].Term
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
