// Package match finds dictionary terms inside free text.
//
// Text is cut into word windows, every window is scored against the normalized
// dictionary terms with the same token count, and the best non overlapping
// windows reaching the threshold are returned as a span -> code map.
package match

import (
	"context"
	"fmt"
	"runtime"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/idea4rc/termserve/pkg/dictionary"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultThreshold      = 60
	DefaultMaxPhraseWords = 6
	DefaultMaxTextLength  = 20000
)

// Suggestion is a dictionary term offered for a typed prefix.
type Suggestion struct {
	Term  string
	Codes []dictionary.Code
}

// Engine matches text against one immutable dictionary.
// It holds no per-call state and is safe for concurrent use.
type Engine struct {
	dict             *dictionary.Dictionary
	defaultThreshold int
	maxPhraseWords   int
	maxTextLength    int
}

// Ensure Engine implements Matcher.
var _ Matcher = (*Engine)(nil)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithDefaultThreshold sets the threshold transports use when a request omits one.
func WithDefaultThreshold(threshold int) EngineOption {
	return func(e *Engine) {
		e.defaultThreshold = threshold
	}
}

// WithMaxPhraseWords bounds the number of words in a candidate window.
// The dictionary's longest term caps it further.
func WithMaxPhraseWords(n int) EngineOption {
	return func(e *Engine) {
		e.maxPhraseWords = n
	}
}

// WithMaxTextLength rejects texts longer than n bytes. 0 disables the limit.
func WithMaxTextLength(n int) EngineOption {
	return func(e *Engine) {
		e.maxTextLength = n
	}
}

// New creates an engine over dict.
func New(dict *dictionary.Dictionary, opts ...EngineOption) (*Engine, error) {
	if dict == nil {
		return nil, fmt.Errorf("nil dictionary")
	}
	e := &Engine{
		dict:             dict,
		defaultThreshold: DefaultThreshold,
		maxPhraseWords:   DefaultMaxPhraseWords,
		maxTextLength:    DefaultMaxTextLength,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := ValidateThreshold(e.defaultThreshold); err != nil {
		return nil, fmt.Errorf("default threshold: %w", err)
	}
	if e.maxPhraseWords < 1 {
		return nil, fmt.Errorf("max phrase words must be positive, got %d", e.maxPhraseWords)
	}
	if e.maxTextLength < 0 {
		return nil, fmt.Errorf("max text length must not be negative, got %d", e.maxTextLength)
	}
	return e, nil
}

// DefaultThreshold returns the configured default threshold.
func (e *Engine) DefaultThreshold() int {
	return e.defaultThreshold
}

// Match returns every dictionary term found in text at or above threshold,
// keyed by the span of text that matched.
func (e *Engine) Match(ctx context.Context, text string, threshold int) (Result, error) {
	matches, err := e.Explain(ctx, text, threshold)
	if err != nil {
		return nil, err
	}
	return NewResult(matches), nil
}

// Explain is Match with offsets, matched terms and scores kept.
func (e *Engine) Explain(ctx context.Context, text string, threshold int) ([]ScoredMatch, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	if err := e.checkInput(text); err != nil {
		return nil, err
	}

	ix := e.dict.Index()
	maxWords := min(e.maxPhraseWords, ix.MaxTokens())
	if maxWords == 0 {
		return nil, nil
	}

	start := time.Now()
	matches, err := Select(ctx, ExtractCandidates(text, maxWords), ix, threshold)
	if err != nil {
		return nil, err
	}
	widenSpans(text, matches, e.dict.Term)
	log.Debugf("Matched %d terms in %d bytes (threshold %d) in %s", len(matches), len(text), threshold, time.Since(start))
	return matches, nil
}

func (e *Engine) checkInput(text string) error {
	if !utf8.ValidString(text) {
		return &InvalidInputError{Reason: "text is not valid UTF-8"}
	}
	if e.maxTextLength > 0 && len(text) > e.maxTextLength {
		return &InvalidInputError{
			Reason: fmt.Sprintf("text is %d bytes, limit is %d", len(text), e.maxTextLength),
		}
	}
	return nil
}

// MatchAll matches every text concurrently. Results keep the input order.
// The first failure cancels the remaining texts and is returned.
func (e *Engine) MatchAll(ctx context.Context, texts []string, threshold int) ([]Result, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}

	results := make([]Result, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, text := range texts {
		g.Go(func() error {
			result, err := e.Match(gctx, text, threshold)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Complete returns up to limit dictionary terms starting with prefix,
// shortest first. limit <= 0 means no limit.
func (e *Engine) Complete(prefix string, limit int) []Suggestion {
	entries := e.dict.Index().WithPrefix(prefix, limit)
	if len(entries) == 0 {
		return nil
	}
	suggestions := make([]Suggestion, len(entries))
	for i, entry := range entries {
		suggestions[i] = Suggestion{
			Term:  entry.Term,
			Codes: append([]dictionary.Code(nil), entry.Codes...),
		}
	}
	return suggestions
}

// Stats returns dictionary and engine counters.
func (e *Engine) Stats() map[string]int {
	ds := e.dict.Stats()
	return map[string]int{
		"codes":            ds.Codes,
		"terms":            ds.Terms,
		"sharedTerms":      ds.SharedTerm,
		"maxTokens":        ds.MaxTokens,
		"defaultThreshold": e.defaultThreshold,
		"maxPhraseWords":   e.maxPhraseWords,
		"maxTextLength":    e.maxTextLength,
	}
}
