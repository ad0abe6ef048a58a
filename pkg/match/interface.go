package match

import "context"

// Matcher defines the matching operations transports depend on.
type Matcher interface {
	// Match returns span -> code for every term found in text
	Match(ctx context.Context, text string, threshold int) (Result, error)

	// Explain returns the resolved matches with offsets and scores
	Explain(ctx context.Context, text string, threshold int) ([]ScoredMatch, error)

	// MatchAll matches a batch of texts, keeping input order
	MatchAll(ctx context.Context, texts []string, threshold int) ([]Result, error)

	// Complete returns dictionary terms starting with prefix
	Complete(prefix string, limit int) []Suggestion

	// DefaultThreshold is used when a request carries no threshold
	DefaultThreshold() int

	// Stats returns counters about the dictionary and the engine
	Stats() map[string]int
}
