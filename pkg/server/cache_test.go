package server

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/idea4rc/termserve/pkg/dictionary"
	"github.com/idea4rc/termserve/pkg/match"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTerms = map[string]string{
	"C50":   "breast cancer",
	"C50.9": "breast",
	"M8000": "tumor",
	"R60":   "edema",
}

func newTestEngine(t *testing.T) *match.Engine {
	t.Helper()
	dict, err := dictionary.New(testTerms)
	require.NoError(t, err)
	engine, err := match.New(dict)
	require.NoError(t, err)
	return engine
}

type countingMatcher struct {
	match.Matcher
	calls atomic.Int32
}

func (c *countingMatcher) Match(ctx context.Context, text string, threshold int) (match.Result, error) {
	c.calls.Add(1)
	return c.Matcher.Match(ctx, text, threshold)
}

func TestCachedMatcher_ReusesResults(t *testing.T) {
	inner := &countingMatcher{Matcher: newTestEngine(t)}
	cached, err := NewCachedMatcher(inner, 8)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := cached.Match(ctx, "a large tumor", 80)
	require.NoError(t, err)
	second, err := cached.Match(ctx, "a large tumor", 80)
	require.NoError(t, err)

	assert.Equal(t, match.Result{"tumor": "M8000"}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 1, cached.Len())

	_, err = cached.Match(ctx, "a large tumor", 90)
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load(), "threshold is part of the key")
}

func TestCachedMatcher_ResultsAreCopies(t *testing.T) {
	cached, err := NewCachedMatcher(newTestEngine(t), 8)
	require.NoError(t, err)
	ctx := context.Background()

	result, err := cached.Match(ctx, "edema", 100)
	require.NoError(t, err)
	result["edema"] = "mutated"
	delete(result, "edema")

	again, err := cached.Match(ctx, "edema", 100)
	require.NoError(t, err)
	assert.Equal(t, match.Result{"edema": "R60"}, again)
}

func TestCachedMatcher_ErrorsAreNotCached(t *testing.T) {
	inner := &countingMatcher{Matcher: newTestEngine(t)}
	cached, err := NewCachedMatcher(inner, 8)
	require.NoError(t, err)

	for range 2 {
		_, err := cached.Match(context.Background(), "tumor", 101)
		var thresholdErr *match.InvalidThresholdError
		assert.ErrorAs(t, err, &thresholdErr)
	}
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, 0, cached.Len())
}

func TestCachedMatcher_Disabled(t *testing.T) {
	inner := &countingMatcher{Matcher: newTestEngine(t)}
	cached, err := NewCachedMatcher(inner, 0)
	require.NoError(t, err)

	for range 3 {
		_, err := cached.Match(context.Background(), "tumor", 60)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), inner.calls.Load())
	assert.Equal(t, 0, cached.Len())

	_, err = NewCachedMatcher(inner, -1)
	assert.Error(t, err)
}

func TestCachedMatcher_Evicts(t *testing.T) {
	cached, err := NewCachedMatcher(newTestEngine(t), 2)
	require.NoError(t, err)

	for _, text := range []string{"tumor", "edema", "breast"} {
		_, err := cached.Match(context.Background(), text, 100)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, cached.Len())
}

func TestCachedMatcher_DelegatesOtherOperations(t *testing.T) {
	cached, err := NewCachedMatcher(newTestEngine(t), 8)
	require.NoError(t, err)

	assert.Equal(t, match.DefaultThreshold, cached.DefaultThreshold())
	assert.Len(t, cached.Complete("bre", 0), 2)
	assert.Equal(t, len(testTerms), cached.Stats()["codes"])
}
