package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/idea4rc/termserve/pkg/dictionary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetLevel(log.ErrorLevel)
}

var testTerms = map[string]string{
	"C50":        "breast cancer",
	"C50.9":      "breast",
	"M8000":      "tumor",
	"R60":        "edema",
	"C85":        "non-Hodgkin lymphoma",
	"tumor_size": "Tumor size",
	"D36":        "Tumeur Bénigne",
}

func newTestEngine(t *testing.T, entries map[string]string, opts ...EngineOption) *Engine {
	t.Helper()
	dict, err := dictionary.New(entries)
	require.NoError(t, err)
	engine, err := New(dict, opts...)
	require.NoError(t, err)
	return engine
}

func TestEngine_Scenario(t *testing.T) {
	engine := newTestEngine(t, map[string]string{
		"C50":   "breast cancer",
		"M8000": "tumor",
	})
	ctx := context.Background()

	result, err := engine.Match(ctx, "patient has a large tumor in the breast", 60)
	require.NoError(t, err)
	assert.Equal(t, Result{"tumor": "M8000"}, result)

	result, err = engine.Match(ctx, "tumer", 95)
	require.NoError(t, err)
	assert.Empty(t, result)

	result, err = engine.Match(ctx, "tumer", 80)
	require.NoError(t, err)
	assert.Equal(t, Result{"tumer": "M8000"}, result)
}

func TestEngine_Match(t *testing.T) {
	engine := newTestEngine(t, testTerms)

	testCases := []struct {
		text        string
		threshold   int
		expected    Result
		description string
	}{
		{"breast cancer", 100, Result{"breast cancer": "C50"}, "Phrase beats contained word"},
		{"BREAST   CANCER", 100, Result{"BREAST   CANCER": "C50"}, "Case and whitespace variants"},
		{"a tumor, then edema.", 100, Result{"tumor": "M8000", "edema": "R60"}, "Punctuation trimmed from spans"},
		{"history of non hodgkin lymphoma", 100, Result{"non hodgkin lymphoma": "C85"}, "Hyphen matches a space"},
		{"the tumor size was 3cm", 100, Result{"tumor size": "tumor_size"}, "Multi word term"},
		{"une tumeur benigne", 100, Result{"tumeur benigne": "D36"}, "Accents ignored"},
		{"brest cancer", 90, Result{"brest cancer": "C50"}, "Typo within threshold"},
		{"brest cancer", 95, Result{}, "Typo above threshold"},
		{"nothing relevant here", 90, Result{}, "No match"},
		{"", 60, Result{}, "Empty text"},
		{"   \t\n", 60, Result{}, "Whitespace only"},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			result, err := engine.Match(context.Background(), tc.text, tc.threshold)
			require.NoError(t, err)
			require.NotNil(t, result)
			assert.Equal(t, tc.expected, result)
			assert.NotContains(t, result, "")
		})
	}
}

func TestEngine_VerbatimTermsAtFullThreshold(t *testing.T) {
	entries := map[string]string{
		"R60":   "edema",
		"C34":   "bronchus",
		"C85":   "non-Hodgkin lymphoma",
		"M8000": "tumor",
	}
	engine := newTestEngine(t, entries)

	text := "Findings: edema, bronchus involvement, non-Hodgkin lymphoma and a tumor."
	result, err := engine.Match(context.Background(), text, 100)
	require.NoError(t, err)

	for code, term := range entries {
		assert.Equal(t, dictionary.Code(code), result[term], "term %q", term)
	}
}

func TestEngine_VerbatimTermsWithEdgePunctuation(t *testing.T) {
	engine := newTestEngine(t, map[string]string{
		"X1":  "tumor (malignant)",
		"X2":  "C++",
		"X3":  "(R)-warfarin",
		"R60": "edema",
	})

	testCases := []struct {
		text        string
		expected    Result
		description string
	}{
		{"a tumor (malignant) seen", Result{"tumor (malignant)": "X1"}, "Closing parenthesis kept"},
		{"uses C++ daily", Result{"C++": "X2"}, "Trailing symbols kept"},
		{"given (R)-warfarin, then edema.", Result{"(R)-warfarin": "X3", "edema": "R60"}, "Leading punctuation kept"},
		{"A TUMOR (MALIGNANT)", Result{"TUMOR (MALIGNANT)": "X1"}, "Case variant widened"},
		{"tumor (malignant", Result{"tumor (malignant": "X1"}, "Missing edge is not invented"},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			result, err := engine.Match(context.Background(), tc.text, 100)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result)
		})
	}

	matches, err := engine.Explain(context.Background(), "a tumor (malignant) seen", 100)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "tumor (malignant)", "a tumor (malignant) seen"[matches[0].Start:matches[0].End])
}

func TestEngine_ThresholdIsMonotone(t *testing.T) {
	engine := newTestEngine(t, map[string]string{
		"A":     "breast",
		"B":     "cancer",
		"C":     "breast cancers",
		"M8000": "tumor",
		"R60":   "edema",
	})
	texts := []string{
		"breast cancer",
		"patient has a large tumer in the brest, with edma",
		"tumor tumour tumors breast cancer cancers",
	}

	for _, text := range texts {
		prev := -1
		for threshold := MinScore; threshold <= MaxScore; threshold += 5 {
			result, err := engine.Match(context.Background(), text, threshold)
			require.NoError(t, err)
			if prev >= 0 {
				assert.LessOrEqual(t, len(result), prev, "%q at threshold %d", text, threshold)
			}
			prev = len(result)
		}
	}
}

func TestEngine_InvalidThreshold(t *testing.T) {
	engine := newTestEngine(t, testTerms)

	for _, threshold := range []int{-5, 101, 1000} {
		_, err := engine.Match(context.Background(), "tumor", threshold)
		var thresholdErr *InvalidThresholdError
		assert.ErrorAs(t, err, &thresholdErr, "threshold %d", threshold)
	}
}

func TestEngine_InvalidInput(t *testing.T) {
	engine := newTestEngine(t, testTerms, WithMaxTextLength(16))

	var inputErr *InvalidInputError
	_, err := engine.Match(context.Background(), "tumor \xff", 60)
	require.ErrorAs(t, err, &inputErr)
	assert.Contains(t, inputErr.Reason, "UTF-8")

	_, err = engine.Match(context.Background(), strings.Repeat("tumor ", 4), 60)
	require.ErrorAs(t, err, &inputErr)

	_, err = engine.Match(context.Background(), "a small tumor", 60)
	assert.NoError(t, err)
}

func TestNew_Options(t *testing.T) {
	dict, err := dictionary.New(testTerms)
	require.NoError(t, err)

	engine, err := New(dict)
	require.NoError(t, err)
	assert.Equal(t, DefaultThreshold, engine.DefaultThreshold())

	engine, err = New(dict, WithDefaultThreshold(85), WithMaxPhraseWords(2))
	require.NoError(t, err)
	assert.Equal(t, 85, engine.DefaultThreshold())
	assert.Equal(t, 2, engine.Stats()["maxPhraseWords"])

	_, err = New(dict, WithDefaultThreshold(120))
	var thresholdErr *InvalidThresholdError
	assert.ErrorAs(t, err, &thresholdErr)

	_, err = New(dict, WithMaxPhraseWords(0))
	assert.Error(t, err)

	_, err = New(dict, WithMaxTextLength(-1))
	assert.Error(t, err)

	_, err = New(nil)
	assert.Error(t, err)
}

func TestEngine_MaxPhraseWordsLimitsWindows(t *testing.T) {
	engine := newTestEngine(t, testTerms, WithMaxPhraseWords(1))

	result, err := engine.Match(context.Background(), "breast cancer", 100)
	require.NoError(t, err)
	assert.Equal(t, Result{"breast": "C50.9"}, result)
}

func TestEngine_EmptyDictionary(t *testing.T) {
	engine := newTestEngine(t, map[string]string{})

	result, err := engine.Match(context.Background(), "tumor", 0)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestEngine_Explain(t *testing.T) {
	engine := newTestEngine(t, testTerms)
	text := "large tumer near breast cancer"

	matches, err := engine.Explain(context.Background(), text, 80)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "tumer", matches[0].Span)
	assert.Equal(t, "tumor", matches[0].Term)
	assert.Equal(t, 80, matches[0].Score)
	assert.Equal(t, "tumer", text[matches[0].Start:matches[0].End])

	assert.Equal(t, "breast cancer", matches[1].Span)
	assert.Equal(t, dictionary.Code("C50"), matches[1].Code)
	assert.Equal(t, 100, matches[1].Score)
	assert.Equal(t, 2, matches[1].Words)
}

func TestEngine_MatchAll(t *testing.T) {
	engine := newTestEngine(t, testTerms)
	texts := []string{"tumor", "", "breast cancer", "edema", "nothing"}

	results, err := engine.MatchAll(context.Background(), texts, 100)
	require.NoError(t, err)
	require.Len(t, results, len(texts))

	assert.Equal(t, Result{"tumor": "M8000"}, results[0])
	assert.Empty(t, results[1])
	assert.Equal(t, Result{"breast cancer": "C50"}, results[2])
	assert.Equal(t, Result{"edema": "R60"}, results[3])
	assert.Empty(t, results[4])

	_, err = engine.MatchAll(context.Background(), []string{"tumor", "bad \xff"}, 100)
	var inputErr *InvalidInputError
	assert.ErrorAs(t, err, &inputErr)

	_, err = engine.MatchAll(context.Background(), texts, 101)
	var thresholdErr *InvalidThresholdError
	assert.ErrorAs(t, err, &thresholdErr)
}

func TestEngine_Canceled(t *testing.T) {
	engine := newTestEngine(t, testTerms)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Match(ctx, "a tumor", 60)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEngine_Complete(t *testing.T) {
	engine := newTestEngine(t, testTerms)

	got := engine.Complete("Bre", 0)
	require.Len(t, got, 2)
	assert.Equal(t, "breast", got[0].Term)
	assert.Equal(t, []dictionary.Code{"C50.9"}, got[0].Codes)
	assert.Equal(t, "breast cancer", got[1].Term)

	assert.Len(t, engine.Complete("bre", 1), 1)
	assert.Nil(t, engine.Complete("zzz", 5))

	got[0].Codes[0] = "mutated"
	assert.Equal(t, []dictionary.Code{"C50.9"}, engine.Complete("breast", 1)[0].Codes)
}

func TestEngine_Stats(t *testing.T) {
	engine := newTestEngine(t, testTerms)
	stats := engine.Stats()

	assert.Equal(t, len(testTerms), stats["codes"])
	assert.Equal(t, len(testTerms), stats["terms"])
	assert.Equal(t, 3, stats["maxTokens"])
	assert.Equal(t, DefaultThreshold, stats["defaultThreshold"])
}

func TestEngine_Concurrent(t *testing.T) {
	engine := newTestEngine(t, testTerms)
	texts := []string{
		"breast cancer with edema",
		"a tumer and a tumor",
		"non-Hodgkin lymphoma, tumor size 4cm",
		"une tumeur bénigne",
	}

	expected := make([]Result, len(texts))
	for i, text := range texts {
		result, err := engine.Match(context.Background(), text, 75)
		require.NoError(t, err)
		expected[i] = result
	}

	configs := []struct {
		workers    int
		iterations int
	}{
		{workers: 1, iterations: 200},
		{workers: 4, iterations: 100},
		{workers: 16, iterations: 25},
	}

	for _, cfg := range configs {
		t.Run(fmt.Sprintf("workers_%d_iter_%d", cfg.workers, cfg.iterations), func(t *testing.T) {
			var wg sync.WaitGroup
			errs := make(chan error, cfg.workers)
			for w := 0; w < cfg.workers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < cfg.iterations; i++ {
						idx := (w + i) % len(texts)
						result, err := engine.Match(context.Background(), texts[idx], 75)
						if err != nil {
							errs <- err
							return
						}
						if len(result) != len(expected[idx]) {
							errs <- fmt.Errorf("text %d: got %v, want %v", idx, result, expected[idx])
							return
						}
					}
				}(w)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Error(err)
			}
		})
	}
}
