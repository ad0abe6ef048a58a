// Package cli handles cmd line input for matching text interactively and in batches
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/idea4rc/termserve/internal/metrics"
	"github.com/idea4rc/termserve/pkg/match"
)

const (
	completePrefix = "?"
	completeLimit  = 10
	batchChunk     = 512
	maxLineBytes   = 1 << 20
)

var (
	spanStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	codeStyle = lipgloss.NewStyle().Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// InputHandler reads lines and prints the terms found in each one.
// A line starting with "?" lists dictionary terms for the rest of the line instead.
type InputHandler struct {
	matcher    match.Matcher
	threshold  int
	showScores bool
	in         io.Reader
	out        io.Writer
}

// NewInputHandler handles initialization of the InputHandler with basic parameters
func NewInputHandler(matcher match.Matcher, threshold int, showScores bool, in io.Reader, out io.Writer) *InputHandler {
	return &InputHandler{
		matcher:    matcher,
		threshold:  threshold,
		showScores: showScores,
		in:         in,
		out:        out,
	}
}

// Start begins the interface loop. It returns nil once the input ends.
func (h *InputHandler) Start(ctx context.Context) error {
	fmt.Fprintln(h.out, "TermServe CLI")
	fmt.Fprintf(h.out, "type some text and press Enter to see the matched terms, %q+prefix lists terms (Ctrl+C to exit):\n", completePrefix)

	scanner := bufio.NewScanner(h.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for {
		fmt.Fprint(h.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(h.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if prefix, ok := strings.CutPrefix(line, completePrefix); ok {
			h.handleComplete(strings.TrimSpace(prefix))
			continue
		}
		h.handleInput(ctx, line)
	}
}

func (h *InputHandler) handleInput(ctx context.Context, text string) {
	start := time.Now()
	matches, err := h.matcher.Explain(ctx, text, h.threshold)
	metrics.ObserveMatch(metrics.TransportCLI, metrics.Outcome(err), start, len(matches))
	if err != nil {
		log.Errorf("Match failed: %v", err)
		return
	}
	log.Debugf("Took [ %v ] for %d bytes", time.Since(start), len(text))

	if len(matches) == 0 {
		fmt.Fprintf(h.out, "No terms found at threshold %d\n", h.threshold)
		return
	}

	fmt.Fprintf(h.out, "Found %d terms:\n", len(matches))
	for i, m := range matches {
		line := fmt.Sprintf("%2d. %s -> %s", i+1, spanStyle.Render(m.Span), codeStyle.Render(string(m.Code)))
		if h.showScores {
			line += dimStyle.Render(fmt.Sprintf("  (%q, score %d, bytes %d-%d)", m.Term, m.Score, m.Start, m.End))
		}
		fmt.Fprintln(h.out, line)
	}
}

func (h *InputHandler) handleComplete(prefix string) {
	suggestions := h.matcher.Complete(prefix, completeLimit)
	if len(suggestions) == 0 {
		fmt.Fprintf(h.out, "No terms start with %q\n", prefix)
		return
	}
	for i, s := range suggestions {
		codes := make([]string, len(s.Codes))
		for j, c := range s.Codes {
			codes[j] = string(c)
		}
		fmt.Fprintf(h.out, "%2d. %s %s\n", i+1, spanStyle.Render(s.Term), dimStyle.Render(strings.Join(codes, ", ")))
	}
}

// RunBatch matches every line of in and writes one JSON object per line to out,
// in input order. Lines are matched concurrently in chunks.
func RunBatch(ctx context.Context, matcher match.Matcher, threshold int, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)

	total := 0
	lines := make([]string, 0, batchChunk)
	flush := func() error {
		if len(lines) == 0 {
			return nil
		}
		start := time.Now()
		results, err := matcher.MatchAll(ctx, lines, threshold)
		if err != nil {
			metrics.ObserveMatch(metrics.TransportCLI, metrics.Outcome(err), start, 0)
			return fmt.Errorf("lines %d-%d: %w", total+1, total+len(lines), err)
		}
		found := 0
		for _, result := range results {
			found += len(result)
			if err := enc.Encode(result); err != nil {
				return err
			}
		}
		metrics.ObserveMatch(metrics.TransportCLI, metrics.OutcomeOK, start, found)
		total += len(lines)
		lines = lines[:0]
		return nil
	}

	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) == batchChunk {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading batch input: %w", err)
	}
	if err := flush(); err != nil {
		return err
	}
	log.Debugf("Batch matched %d lines", total)
	return w.Flush()
}
