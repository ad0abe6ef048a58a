package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/idea4rc/termserve/internal/logger"
	"github.com/idea4rc/termserve/internal/metrics"
	"github.com/idea4rc/termserve/pkg/match"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	defaultCompleteLimit = 10
	maxCompleteLimit     = 100
)

// IPCServer handles msgpack requests over a reader/writer pair, usually stdin/stdout.
type IPCServer struct {
	matcher match.Matcher
	dec     *msgpack.Decoder
	out     *bufio.Writer
	enc     *msgpack.Encoder
	mu      sync.Mutex // guards out and enc
	stream  *Stream
	logger  *log.Logger
}

// NewIPCServer creates a server reading requests from r and writing responses to w.
func NewIPCServer(m match.Matcher, r io.Reader, w io.Writer) *IPCServer {
	out := bufio.NewWriter(w)
	return &IPCServer{
		matcher: m,
		dec:     msgpack.NewDecoder(bufio.NewReader(r)),
		out:     out,
		enc:     msgpack.NewEncoder(out),
		stream:  NewStream(),
		logger:  logger.New("ipc"),
	}
}

// Start signals readiness and serves requests until the input ends.
// Pending match requests are answered before it returns.
func (s *IPCServer) Start(ctx context.Context) error {
	s.logger.Debug("Starting IPC server.", "session", s.stream.ID())
	defer s.stream.Close()

	s.send(StatusResponse{Status: "ready"})

	for {
		raw, err := s.dec.DecodeRaw()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug("Input closed")
				s.stream.Drain()
				return nil
			}
			return fmt.Errorf("reading request: %w", err)
		}

		var req Request
		if err := msgpack.Unmarshal(raw, &req); err != nil {
			s.logger.Errorf("Unmarshaling request: %v", err)
			s.sendError("", "invalid msgpack request", http.StatusBadRequest)
			continue
		}
		s.handleRequest(ctx, req)
	}
}

func (s *IPCServer) handleRequest(ctx context.Context, req Request) {
	switch req.Action {
	case ActionMatch, ActionExplain:
		s.handleMatch(ctx, req)
	case ActionComplete:
		s.handleComplete(req)
	case ActionHealth:
		s.send(StatusResponse{ID: req.ID, Status: "ok"})
	case ActionStats:
		s.send(StatusResponse{ID: req.ID, Status: "ok", Stats: s.matcher.Stats()})
	default:
		s.sendError(req.ID, fmt.Sprintf("unknown action: %q", req.Action), http.StatusBadRequest)
	}
}

func (s *IPCServer) handleMatch(ctx context.Context, req Request) {
	start := time.Now()
	if req.Text == nil {
		err := &match.InvalidInputError{Reason: "text is required"}
		metrics.ObserveMatch(metrics.TransportIPC, metrics.Outcome(err), start, 0)
		s.sendError(req.ID, err.Error(), http.StatusBadRequest)
		return
	}
	text := *req.Text
	threshold := s.matcher.DefaultThreshold()
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	if req.Action == ActionExplain {
		Submit(ctx, s.stream,
			func(ctx context.Context) ([]match.ScoredMatch, error) {
				return s.matcher.Explain(ctx, text, threshold)
			},
			func(matches []match.ScoredMatch, err error) {
				metrics.ObserveMatch(metrics.TransportIPC, metrics.Outcome(err), start, len(matches))
				if err != nil {
					s.sendError(req.ID, err.Error(), errorStatus(err))
					return
				}
				s.send(ExplainResponse{
					ID:        req.ID,
					Spans:     toSpans(matches),
					Count:     len(matches),
					TimeTaken: time.Since(start).Microseconds(),
				})
			})
		return
	}

	Submit(ctx, s.stream,
		func(ctx context.Context) (match.Result, error) {
			return s.matcher.Match(ctx, text, threshold)
		},
		func(result match.Result, err error) {
			metrics.ObserveMatch(metrics.TransportIPC, metrics.Outcome(err), start, len(result))
			if err != nil {
				s.sendError(req.ID, err.Error(), errorStatus(err))
				return
			}
			s.send(MatchResponse{
				ID:        req.ID,
				Matches:   result,
				Count:     len(result),
				TimeTaken: time.Since(start).Microseconds(),
			})
		})
}

func (s *IPCServer) handleComplete(req Request) {
	if req.Prefix == "" {
		s.sendError(req.ID, "missing prefix", http.StatusBadRequest)
		return
	}
	limit := req.Limit
	if limit < 1 {
		limit = defaultCompleteLimit
	}
	limit = min(limit, maxCompleteLimit)

	start := time.Now()
	suggestions := toSuggestions(s.matcher.Complete(req.Prefix, limit))
	s.send(CompletionResponse{
		ID:          req.ID,
		Suggestions: suggestions,
		Count:       len(suggestions),
		TimeTaken:   time.Since(start).Microseconds(),
	})
}

// send encodes one response and flushes it
func (s *IPCServer) send(response any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Encode(response); err != nil {
		s.logger.Errorf("Encoding response: %v", err)
		return
	}
	if err := s.out.Flush(); err != nil {
		s.logger.Errorf("Writing response: %v", err)
	}
}

func (s *IPCServer) sendError(id, message string, code int) {
	s.send(IPCError{ID: id, Error: message, Code: code})
}
