/*
Package server exposes the term matcher over HTTP, WebSocket and a msgpack IPC stream.

# HTTP

The HTTP surface keeps the routes the web client already calls:

	POST /api/py/match_terms          {"text_to_match": "large tumor", "threshold": 80}
	POST /api/py/match_terms/explain  same body, returns spans with offsets and scores
	POST /api/py/match_terms/batch    {"texts": ["...", "..."], "threshold": 80}
	GET  /api/py/terms?prefix=bre&limit=10
	GET  /ws
	GET  /healthz
	GET  /metrics

A match answers with a flat object of matched text to code:

	{"tumor": "M8000", "breast cancer": "C50"}

Invalid thresholds and invalid text are rejected with {"error": "...", "status": 400}.

# WebSocket

Every text frame is either raw text, matched with the default threshold, or a JSON
object shaped like the HTTP body. Each connection keeps only its newest input:
a frame arriving while an older one is still being matched cancels the older one,
whose result is never sent.

# IPC

With -ipc the server reads msgpack requests from stdin and writes msgpack responses to stdout.
Each message carries an ID echoed back in the response and an action:

	{"id": "req_001", "action": "match", "text": "large tumer", "threshold": 80}
	{"id": "req_001", "m": {"tumer": "M8000"}, "c": 1, "t": 145}

	{"id": "req_002", "action": "complete", "p": "bre", "l": 5}
	{"id": "req_003", "action": "explain", "text": "breast cancer"}
	{"id": "req_004", "action": "health"}
	{"id": "req_005", "action": "stats"}

match and explain requests follow the same newest-input-wins rule as the WebSocket:
a superseded request is answered with error code 499.
Errors use the short form {"id": "req_001", "e": "invalid threshold 120 ...", "c": 400}.
Timings are reported in microseconds.
*/
package server

import (
	"github.com/idea4rc/termserve/pkg/dictionary"
	"github.com/idea4rc/termserve/pkg/match"
)

// IPC actions
const (
	ActionMatch    = "match"
	ActionExplain  = "explain"
	ActionComplete = "complete"
	ActionHealth   = "health"
	ActionStats    = "stats"
)

// Request is the envelope of every IPC message
type Request struct {
	ID        string  `msgpack:"id"`
	Action    string  `msgpack:"action"`
	Text      *string `msgpack:"text,omitempty"`
	Threshold *int    `msgpack:"threshold,omitempty"`
	Prefix    string  `msgpack:"p,omitempty"`
	Limit     int     `msgpack:"l,omitempty"`
}

// MatchResponse - matched text to code
type MatchResponse struct {
	ID        string       `msgpack:"id"`
	Matches   match.Result `msgpack:"m"`
	Count     int          `msgpack:"c"`
	TimeTaken int64        `msgpack:"t"`
}

// Span describes one resolved match, shared by the IPC and HTTP explain responses
type Span struct {
	Text  string          `msgpack:"text" json:"text"`
	Start int             `msgpack:"start" json:"start"`
	End   int             `msgpack:"end" json:"end"`
	Code  dictionary.Code `msgpack:"code" json:"code"`
	Term  string          `msgpack:"term" json:"term"`
	Score int             `msgpack:"score" json:"score"`
}

// ExplainResponse - resolved matches with offsets and scores
type ExplainResponse struct {
	ID        string `msgpack:"id"`
	Spans     []Span `msgpack:"s"`
	Count     int    `msgpack:"c"`
	TimeTaken int64  `msgpack:"t"`
}

// CompletionSuggestion - one dictionary term for a prefix
type CompletionSuggestion struct {
	Term  string            `msgpack:"w" json:"term"`
	Codes []dictionary.Code `msgpack:"codes" json:"codes"`
}

// CompletionResponse - completion response
type CompletionResponse struct {
	ID          string                 `msgpack:"id"`
	Suggestions []CompletionSuggestion `msgpack:"s"`
	Count       int                    `msgpack:"c"`
	TimeTaken   int64                  `msgpack:"t"`
}

// StatusResponse answers health and stats
type StatusResponse struct {
	ID     string         `msgpack:"id"`
	Status string         `msgpack:"status"`
	Stats  map[string]int `msgpack:"stats,omitempty"`
}

// IPCError holds basic error information for a failed request
type IPCError struct {
	ID    string `msgpack:"id"`
	Error string `msgpack:"e"`
	Code  int    `msgpack:"c"`
}

func toSpans(matches []match.ScoredMatch) []Span {
	spans := make([]Span, len(matches))
	for i, m := range matches {
		spans[i] = Span{
			Text:  m.Span,
			Start: m.Start,
			End:   m.End,
			Code:  m.Code,
			Term:  m.Term,
			Score: m.Score,
		}
	}
	return spans
}

func toSuggestions(suggestions []match.Suggestion) []CompletionSuggestion {
	out := make([]CompletionSuggestion, len(suggestions))
	for i, s := range suggestions {
		out[i] = CompletionSuggestion{Term: s.Term, Codes: s.Codes}
	}
	return out
}
