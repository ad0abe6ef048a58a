package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/idea4rc/termserve/pkg/dictionary"
	"github.com/idea4rc/termserve/pkg/match"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

// runIPC feeds messages to a server until EOF and returns its responses keyed by ID.
func runIPC(t *testing.T, messages ...any) map[string]msgpack.RawMessage {
	t.Helper()
	var in bytes.Buffer
	enc := msgpack.NewEncoder(&in)
	for _, m := range messages {
		require.NoError(t, enc.Encode(m))
	}

	var out bytes.Buffer
	srv := NewIPCServer(newTestEngine(t), &in, &out)
	require.NoError(t, srv.Start(context.Background()))

	responses := make(map[string]msgpack.RawMessage)
	dec := msgpack.NewDecoder(&out)
	for out.Len() > 0 {
		raw, err := dec.DecodeRaw()
		require.NoError(t, err)
		var probe struct {
			ID string `msgpack:"id"`
		}
		require.NoError(t, msgpack.Unmarshal(raw, &probe))
		if _, seen := responses[probe.ID]; !seen {
			responses[probe.ID] = raw
		}
	}
	return responses
}

func unmarshal[T any](t *testing.T, raw msgpack.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, msgpack.Unmarshal(raw, &v))
	return v
}

func TestIPC_Match(t *testing.T) {
	responses := runIPC(t, Request{ID: "m1", Action: ActionMatch, Text: strPtr("a large tumor"), Threshold: intPtr(80)})

	ready := unmarshal[StatusResponse](t, responses[""])
	assert.Equal(t, "ready", ready.Status)

	resp := unmarshal[MatchResponse](t, responses["m1"])
	assert.Equal(t, match.Result{"tumor": "M8000"}, resp.Matches)
	assert.Equal(t, 1, resp.Count)
}

func TestIPC_Explain(t *testing.T) {
	responses := runIPC(t, Request{ID: "e1", Action: ActionExplain, Text: strPtr("breast cancer")})

	resp := unmarshal[ExplainResponse](t, responses["e1"])
	require.Len(t, resp.Spans, 1)
	assert.Equal(t, Span{Text: "breast cancer", Start: 0, End: 13, Code: "C50", Term: "breast cancer", Score: 100}, resp.Spans[0])
}

func TestIPC_SynchronousActions(t *testing.T) {
	responses := runIPC(t,
		Request{ID: "h1", Action: ActionHealth},
		Request{ID: "s1", Action: ActionStats},
		Request{ID: "c1", Action: ActionComplete, Prefix: "bre", Limit: 5},
		Request{ID: "c2", Action: ActionComplete},
		Request{ID: "x1", Action: "reload"},
	)

	assert.Equal(t, "ok", unmarshal[StatusResponse](t, responses["h1"]).Status)

	stats := unmarshal[StatusResponse](t, responses["s1"])
	assert.Equal(t, len(testTerms), stats.Stats["codes"])

	completion := unmarshal[CompletionResponse](t, responses["c1"])
	require.Equal(t, 2, completion.Count)
	assert.Equal(t, "breast", completion.Suggestions[0].Term)
	assert.Equal(t, []dictionary.Code{"C50.9"}, completion.Suggestions[0].Codes)

	assert.Equal(t, http.StatusBadRequest, unmarshal[IPCError](t, responses["c2"]).Code)
	assert.Equal(t, http.StatusBadRequest, unmarshal[IPCError](t, responses["x1"]).Code)
}

func TestIPC_InvalidRequests(t *testing.T) {
	responses := runIPC(t,
		Request{ID: "t1", Action: ActionMatch, Text: strPtr("tumor"), Threshold: intPtr(101)},
	)
	thresholdErr := unmarshal[IPCError](t, responses["t1"])
	assert.Equal(t, http.StatusBadRequest, thresholdErr.Code)
	assert.Contains(t, thresholdErr.Error, "threshold")

	responses = runIPC(t, Request{ID: "n1", Action: ActionMatch})
	assert.Equal(t, http.StatusBadRequest, unmarshal[IPCError](t, responses["n1"]).Code)

	responses = runIPC(t, Request{ID: "u1", Action: ActionMatch, Text: strPtr("tumor \xff")})
	assert.Equal(t, http.StatusBadRequest, unmarshal[IPCError](t, responses["u1"]).Code)
}

func TestIPC_MalformedMessageKeepsServing(t *testing.T) {
	var in bytes.Buffer
	enc := msgpack.NewEncoder(&in)
	require.NoError(t, enc.Encode("not a request"))
	require.NoError(t, enc.Encode(Request{ID: "h1", Action: ActionHealth}))

	var out bytes.Buffer
	require.NoError(t, NewIPCServer(newTestEngine(t), &in, &out).Start(context.Background()))

	dec := msgpack.NewDecoder(&out)
	var ready StatusResponse
	require.NoError(t, dec.Decode(&ready))
	assert.Equal(t, "ready", ready.Status)

	var malformed IPCError
	require.NoError(t, dec.Decode(&malformed))
	assert.Equal(t, http.StatusBadRequest, malformed.Code)

	var health StatusResponse
	require.NoError(t, dec.Decode(&health))
	assert.Equal(t, "h1", health.ID)
}

func TestIPC_NewestMatchWins(t *testing.T) {
	const n = 10
	messages := make([]any, n)
	for i := range n {
		messages[i] = Request{ID: fmt.Sprintf("m%d", i), Action: ActionMatch, Text: strPtr("breast cancer and edema")}
	}
	responses := runIPC(t, messages...)

	for i := range n {
		raw, ok := responses[fmt.Sprintf("m%d", i)]
		require.True(t, ok, "every request is answered")

		var probe struct {
			Error string `msgpack:"e"`
			Code  int    `msgpack:"c"`
		}
		require.NoError(t, msgpack.Unmarshal(raw, &probe))
		if i == n-1 {
			assert.Empty(t, probe.Error, "the newest request always completes")
			resp := unmarshal[MatchResponse](t, raw)
			assert.Equal(t, match.Result{"breast cancer": "C50", "edema": "R60"}, resp.Matches)
			continue
		}
		if probe.Error != "" {
			assert.Equal(t, StatusSuperseded, probe.Code)
		}
	}
}
