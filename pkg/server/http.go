package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/idea4rc/termserve/internal/logger"
	"github.com/idea4rc/termserve/internal/metrics"
	"github.com/idea4rc/termserve/pkg/match"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultMaxBodyBytes = 4 << 20
	maxBatchSize        = 256
)

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins  []string
	EnableWebSocket bool
	MaxBodyBytes    int64 // 0 means 4 MiB
}

type matchBody struct {
	TextToMatch *string `json:"text_to_match"`
	Threshold   *int    `json:"threshold"`
}

type batchBody struct {
	Texts     []string `json:"texts"`
	Threshold *int     `json:"threshold"`
}

type handler struct {
	matcher      match.Matcher
	maxBodyBytes int64
	originHosts  []string
	logger       *log.Logger
}

// NewRouter builds the HTTP surface around m.
func NewRouter(m match.Matcher, opts RouterOptions) http.Handler {
	h := &handler{
		matcher:      m,
		maxBodyBytes: opts.MaxBodyBytes,
		originHosts:  originHosts(opts.AllowedOrigins),
		logger:       logger.New("http"),
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = defaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	// top level so preflight requests are answered before routing
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Group(func(r chi.Router) {
		r.Use(metrics.Middleware())

		r.Get("/healthz", h.health)
		r.Handle("/metrics", promhttp.Handler())

		r.Route("/api", func(r chi.Router) {
			// path used by older web clients
			r.Post("/match_terms", h.matchTerms)

			r.Route("/py", func(r chi.Router) {
				r.Post("/match_terms", h.matchTerms)
				r.Post("/match_terms/explain", h.explain)
				r.Post("/match_terms/batch", h.batch)
				r.Get("/terms", h.terms)
			})
		})
	})

	// The upgrade needs the raw ResponseWriter, so /ws skips the metrics wrapper.
	if opts.EnableWebSocket {
		r.Get("/ws", h.serveWS)
	}
	return r
}

// originHosts turns allowed origins into the host patterns the WebSocket
// handshake checks the Origin header against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin == "*" {
			hosts = append(hosts, "*")
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			log.Warnf("Ignoring invalid allowed origin %q", origin)
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"stats":  h.matcher.Stats(),
	})
}

func (h *handler) readMatchBody(w http.ResponseWriter, r *http.Request) (string, int, error) {
	var body matchBody
	if err := h.decode(w, r, &body); err != nil {
		return "", 0, err
	}
	if body.TextToMatch == nil {
		return "", 0, &match.InvalidInputError{Reason: "text_to_match is required"}
	}
	threshold := h.matcher.DefaultThreshold()
	if body.Threshold != nil {
		threshold = *body.Threshold
	}
	return *body.TextToMatch, threshold, nil
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return &match.InvalidInputError{Reason: "invalid request body: " + err.Error()}
	}
	return nil
}

func (h *handler) matchTerms(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	text, threshold, err := h.readMatchBody(w, r)
	if err != nil {
		h.fail(w, start, err)
		return
	}

	result, err := h.matcher.Match(r.Context(), text, threshold)
	if err != nil {
		h.fail(w, start, err)
		return
	}
	metrics.ObserveMatch(metrics.TransportHTTP, metrics.OutcomeOK, start, len(result))
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) explain(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	text, threshold, err := h.readMatchBody(w, r)
	if err != nil {
		h.fail(w, start, err)
		return
	}

	matches, err := h.matcher.Explain(r.Context(), text, threshold)
	if err != nil {
		h.fail(w, start, err)
		return
	}
	metrics.ObserveMatch(metrics.TransportHTTP, metrics.OutcomeOK, start, len(matches))
	writeJSON(w, http.StatusOK, toSpans(matches))
}

func (h *handler) batch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var body batchBody
	if err := h.decode(w, r, &body); err != nil {
		h.fail(w, start, err)
		return
	}
	if body.Texts == nil {
		h.fail(w, start, &match.InvalidInputError{Reason: "texts is required"})
		return
	}
	if len(body.Texts) > maxBatchSize {
		h.fail(w, start, &match.InvalidInputError{
			Reason: "batch exceeds " + strconv.Itoa(maxBatchSize) + " texts",
		})
		return
	}
	threshold := h.matcher.DefaultThreshold()
	if body.Threshold != nil {
		threshold = *body.Threshold
	}

	results, err := h.matcher.MatchAll(r.Context(), body.Texts, threshold)
	if err != nil {
		h.fail(w, start, err)
		return
	}
	total := 0
	for _, result := range results {
		total += len(result)
	}
	metrics.ObserveMatch(metrics.TransportHTTP, metrics.OutcomeOK, start, total)
	writeJSON(w, http.StatusOK, results)
}

func (h *handler) terms(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		writeError(w, http.StatusBadRequest, "prefix is required")
		return
	}
	limit := defaultCompleteLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxCompleteLimit)
	}
	writeJSON(w, http.StatusOK, toSuggestions(h.matcher.Complete(prefix, limit)))
}

// fail records and writes a failed match request
func (h *handler) fail(w http.ResponseWriter, start time.Time, err error) {
	metrics.ObserveMatch(metrics.TransportHTTP, metrics.Outcome(err), start, 0)
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Errorf("Matching failed: %v", err)
	}
	writeError(w, status, err.Error())
}

// serveWS matches every frame of a live input connection, newest input wins
func (h *handler) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originHosts,
	})
	if err != nil {
		h.logger.Warnf("WebSocket handshake failed: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.maxBodyBytes)

	stream := NewStream()
	defer stream.Close()
	h.logger.Debug("WebSocket connected", "session", stream.ID(), "remote", r.RemoteAddr)

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				h.logger.Debug("WebSocket closed", "session", stream.ID())
			default:
				h.logger.Debugf("WebSocket read ended: %v", err)
			}
			return
		}

		start := time.Now()
		if typ != websocket.MessageText {
			h.writeWS(ctx, conn, ErrorResponse{Error: "only text frames are supported", Status: http.StatusBadRequest})
			continue
		}

		text, threshold := h.parseFrame(data)
		Submit(ctx, stream,
			func(ctx context.Context) (match.Result, error) {
				return h.matcher.Match(ctx, text, threshold)
			},
			func(result match.Result, err error) {
				metrics.ObserveMatch(metrics.TransportWebSocket, metrics.Outcome(err), start, len(result))
				switch {
				case err == nil:
					h.writeWS(ctx, conn, result)
				case errors.Is(err, context.Canceled):
					// a newer frame owns the connection now
				default:
					h.writeWS(ctx, conn, ErrorResponse{Error: err.Error(), Status: errorStatus(err)})
				}
			})
	}
}

// parseFrame accepts raw text or a JSON body shaped like the HTTP request.
func (h *handler) parseFrame(data []byte) (string, int) {
	threshold := h.matcher.DefaultThreshold()
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		var body matchBody
		if err := json.Unmarshal(trimmed, &body); err == nil && body.TextToMatch != nil {
			if body.Threshold != nil {
				threshold = *body.Threshold
			}
			return *body.TextToMatch, threshold
		}
	}
	return string(data), threshold
}

func (h *handler) writeWS(ctx context.Context, conn *websocket.Conn, v any) {
	if err := wsjson.Write(ctx, conn, v); err != nil {
		h.logger.Debugf("WebSocket write failed: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Status: status})
}
