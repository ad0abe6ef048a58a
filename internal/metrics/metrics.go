// Package metrics exposes Prometheus collectors for matching and HTTP traffic.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/idea4rc/termserve/pkg/match"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "termserve"

// Transport labels.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
	TransportIPC       = "ipc"
	TransportCLI       = "cli"
)

// Outcome labels.
const (
	OutcomeOK         = "ok"
	OutcomeInvalid    = "invalid"
	OutcomeSuperseded = "superseded"
	OutcomeError      = "error"
)

var (
	MatchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_requests_total",
			Help:      "Total number of match requests",
		},
		[]string{"transport", "outcome"},
	)

	MatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Time spent matching one text",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"transport"},
	)

	MatchesReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "matches_returned",
			Help:      "Number of matched spans per request",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	CacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_total",
			Help:      "Result cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestDuration,
		httpRequestsTotal,
		MatchRequestsTotal,
		MatchDuration,
		MatchesReturned,
		CacheTotal,
	)
}

// ObserveMatch records one finished match request.
func ObserveMatch(transport, outcome string, started time.Time, matches int) {
	MatchRequestsTotal.WithLabelValues(transport, outcome).Inc()
	MatchDuration.WithLabelValues(transport).Observe(time.Since(started).Seconds())
	if outcome == OutcomeOK {
		MatchesReturned.Observe(float64(matches))
	}
}

// Outcome maps a match error to its outcome label.
// Cancellation means a newer input replaced the request.
func Outcome(err error) string {
	var thresholdErr *match.InvalidThresholdError
	var inputErr *match.InvalidInputError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &thresholdErr), errors.As(err, &inputErr):
		return OutcomeInvalid
	case errors.Is(err, context.Canceled):
		return OutcomeSuperseded
	default:
		return OutcomeError
	}
}
