// Package observability provides prometheus counters for gateway
// activity. Raw counters only; cost accounting is out of scope.
package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"llmgate/internal/core"
)

// Metrics holds the gateway's prometheus collectors.
type Metrics struct {
	requests       *prometheus.CounterVec
	tokens         *prometheus.CounterVec
	tokenRefreshes *prometheus.CounterVec
	streamEvents   *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. Pass a fresh registry in
// tests; prometheus.DefaultRegisterer otherwise.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgate_requests_total",
				Help: "Completed turns by backend and outcome.",
			},
			[]string{"backend", "outcome"},
		),
		tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgate_tokens_total",
				Help: "Token totals by backend and direction.",
			},
			[]string{"backend", "direction"},
		),
		tokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgate_token_refreshes_total",
				Help: "OAuth token refreshes by backend.",
			},
			[]string{"backend"},
		),
		streamEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgate_stream_events_total",
				Help: "Normalized stream events by backend and kind.",
			},
			[]string{"backend", "kind"},
		),
	}
}

// ObserveRequest records one finished turn.
func (m *Metrics) ObserveRequest(backend string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var gerr *core.GatewayError
		if errors.As(err, &gerr) {
			outcome = string(gerr.Type)
		}
	}
	m.requests.WithLabelValues(backend, outcome).Inc()
}

// ObserveUsage records the token counts of one finished turn.
func (m *Metrics) ObserveUsage(backend string, usage core.Usage) {
	m.tokens.WithLabelValues(backend, "input").Add(float64(usage.InputTokens))
	m.tokens.WithLabelValues(backend, "output").Add(float64(usage.OutputTokens))
}

// ObserveRefresh records one successful token refresh.
func (m *Metrics) ObserveRefresh(backend string) {
	m.tokenRefreshes.WithLabelValues(backend).Inc()
}

// ObserveStreamEvent records one normalized event.
func (m *Metrics) ObserveStreamEvent(backend, kind string) {
	m.streamEvents.WithLabelValues(backend, kind).Inc()
}

// EventKind maps a stream event to its metric label.
func EventKind(ev core.StreamEvent) string {
	switch ev.(type) {
	case core.TextFragment:
		return "text_fragment"
	case core.ToolCallStarted:
		return "tool_call_started"
	case core.ToolCallArgumentFragment:
		return "tool_call_argument_fragment"
	case core.ToolCallCompleted:
		return "tool_call_completed"
	case core.TurnCompleted:
		return "turn_completed"
	default:
		return "unknown"
	}
}
