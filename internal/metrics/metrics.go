// Package metrics exposes Prometheus metrics for the filter engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and
// records nothing, so components can run without a registry.
type Metrics struct {
	registry *prometheus.Registry

	MessagesTotal    *prometheus.CounterVec
	MatchesTotal     prometheus.Counter
	DispatchTotal    *prometheus.CounterVec
	CommandsTotal    *prometheus.CounterVec
	MatchDuration    prometheus.Histogram
	FiltersStored    prometheus.Gauge
	ChatsWithFilters prometheus.Gauge
}

// New creates a Metrics instance registered on registry.
func New(registry *prometheus.Registry) *Metrics {
	f := promauto.With(registry)
	return &Metrics{
		registry: registry,

		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filterbot_messages_total",
				Help: "Inbound messages by chat type",
			},
			[]string{"chat_type"},
		),
		MatchesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "filterbot_matches_total",
			Help: "Messages that matched a filter",
		}),
		DispatchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filterbot_dispatch_total",
				Help: "Filter dispatches by kind and outcome",
			},
			[]string{"kind", "outcome"}, // outcome: sent, sent_fresh, unsupported_url, malformed, transport_error
		),
		CommandsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filterbot_commands_total",
				Help: "Filter commands by name and result",
			},
			[]string{"command", "result"},
		),
		MatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "filterbot_match_duration_seconds",
			Help:    "Time spent matching a message against a chat's filters",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		FiltersStored: f.NewGauge(prometheus.GaugeOpts{
			Name: "filterbot_filters",
			Help: "Filters stored across all chats",
		}),
		ChatsWithFilters: f.NewGauge(prometheus.GaugeOpts{
			Name: "filterbot_chats",
			Help: "Chats with at least one filter",
		}),
	}
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordMessage(chatType string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(chatType).Inc()
}

func (m *Metrics) RecordMatch(seconds float64, matched bool) {
	if m == nil {
		return
	}
	m.MatchDuration.Observe(seconds)
	if matched {
		m.MatchesTotal.Inc()
	}
}

func (m *Metrics) RecordDispatch(kind, outcome string) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) RecordCommand(command, result string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(command, result).Inc()
}

// SetStoreTotals updates the store gauges.
func (m *Metrics) SetStoreTotals(filters, chats int) {
	if m == nil {
		return
	}
	m.FiltersStored.Set(float64(filters))
	m.ChatsWithFilters.Set(float64(chats))
}
