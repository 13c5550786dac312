// Package metrics exposes the gateway's prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Wake outcome label values.
const (
	WakeStarted = "started"
	WakeSkipped = "skipped"
	WakeFailed  = "failed"
)

// Metrics holds the gateway counters on a private registry so tests can
// construct as many instances as they need.
type Metrics struct {
	registry *prometheus.Registry

	MessagesAppended *prometheus.CounterVec
	Wakes            *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
	ResponsesDrained *prometheus.CounterVec
}

// New builds a metrics set with go-runtime collectors attached.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		MessagesAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skyclaw_messages_appended_total",
			Help: "Events appended to user mailbox streams.",
		}, []string{"direction"}),
		Wakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skyclaw_wakes_total",
			Help: "Sprite wake attempts by outcome.",
		}, []string{"outcome"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skyclaw_tool_calls_total",
			Help: "Tool-server calls by tool name.",
		}, []string{"tool"}),
		ResponsesDrained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skyclaw_responses_drained_total",
			Help: "Responses delivered to clients by path.",
		}, []string{"path"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MessagesAppended,
		m.Wakes,
		m.ToolCalls,
		m.ResponsesDrained,
	)

	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
