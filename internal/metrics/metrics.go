// Package metrics exposes Prometheus collectors for node calls and tool
// requests, plus an optional standalone scrape endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	NodeCalls       *prometheus.CounterVec
	NodeRetries     prometheus.Counter
	ToolRequests    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers the ethquery collectors on the given registry. Passing nil
// uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		NodeCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ethquery_node_calls_total",
				Help: "Total node RPC calls by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		NodeRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ethquery_node_retries_total",
				Help: "Total node RPC calls retried after a transient failure",
			},
		),
		ToolRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ethquery_tool_requests_total",
				Help: "Total tool requests by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ethquery_request_duration_seconds",
				Help:    "Tool request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
	}
	reg.MustRegister(m.NodeCalls, m.NodeRetries, m.ToolRequests, m.RequestDuration)
	return m
}

// Nop returns collectors registered nowhere, for callers that do not scrape.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) ObserveTool(tool string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ToolRequests.WithLabelValues(tool, outcome).Inc()
	m.RequestDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}

// Serve blocks serving the Prometheus scrape endpoint on addr.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
