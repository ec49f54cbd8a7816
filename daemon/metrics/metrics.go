// Package metrics exposes the router's and AI channel manager's rolling
// counters (spec.md §4.6 "Metrics surfaced: total requests, success rate,
// average response time") as Prometheus collectors, registered on a
// private registry so the gateway binary controls exactly what is served
// at /metrics rather than polluting the global default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"

	"github.com/mcp-gateway/gateway/daemon/ai"
	"github.com/mcp-gateway/gateway/daemon/router"
)

// Registry bundles the collectors the gateway exports and implements both
// router.MetricsSink and ai.MetricsSink so a single value can be handed to
// Router.SetMetricsSink and Manager.SetMetricsSink.
type Registry struct {
	reg *prometheus.Registry

	dispatchTotal    *prometheus.CounterVec
	dispatchLatency  *prometheus.HistogramVec
	leaseTotal       *prometheus.CounterVec
}

// New builds a Registry with all collectors registered.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcp_gateway",
		Subsystem: "router",
		Name:      "dispatch_total",
		Help:      "Total router dispatch attempts by template, strategy, and outcome.",
	}, []string{"template", "strategy", "outcome"})

	r.dispatchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mcp_gateway",
		Subsystem: "router",
		Name:      "dispatch_latency_seconds",
		Help:      "Dispatch round-trip latency by template.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"template"})

	r.leaseTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcp_gateway",
		Subsystem: "ai",
		Name:      "lease_total",
		Help:      "Total AI channel lease outcomes by channel, error class, and outcome.",
	}, []string{"channel", "class", "outcome"})

	r.reg.MustRegister(r.dispatchTotal, r.dispatchLatency, r.leaseTotal)
	return r
}

// ObserveDispatch implements router.MetricsSink.
func (r *Registry) ObserveDispatch(templateName string, strategy router.Strategy, success bool, latencyNS int64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.dispatchTotal.WithLabelValues(templateName, string(strategy), outcome).Inc()
	r.dispatchLatency.WithLabelValues(templateName).Observe(float64(latencyNS) / 1e9)
}

// ObserveLease implements ai.MetricsSink.
func (r *Registry) ObserveLease(channelID string, class ai.ErrorClass, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.leaseTotal.WithLabelValues(channelID, string(class), outcome).Inc()
}

// Handler returns the http.Handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
