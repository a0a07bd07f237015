// Package metrics exposes the gateway's Prometheus instrumentation:
// invocation counts, credential cache behavior, payload offloads and
// dispatch latency. All record functions are no-ops until Init runs, so
// library users who don't scrape pay nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the gateway's prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	invocationsTotal     *prometheus.CounterVec
	brokerExchangesTotal *prometheus.CounterVec
	credentialCacheHits  prometheus.Counter
	credentialCacheMiss  prometheus.Counter
	offloadsTotal        prometheus.Counter
	rehydrationsTotal    prometheus.Counter
	dispatchDuration     *prometheus.HistogramVec
}

// Dispatch latency buckets in milliseconds.
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var gatewayMetrics *Metrics

// Init initializes the metrics subsystem under the given namespace.
func Init(namespace string) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of outbound function invocations",
			},
			[]string{"target", "mode", "status"},
		),

		brokerExchangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broker_exchanges_total",
				Help:      "Total credential broker exchanges by result",
			},
			[]string{"result"},
		),

		credentialCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_cache_hits_total",
				Help:      "Credential cache hits",
			},
		),

		credentialCacheMiss: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_cache_misses_total",
				Help:      "Credential cache misses (expired or absent entries)",
			},
		),

		offloadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payload_offloads_total",
				Help:      "Payloads written to the blob store instead of sent inline",
			},
		),

		rehydrationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payload_rehydrations_total",
				Help:      "Offloaded payloads fetched back from the blob store",
			},
		),

		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_ms",
				Help:      "Dispatcher pipeline duration in milliseconds",
				Buckets:   defaultBuckets,
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.invocationsTotal,
		m.brokerExchangesTotal,
		m.credentialCacheHits,
		m.credentialCacheMiss,
		m.offloadsTotal,
		m.rehydrationsTotal,
		m.dispatchDuration,
	)

	gatewayMetrics = m
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	if gatewayMetrics == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(gatewayMetrics.registry, promhttp.HandlerOpts{})
}

// RecordInvocation counts one outbound invocation.
func RecordInvocation(target string, mode string, status string) {
	if gatewayMetrics == nil {
		return
	}
	gatewayMetrics.invocationsTotal.WithLabelValues(target, mode, status).Inc()
}

// BrokerExchange counts one credential exchange by result ("ok", "empty", "error").
func BrokerExchange(result string) {
	if gatewayMetrics == nil {
		return
	}
	gatewayMetrics.brokerExchangesTotal.WithLabelValues(result).Inc()
}

// CredentialCacheHit counts a cache hit.
func CredentialCacheHit() {
	if gatewayMetrics == nil {
		return
	}
	gatewayMetrics.credentialCacheHits.Inc()
}

// CredentialCacheMiss counts a cache miss.
func CredentialCacheMiss() {
	if gatewayMetrics == nil {
		return
	}
	gatewayMetrics.credentialCacheMiss.Inc()
}

// RecordOffload counts a payload written to the blob store.
func RecordOffload() {
	if gatewayMetrics == nil {
		return
	}
	gatewayMetrics.offloadsTotal.Inc()
}

// RecordRehydration counts an offloaded payload fetched back.
func RecordRehydration() {
	if gatewayMetrics == nil {
		return
	}
	gatewayMetrics.rehydrationsTotal.Inc()
}

// ObserveDispatch records a dispatcher pipeline duration.
func ObserveDispatch(outcome string, d time.Duration) {
	if gatewayMetrics == nil {
		return
	}
	gatewayMetrics.dispatchDuration.WithLabelValues(outcome).Observe(float64(d.Milliseconds()))
}
