package serv

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "sqlconsole"

// metrics holds the service collectors. A disabled metrics value has a nil
// registry and every method is a no-op.
type metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestSeconds  *prometheus.HistogramVec
	actions         *prometheus.CounterVec
	guardRejections prometheus.Counter
}

func newMetrics(enabled bool) *metrics {
	if !enabled {
		return &metrics{}
	}

	m := &metrics{registry: prometheus.NewRegistry()}
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m.registry.MustRegister(collectors.NewGoCollector())

	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})

	m.requestSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "http_request_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   []float64{.005, .025, .1, .5, 1, 5, 30, 120, 600, 3600},
	}, []string{"route"})

	m.actions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "query_actions_total",
		Help:      "Console actions by action and outcome.",
	}, []string{"action", "outcome"})

	m.guardRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "guard_rejections_total",
		Help:      "Requests rejected by the production guard.",
	})

	m.registry.MustRegister(m.requests, m.requestSeconds, m.actions, m.guardRejections)
	return m
}

func (m *metrics) enabled() bool {
	return m.registry != nil
}

func (m *metrics) observeRequest(route string, code int, seconds float64) {
	if !m.enabled() {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.requestSeconds.WithLabelValues(route).Observe(seconds)
}

func (m *metrics) observeAction(action, outcome string) {
	if !m.enabled() {
		return
	}
	m.actions.WithLabelValues(action, outcome).Inc()
}

func (m *metrics) guardRejected() {
	if !m.enabled() {
		return
	}
	m.guardRejections.Inc()
}

// handler returns the Prometheus scrape handler
func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
