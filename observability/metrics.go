package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OutcomeSuccess labels successful authentications
const OutcomeSuccess = "success"

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	authAttempts  *prometheus.CounterVec
	loginOutcomes *prometheus.CounterVec
	keyFetches    *prometheus.CounterVec
}

// NewMetrics registers the collectors on a dedicated registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navigator_auth",
			Name:      "request_authentications_total",
			Help:      "Authorization header checks by backend and outcome.",
		}, []string{"backend", "outcome"}),
		loginOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navigator_auth",
			Name:      "login_callbacks_total",
			Help:      "OIDC login callbacks by backend and outcome.",
		}, []string{"backend", "outcome"}),
		keyFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navigator_auth",
			Name:      "signing_key_fetches_total",
			Help:      "Signing key set fetches by issuer, forced flag and result.",
		}, []string{"issuer", "forced", "result"}),
	}
	m.registry.MustRegister(
		m.authAttempts,
		m.loginOutcomes,
		m.keyFetches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveAuthentication counts one interceptor decision
func (m *Metrics) ObserveAuthentication(backend, outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(backend, outcome).Inc()
}

// ObserveLogin counts one callback outcome
func (m *Metrics) ObserveLogin(backend, outcome string) {
	if m == nil {
		return
	}
	m.loginOutcomes.WithLabelValues(backend, outcome).Inc()
}

// KeySetFetched implements jwks.Recorder
func (m *Metrics) KeySetFetched(issuer string, forced bool, err error) {
	if m == nil {
		return
	}
	result := OutcomeSuccess
	if err != nil {
		result = "error"
	}
	m.keyFetches.WithLabelValues(issuer, strconv.FormatBool(forced), result).Inc()
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
