package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the service. It is passed
// explicitly to the gateway client, the orchestrator, the fan-out consumer
// and the HTTP router.
type Metrics struct {
	// Gateway
	gatewayCallsTotal   *prometheus.CounterVec
	gatewayCallDuration *prometheus.HistogramVec

	// Orchestrator
	donationsTotal *prometheus.CounterVec

	// Fan-out
	fanoutActionsTotal *prometheus.CounterVec

	// Jobs
	staleExpiredTotal prometheus.Counter

	// HTTP
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		gatewayCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_calls_total",
				Help: "Total number of payment gateway calls by action and classified result",
			},
			[]string{"action", "result"},
		),
		gatewayCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_call_duration_seconds",
				Help:    "Duration of payment gateway calls in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
			},
			[]string{"action"},
		),
		donationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "donations_total",
				Help: "Total number of donation lifecycle outcomes",
			},
			[]string{"outcome"},
		),
		fanoutActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fanout_actions_total",
				Help: "Total number of fan-out actions by result",
			},
			[]string{"action", "result"},
		),
		staleExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "stale_pending_expired_total",
				Help: "Total number of pending donations expired by the sweep",
			},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5, 15},
			},
			[]string{"handler", "method"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
	}
}

// RecordGatewayCall records one gateway round trip.
func (m *Metrics) RecordGatewayCall(action, result string, seconds float64) {
	m.gatewayCallsTotal.WithLabelValues(action, result).Inc()
	m.gatewayCallDuration.WithLabelValues(action).Observe(seconds)
}

// RecordDonation records an orchestrator outcome.
func (m *Metrics) RecordDonation(outcome string) {
	m.donationsTotal.WithLabelValues(outcome).Inc()
}

// RecordFanoutAction records the result of an admin alert or courier push.
func (m *Metrics) RecordFanoutAction(action, result string) {
	m.fanoutActionsTotal.WithLabelValues(action, result).Inc()
}

// RecordStaleExpired adds n expired pending donations.
func (m *Metrics) RecordStaleExpired(n int) {
	m.staleExpiredTotal.Add(float64(n))
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, seconds float64) {
	m.httpRequestDuration.WithLabelValues(handler, method).Observe(seconds)
	m.httpRequestsTotal.WithLabelValues(handler, method, statusCodeToString(statusCode)).Inc()
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
