package oneclaw

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus collectors. One Metrics may be
// shared by several clients.
type Metrics struct {
	calls     *prometheus.CounterVec
	requests  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	exchanges *prometheus.CounterVec
	payments  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oneclaw_calls_total",
				Help: "Logical calls by terminal outcome",
			},
			[]string{"method", "outcome"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oneclaw_wire_requests_total",
				Help: "HTTP requests sent, including retries",
			},
			[]string{"method", "code"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oneclaw_retries_total",
				Help: "Retries by reason",
			},
			[]string{"reason"},
		),
		exchanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oneclaw_token_exchanges_total",
				Help: "API key to bearer token exchanges",
			},
			[]string{"result"},
		),
		payments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oneclaw_payments_total",
				Help: "x402 payment negotiations by result",
			},
			[]string{"result"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oneclaw_call_duration_seconds",
				Help:    "Duration of logical calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method"},
		),
	}
}

func (m *Metrics) call(method string, outcome string, took time.Duration) {
	m.calls.WithLabelValues(method, outcome).Inc()
	m.duration.WithLabelValues(method).Observe(took.Seconds())
}

func (m *Metrics) request(method string, status int) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(method, code).Inc()
}

func (m *Metrics) retry(reason string) {
	m.retries.WithLabelValues(reason).Inc()
}

func (m *Metrics) exchange(result string) {
	m.exchanges.WithLabelValues(result).Inc()
}

func (m *Metrics) payment(result string) {
	m.payments.WithLabelValues(result).Inc()
}
