package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	UsecaseRequests    *prometheus.CounterVec
	UsecaseDuration    *prometheus.HistogramVec
	WebhookEvents      *prometheus.CounterVec
	StockCompensations prometheus.Counter
	GatewayDuration    *prometheus.HistogramVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg leaves them unregistered, which tests rely on.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UsecaseRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usecase_requests_total",
			Help: "Total number of use case invocations.",
		}, []string{"use_case", "outcome"}),
		UsecaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usecase_duration_seconds",
			Help:    "Duration of use case execution in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"use_case"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Payment webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		StockCompensations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_compensations_total",
			Help: "Stock decrements rolled back after a failed checkout.",
		}),
		GatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Latency of checkout session creation at the payment gateway.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route template and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route template.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg != nil {
		reg.MustRegister(m.UsecaseRequests, m.UsecaseDuration, m.WebhookEvents, m.StockCompensations,
			m.GatewayDuration, m.HTTPRequests, m.HTTPDuration)
	}
	return m
}

// Observe records one use case run. Safe on a nil receiver.
func (m *Metrics) Observe(useCase string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.UsecaseRequests.WithLabelValues(useCase, outcome).Inc()
	m.UsecaseDuration.WithLabelValues(useCase).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Webhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) Compensated(n int) {
	if m == nil || n == 0 {
		return
	}
	m.StockCompensations.Add(float64(n))
}

func (m *Metrics) Gateway(start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.GatewayDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// HTTP records one request. route must be the template, not the raw path.
func (m *Metrics) HTTP(method, route string, status int, start time.Time) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
}
