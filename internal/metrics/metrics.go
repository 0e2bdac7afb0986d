// Package metrics holds the prometheus collectors for the whitelist service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks request outcomes, login decisions and membership size.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	Logins          *prometheus.CounterVec
	Members         *prometheus.GaugeVec
	Reloads         *prometheus.CounterVec
}

// New registers all collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "whitelister_requests_total",
			Help: "Whitelist requests by space and outcome",
		}, []string{"space", "status", "degraded"}),
		RequestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "whitelister_request_duration_seconds",
			Help:    "Time to process one whitelist request, lookup included",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "whitelister_login_checks_total",
			Help: "Login checks by space and decision",
		}, []string{"space", "decision"}),
		Members: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "whitelister_members",
			Help: "Current members by space",
		}, []string{"space"}),
		Reloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "whitelister_reloads_total",
			Help: "Configuration reloads by result",
		}, []string{"result"}),
	}
}

// ObserveRequest records one processed request.
// Call with time.Now() at the start of the request.
func (m *Metrics) ObserveRequest(space, status string, degraded bool, start time.Time) {
	if m == nil {
		return
	}
	d := "false"
	if degraded {
		d = "true"
	}
	m.Requests.WithLabelValues(space, status, d).Inc()
	m.RequestDuration.Observe(time.Since(start).Seconds())
}

// ObserveLogin records one login decision
func (m *Metrics) ObserveLogin(space string, allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.Logins.WithLabelValues(space, decision).Inc()
}

// SetMembers updates the membership gauges
func (m *Metrics) SetMembers(java, bedrock int) {
	if m == nil {
		return
	}
	m.Members.WithLabelValues("java").Set(float64(java))
	m.Members.WithLabelValues("bedrock").Set(float64(bedrock))
}

// IncrementReload records a reload attempt
func (m *Metrics) IncrementReload(ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.Reloads.WithLabelValues(result).Inc()
}
