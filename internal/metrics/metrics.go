// Package metrics exposes Prometheus instrumentation for gate decisions.
// Labels are closed category sets; no label may ever carry a caller-derived
// value.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_decisions_total",
			Help: "Gate policy decisions by kind, action and outcome.",
		},
		[]string{"kind", "action", "outcome"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_deliveries_total",
			Help: "Private-message delivery attempts by kind and result.",
		},
		[]string{"kind", "result"},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_http_requests_total",
			Help: "HTTP requests by path template, method and status class.",
		},
		[]string{"path", "method", "status"},
	)
)

// RecordDecision counts one policy decision.
func RecordDecision(kind, action, outcome string) {
	decisionsTotal.WithLabelValues(kind, action, outcome).Inc()
}

// RecordDelivery counts one delivery attempt.
func RecordDelivery(kind, result string) {
	deliveriesTotal.WithLabelValues(kind, result).Inc()
}

// RecordRequest counts one HTTP request.
func RecordRequest(path, method, status string) {
	requestsTotal.WithLabelValues(path, method, status).Inc()
}
