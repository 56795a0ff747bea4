// Package metrics holds the Prometheus collectors shared by the HTTP layer
// and the version store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_config_http_requests_total",
		Help: "HTTP requests served, by method, route pattern and status code.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edge_config_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	storeOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_config_store_operations_total",
		Help: "Version store operations by namespace, operation and result.",
	}, []string{"namespace", "op", "result"})
)

// ObserveRequest records one served HTTP request.
func ObserveRequest(method, route, status string, seconds float64) {
	httpRequests.WithLabelValues(method, route, status).Inc()
	httpDuration.WithLabelValues(method, route).Observe(seconds)
}

// Classifier maps an operation error to a short result label.
type Classifier func(error) string

// ObserveStoreOp records one store operation outcome.
func ObserveStoreOp(namespace, op string, err error, classify Classifier) {
	result := "ok"
	if err != nil {
		result = "error"
		if classify != nil {
			result = classify(err)
		}
	}
	storeOps.WithLabelValues(namespace, op, result).Inc()
}
