package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK           = "ok"
	outcomeError        = "error"
	outcomeUnauthorized = "unauthorized"
	outcomeThrottled    = "throttled"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lendd",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "RPC requests handled, labelled by method and outcome.",
	}, []string{"method", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lendd",
		Subsystem: "rpc",
		Name:      "request_duration_seconds",
		Help:      "RPC request latency by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
)

func observeRequest(method, outcome string, elapsed time.Duration) {
	requestsTotal.WithLabelValues(method, outcome).Inc()
	requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
