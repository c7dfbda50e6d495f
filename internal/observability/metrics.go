package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blkio",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "blkio",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blkio",
			Subsystem: "client",
			Name:      "dispatch_total",
			Help:      "Requests handed to the transport engine.",
		},
		[]string{"op", "mode", "outcome"},
	)
	completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blkio",
			Subsystem: "client",
			Name:      "completions_total",
			Help:      "Completions delivered to the caller callback.",
		},
		[]string{"op", "reason", "payload"},
	)
	targetRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blkio",
			Subsystem: "target",
			Name:      "requests_total",
			Help:      "Requests served by the target.",
		},
		[]string{"node", "op", "status"},
	)
	targetDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "blkio",
			Subsystem: "target",
			Name:      "request_duration_seconds",
			Help:      "Target request service time in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "op", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			dispatches, completions,
			targetRequests, targetDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordDispatch counts one request handed to (or rejected before) the engine.
func RecordDispatch(op, mode, outcome string) {
	RegisterMetrics()
	dispatches.WithLabelValues(op, mode, outcome).Inc()
}

func RecordCompletion(op, reason, payload string) {
	RegisterMetrics()
	completions.WithLabelValues(op, reason, payload).Inc()
}

func RecordTargetRequest(node, op, status string, duration time.Duration) {
	RegisterMetrics()
	targetRequests.WithLabelValues(node, op, status).Inc()
	targetDuration.WithLabelValues(node, op, status).Observe(duration.Seconds())
}
