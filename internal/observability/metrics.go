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
			Namespace: "setl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "setl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	workerGenerations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "setl",
			Subsystem: "worker",
			Name:      "generations_total",
			Help:      "Generations completed by a worker.",
		},
		[]string{"rank"},
	)
	workerGenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "setl",
			Subsystem: "worker",
			Name:      "generation_seconds",
			Help:      "Search, evolve and exchange time of one generation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"rank"},
	)
	haloRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "setl",
			Subsystem: "halo",
			Name:      "rows_total",
			Help:      "Halo rows sent by a worker.",
		},
		[]string{"rank", "direction"},
	)
	matches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "setl",
			Name:      "matches_total",
			Help:      "Pattern matches recorded by a worker.",
		},
		[]string{"rank"},
	)
	transportMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "setl",
			Subsystem: "transport",
			Name:      "messages_total",
			Help:      "Messages sent over the worker mesh.",
		},
		[]string{"kind"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			workerGenerations,
			workerGenerationDuration,
			haloRows,
			matches,
			transportMessages,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordGeneration(rank int, duration time.Duration) {
	RegisterMetrics()
	rankLabel := strconv.Itoa(rank)
	workerGenerations.WithLabelValues(rankLabel).Inc()
	workerGenerationDuration.WithLabelValues(rankLabel).Observe(duration.Seconds())
}

// RecordHaloRow counts one row shipped; direction is "down" or "up".
func RecordHaloRow(rank int, direction string) {
	RegisterMetrics()
	haloRows.WithLabelValues(strconv.Itoa(rank), direction).Inc()
}

func RecordMatches(rank, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	matches.WithLabelValues(strconv.Itoa(rank)).Add(float64(n))
}

func RecordTransportMessage(kind string) {
	RegisterMetrics()
	transportMessages.WithLabelValues(kind).Inc()
}
