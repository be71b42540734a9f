package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshgate",
			Subsystem: "port",
			Name:      "events_published_total",
			Help:      "Events classified and published to the bus.",
		},
		[]string{"port", "kind"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshgate",
			Subsystem: "port",
			Name:      "decode_errors_total",
			Help:      "Binary frames dropped because they did not decode to an event.",
		},
		[]string{"port"},
	)
	resyncBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshgate",
			Subsystem: "framing",
			Name:      "resync_bytes_total",
			Help:      "Bytes discarded resynchronizing after corrupt length prefixes.",
		},
		[]string{"port"},
	)
	droppedLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshgate",
			Subsystem: "framing",
			Name:      "dropped_lines_total",
			Help:      "Malformed JSON lines discarded by the demultiplexer.",
		},
		[]string{"port"},
	)
	portReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshgate",
			Subsystem: "port",
			Name:      "reconnects_total",
			Help:      "Serial sessions ended by open or read failure.",
		},
		[]string{"port"},
	)
	busDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meshgate",
			Subsystem: "bus",
			Name:      "depth",
			Help:      "Events queued on the bus awaiting distribution.",
		},
	)
	subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meshgate",
			Subsystem: "feed",
			Name:      "subscribers",
			Help:      "Currently connected TCP subscribers.",
		},
	)
	deliveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meshgate",
			Subsystem: "feed",
			Name:      "deliveries_total",
			Help:      "Event lines successfully written to subscribers.",
		},
	)
	subscribersPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meshgate",
			Subsystem: "feed",
			Name:      "subscribers_pruned_total",
			Help:      "Subscribers removed after a failed write.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meshgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			eventsPublished, decodeErrors, resyncBytes, droppedLines,
			portReconnects, busDepth, subscribers, deliveries,
			subscribersPruned, httpRequests, httpDuration,
		)
	})
}

func RecordEventPublished(port, kind string) {
	RegisterMetrics()
	eventsPublished.WithLabelValues(port, kind).Inc()
}

func RecordDecodeError(port string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(port).Inc()
}

func AddResyncBytes(port string, n uint64) {
	if n == 0 {
		return
	}
	RegisterMetrics()
	resyncBytes.WithLabelValues(port).Add(float64(n))
}

func AddDroppedLines(port string, n uint64) {
	if n == 0 {
		return
	}
	RegisterMetrics()
	droppedLines.WithLabelValues(port).Add(float64(n))
}

func RecordPortReconnect(port string) {
	RegisterMetrics()
	portReconnects.WithLabelValues(port).Inc()
}

func SetBusDepth(n int) {
	RegisterMetrics()
	busDepth.Set(float64(n))
}

func SetSubscribers(n int) {
	RegisterMetrics()
	subscribers.Set(float64(n))
}

func RecordDelivery() {
	RegisterMetrics()
	deliveries.Inc()
}

func RecordSubscriberPruned() {
	RegisterMetrics()
	subscribersPruned.Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
