// Package metrics holds the Prometheus collectors shared by the API and the
// worker. All methods are safe on a nil *Metrics, which disables collection.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "image_processor"

// Worker outcomes.
const (
	OutcomeCompleted    = "completed"
	OutcomeFailed       = "failed"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeStale        = "stale"
)

// Metrics groups the collectors of one process.
type Metrics struct {
	uploads           *prometheus.CounterVec   // by result: accepted, rejected, error
	dispatches        *prometheus.CounterVec   // by result: accepted, failed
	messages          *prometheus.CounterVec   // by outcome
	transformDuration *prometheus.HistogramVec // by filter
	tasksSubmitted    prometheus.Counter
	tasksFailed       prometheus.Counter
	tasksDropped      prometheus.Counter
	queueDepth        prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "uploads_total",
			Help:      "Uploads by result",
		}, []string{"result"}),

		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "requests_total",
			Help:      "Processing requests by result",
		}, []string{"result"}),

		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "messages_total",
			Help:      "Consumed processing messages by outcome",
		}, []string{"outcome"}),

		transformDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "transform_duration_seconds",
			Help:      "Time spent transforming one image",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"filter"}),

		tasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "background",
			Name:      "submitted_total",
			Help:      "Background tasks accepted by the queue",
		}),

		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "background",
			Name:      "failed_total",
			Help:      "Background tasks that returned an error",
		}),

		tasksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "background",
			Name:      "dropped_total",
			Help:      "Background tasks rejected because the queue was full",
		}),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "background",
			Name:      "queue_depth",
			Help:      "Background tasks waiting for a worker",
		}),
	}

	collectors := []prometheus.Collector{
		m.uploads, m.dispatches, m.messages, m.transformDuration,
		m.tasksSubmitted, m.tasksFailed, m.tasksDropped, m.queueDepth,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	return m, nil
}

func (m *Metrics) Upload(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}

func (m *Metrics) Dispatch(result string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(result).Inc()
}

// Message counts one consumed message by its final outcome.
func (m *Metrics) Message(outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
}

// ObserveTransform records how long one transform took.
func (m *Metrics) ObserveTransform(filter string, d time.Duration) {
	if m == nil {
		return
	}
	if filter == "" {
		filter = "none"
	}
	m.transformDuration.WithLabelValues(filter).Observe(d.Seconds())
}

func (m *Metrics) TaskSubmitted(depth int) {
	if m == nil {
		return
	}
	m.tasksSubmitted.Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) TaskFailed() {
	if m == nil {
		return
	}
	m.tasksFailed.Inc()
}

func (m *Metrics) TaskDropped() {
	if m == nil {
		return
	}
	m.tasksDropped.Inc()
}

func (m *Metrics) QueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// NewServer returns an HTTP server exposing g on /metrics.
func NewServer(addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
