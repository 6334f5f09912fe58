package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kvdown"

// Metrics describe task throughput. A nil *Metrics records nothing.
type Metrics struct {
	submitted *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
}

// NewMetrics creates the task metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "submitted_total",
			Help:      "Tasks handed to the dispatcher.",
		}, []string{"kind"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "completed_total",
			Help:      "Tasks whose completion ran on the loop.",
		}, []string{"kind"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "failed_total",
			Help:      "Tasks that completed with an error.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "execute_seconds",
			Help:      "Time spent in the execute phase.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"kind"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "in_flight",
			Help:      "Tasks submitted but not yet completed.",
		}),
	}
	reg.MustRegister(m.submitted, m.completed, m.failed, m.duration, m.inFlight)
	return m
}

func (m *Metrics) taskSubmitted(kind string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(kind).Inc()
	m.inFlight.Inc()
}

func (m *Metrics) taskExecuted(kind string, took time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Metrics) taskCompleted(kind string, err error) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(kind).Inc()
	if err != nil {
		m.failed.WithLabelValues(kind).Inc()
	}
	m.inFlight.Dec()
}
