// Package metrics holds the Prometheus collectors for async dispatch and
// queue consumption. A nil *Metrics is valid and records nothing.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded for processed messages.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeDecode  = "decode_error"
)

// Metrics tracks publishes, retries and runner activity.
type Metrics struct {
	mu sync.Mutex

	published     *prometheus.CounterVec
	failedQueue   *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	processed     *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	publishCount  *prometheus.HistogramVec
	duration      *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "asyncflow",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// New creates the collectors. They are not registered until Register is
// called. A nil registerer means prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:    registerer,
		published:     newCounterVec("async", "published_total", "Messages published to a queue by the async middleware", "queue"),
		failedQueue:   newCounterVec("async", "failed_total", "Messages moved to a failed queue after exhausting retries", "queue"),
		dropped:       newCounterVec("async", "dropped_total", "Messages dropped after exhausting retries with failed storage disabled", "queue"),
		publishCount:  newHistogramVec("async", "publish_count", "Publish count of envelopes when republished", []float64{1, 2, 3, 5, 10, 20}, "queue"),
		processed:     newCounterVec("runner", "processed_total", "Messages processed by a runner", "queue", "outcome"),
		cancellations: newCounterVec("runner", "cancellations_total", "Runner cancellations by policy", "queue", "policy"),
		duration:      newHistogramVec("runner", "message_duration_seconds", "Time spent handling one message", prometheus.DefBuckets, "queue"),
	}
}

// Register registers the collectors. Safe to call more than once.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.published,
		m.failedQueue,
		m.dropped,
		m.publishCount,
		m.processed,
		m.cancellations,
		m.duration,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// Published records a publish to queue with the envelope's new publish count.
func (m *Metrics) Published(queue string, publishCount int) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(queue).Inc()
	if publishCount > 1 {
		m.publishCount.WithLabelValues(queue).Observe(float64(publishCount))
	}
}

// MovedToFailed records a publish to a failed queue.
func (m *Metrics) MovedToFailed(queue string) {
	if m == nil {
		return
	}
	m.failedQueue.WithLabelValues(queue).Inc()
}

// Dropped records an exhausted message that was discarded.
func (m *Metrics) Dropped(queue string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(queue).Inc()
}

// Processed records one message handled by a runner.
func (m *Metrics) Processed(queue, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(queue, outcome).Inc()
	m.duration.WithLabelValues(queue).Observe(took.Seconds())
}

// Cancelled records a runner cancellation triggered by policy.
func (m *Metrics) Cancelled(queue, policy string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(queue, policy).Inc()
}
