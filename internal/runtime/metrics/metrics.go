// Package metrics exposes Prometheus collectors for the comment pipeline and
// an in-process snapshot of the same counters. A nil *PipelineMetrics is
// valid and records nothing.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for consumed messages.
const (
	OutcomeAcked        = "acked"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeAckFailed    = "ack_failed"
)

// Component labels for connection metrics.
const (
	ComponentProducer = "producer"
	ComponentConsumer = "consumer"
)

// PipelineMetrics tracks publish, consume and broadcast statistics.
type PipelineMetrics struct {
	mu sync.RWMutex

	queues     map[string]*QueueMetrics
	reconnects map[string]uint64

	publishedTotal      *prometheus.CounterVec
	publishRetriesTotal *prometheus.CounterVec
	reconnectsTotal     *prometheus.CounterVec
	connected           *prometheus.GaugeVec
	consumedTotal       *prometheus.CounterVec
	broadcastFailures   *prometheus.CounterVec
	processingSeconds   *prometheus.HistogramVec
	messageAgeSeconds   *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// QueueMetrics holds the counters for one queue.
type QueueMetrics struct {
	Published         uint64    `json:"published"`
	PublishRetries    uint64    `json:"publish_retries"`
	Acked             uint64    `json:"acked"`
	DeadLettered      uint64    `json:"dead_lettered"`
	AckFailures       uint64    `json:"ack_failures"`
	BroadcastFailures uint64    `json:"broadcast_failures"`
	LastAckAt         time.Time `json:"last_ack_at,omitempty"`
	LastDeadLetterAt  time.Time `json:"last_dead_letter_at,omitempty"`
	LastUpdatedAt     time.Time `json:"last_updated_at"`
}

// Snapshot provides a point-in-time view of the pipeline metrics.
type Snapshot struct {
	Queues      map[string]*QueueMetrics `json:"queues"`
	Reconnects  map[string]uint64        `json:"reconnects"`
	CollectedAt time.Time                `json:"collected_at"`
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "commentflow",
			Subsystem: "pipeline",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "commentflow",
			Subsystem: "pipeline",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewPipelineMetrics creates the collectors. A nil registerer selects the
// Prometheus default registerer.
func NewPipelineMetrics(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PipelineMetrics{
		queues:              make(map[string]*QueueMetrics),
		reconnects:          make(map[string]uint64),
		registerer:          registerer,
		publishedTotal:      newCounterVec("published_total", "Comments published to the queue", []string{"queue"}),
		publishRetriesTotal: newCounterVec("publish_retries_total", "Publish attempts that failed and were retried", []string{"queue"}),
		reconnectsTotal:     newCounterVec("reconnect_attempts_total", "Broker reconnect attempts", []string{"component"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "commentflow",
			Subsystem: "pipeline",
			Name:      "broker_connected",
			Help:      "1 while the component holds an open broker channel",
		}, []string{"component"}),
		consumedTotal:     newCounterVec("consumed_total", "Messages consumed by outcome", []string{"queue", "outcome"}),
		broadcastFailures: newCounterVec("broadcast_failures_total", "Persisted comments that could not be broadcast", []string{"queue"}),
		processingSeconds: newHistogramVec("processing_seconds", "Time spent handling one message", prometheus.DefBuckets, []string{"queue", "outcome"}),
		messageAgeSeconds: newHistogramVec("message_age_seconds", "Time between publish and acknowledgement", []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60, 300}, []string{"queue"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *PipelineMetrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.publishedTotal,
		m.publishRetriesTotal,
		m.reconnectsTotal,
		m.connected,
		m.consumedTotal,
		m.broadcastFailures,
		m.processingSeconds,
		m.messageAgeSeconds,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *PipelineMetrics) Handler() http.Handler {
	if m != nil {
		if g, ok := m.registerer.(prometheus.Gatherer); ok {
			return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
		}
	}
	return promhttp.Handler()
}

func (m *PipelineMetrics) RecordPublished(queue string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(queue)
	q.Published++
	q.LastUpdatedAt = time.Now()
	m.publishedTotal.WithLabelValues(queue).Inc()
}

func (m *PipelineMetrics) RecordPublishRetry(queue string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(queue)
	q.PublishRetries++
	q.LastUpdatedAt = time.Now()
	m.publishRetriesTotal.WithLabelValues(queue).Inc()
}

func (m *PipelineMetrics) RecordReconnect(component string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reconnects[component]++
	m.reconnectsTotal.WithLabelValues(component).Inc()
}

func (m *PipelineMetrics) SetConnected(component string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.connected.WithLabelValues(component).Set(v)
}

// RecordAcked records a successfully persisted message. age is the time since
// the message was published; zero skips the age histogram.
func (m *PipelineMetrics) RecordAcked(queue string, took, age time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	q := m.queue(queue)
	q.Acked++
	q.LastAckAt = now
	q.LastUpdatedAt = now

	m.consumedTotal.WithLabelValues(queue, OutcomeAcked).Inc()
	m.processingSeconds.WithLabelValues(queue, OutcomeAcked).Observe(took.Seconds())
	if age > 0 {
		m.messageAgeSeconds.WithLabelValues(queue).Observe(age.Seconds())
	}
}

func (m *PipelineMetrics) RecordDeadLettered(queue string, took time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	q := m.queue(queue)
	q.DeadLettered++
	q.LastDeadLetterAt = now
	q.LastUpdatedAt = now

	m.consumedTotal.WithLabelValues(queue, OutcomeDeadLettered).Inc()
	m.processingSeconds.WithLabelValues(queue, OutcomeDeadLettered).Observe(took.Seconds())
}

// RecordAckFailure records a persisted message whose acknowledgement failed.
// The broker redelivers it, so it is neither acked nor dead-lettered.
func (m *PipelineMetrics) RecordAckFailure(queue string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(queue)
	q.AckFailures++
	q.LastUpdatedAt = time.Now()
	m.consumedTotal.WithLabelValues(queue, OutcomeAckFailed).Inc()
}

func (m *PipelineMetrics) RecordBroadcastFailure(queue string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queue(queue)
	q.BroadcastFailures++
	q.LastUpdatedAt = time.Now()
	m.broadcastFailures.WithLabelValues(queue).Inc()
}

// Snapshot returns a copy of the in-process counters.
func (m *PipelineMetrics) Snapshot() Snapshot {
	snap := Snapshot{
		Queues:      make(map[string]*QueueMetrics),
		Reconnects:  make(map[string]uint64),
		CollectedAt: time.Now(),
	}
	if m == nil {
		return snap
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, q := range m.queues {
		copied := *q
		snap.Queues[name] = &copied
	}
	for component, n := range m.reconnects {
		snap.Reconnects[component] = n
	}
	return snap
}

// Queue returns a copy of the metrics for one queue, or nil if none were recorded.
func (m *PipelineMetrics) Queue(queue string) *QueueMetrics {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if q, ok := m.queues[queue]; ok {
		copied := *q
		return &copied
	}
	return nil
}

func (m *PipelineMetrics) queue(name string) *QueueMetrics {
	if q, ok := m.queues[name]; ok {
		return q
	}
	q := &QueueMetrics{}
	m.queues[name] = q
	return q
}

// Reset clears all metrics.
func (m *PipelineMetrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queues = make(map[string]*QueueMetrics)
	m.reconnects = make(map[string]uint64)
	m.publishedTotal.Reset()
	m.publishRetriesTotal.Reset()
	m.reconnectsTotal.Reset()
	m.connected.Reset()
	m.consumedTotal.Reset()
	m.broadcastFailures.Reset()
	m.processingSeconds.Reset()
	m.messageAgeSeconds.Reset()
}
