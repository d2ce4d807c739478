package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds audit persistence counters. A nil *Metrics is a no-op.
type Metrics struct {
	Persisted       *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	QueueOverflow   prometheus.Counter
}

// NewMetrics registers audit metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		Persisted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_audit_events_persisted_total",
			Help: "Audit events written to the primary store",
		}, []string{"event_type"}),
		PersistFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_audit_persist_failures_total",
			Help: "Audit events that could not be written and were logged instead",
		}, []string{"event_type"}),
		QueueOverflow: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentgate_audit_queue_overflow_total",
			Help: "Audit events persisted inline because the queue was full",
		}),
	}
}

func (m *Metrics) IncPersisted(eventType EventType) {
	if m == nil {
		return
	}
	m.Persisted.WithLabelValues(string(eventType)).Inc()
}

func (m *Metrics) IncPersistFailure(eventType EventType) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(string(eventType)).Inc()
}

func (m *Metrics) IncQueueOverflow() {
	if m == nil {
		return
	}
	m.QueueOverflow.Inc()
}
