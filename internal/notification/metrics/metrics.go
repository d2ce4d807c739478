package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers inline dispatch and the recovery sweep. A nil *Metrics
// records nothing.
type Metrics struct {
	Attempts      *prometheus.CounterVec
	Sends         *prometheus.CounterVec
	SendDuration  prometheus.Histogram
	FailedRecords prometheus.Counter
	SweepRuns     *prometheus.CounterVec
	SweepMessages *prometheus.CounterVec
	SweepDuration prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_notification_attempts_total",
			Help: "Transport attempts by template kind and outcome",
		}, []string{"kind", "outcome"}),
		Sends: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_notification_sends_total",
			Help: "Inline sends by template kind and final outcome",
		}, []string{"kind", "outcome"}),
		SendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentgate_notification_send_duration_seconds",
			Help:    "Wall-clock time of inline sends including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),
		FailedRecords: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentgate_notification_failed_records_total",
			Help: "Failed notification records persisted for the sweep",
		}),
		SweepRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_notification_sweep_runs_total",
			Help: "Sweep invocations by outcome",
		}, []string{"outcome"}),
		SweepMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_notification_sweep_messages_total",
			Help: "Messages handled by the sweep by outcome",
		}, []string{"outcome"}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentgate_notification_sweep_duration_seconds",
			Help:    "Duration of sweep invocations",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObserveAttempt(kind string, err error) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(kind, outcome(err)).Inc()
}

func (m *Metrics) ObserveSend(kind string, delivered bool, seconds float64) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	m.Sends.WithLabelValues(kind, result).Inc()
	m.SendDuration.Observe(seconds)
}

func (m *Metrics) IncFailedRecords() {
	if m == nil {
		return
	}
	m.FailedRecords.Inc()
}

func (m *Metrics) ObserveSweep(err error, claimed, delivered, failed int, seconds float64) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(outcome(err)).Inc()
	m.SweepMessages.WithLabelValues("claimed").Add(float64(claimed))
	m.SweepMessages.WithLabelValues("delivered").Add(float64(delivered))
	m.SweepMessages.WithLabelValues("failed").Add(float64(failed))
	m.SweepDuration.Observe(seconds)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
