package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions        *prometheus.CounterVec
	StoreFailures    *prometheus.CounterVec
	RecordsPurged    prometheus.Counter
	DecisionDuration prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_ratelimit_decisions_total",
			Help: "Admission decisions by policy and outcome",
		}, []string{"policy", "outcome"}),
		StoreFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_ratelimit_store_failures_total",
			Help: "Window store failures by policy and resulting mode",
		}, []string{"policy", "mode"}),
		RecordsPurged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentgate_ratelimit_records_purged_total",
			Help: "Elapsed rate limit records removed by purge runs",
		}),
		DecisionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentgate_ratelimit_decision_duration_seconds",
			Help:    "Latency of check-and-consume calls",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
	}
}

func (m *Metrics) ObserveDecision(policy string, allowed bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.Decisions.WithLabelValues(policy, outcome).Inc()
	m.DecisionDuration.Observe(seconds)
}

func (m *Metrics) IncStoreFailure(policy string, failOpen bool) {
	if m == nil {
		return
	}
	mode := "closed"
	if failOpen {
		mode = "open"
	}
	m.StoreFailures.WithLabelValues(policy, mode).Inc()
}

func (m *Metrics) AddPurged(n int64) {
	if m == nil {
		return
	}
	m.RecordsPurged.Add(float64(n))
}
