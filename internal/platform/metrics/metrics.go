package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the admission endpoint counters. A nil *Metrics is a no-op.
type Metrics struct {
	InvitationsIssued prometheus.Counter
	AccountsCreated   prometheus.Counter
	Rejections        *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		InvitationsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentgate_invitations_issued_total",
			Help: "Invitations issued through the invite endpoint",
		}),
		AccountsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "agentgate_accounts_created_total",
			Help: "Accounts created from accepted invitations",
		}),
		Rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_admission_rejections_total",
			Help: "Admission endpoint requests that did not succeed, by endpoint and error code",
		}, []string{"endpoint", "code"}),
	}
}

func (m *Metrics) IncInvitationsIssued() {
	if m == nil {
		return
	}
	m.InvitationsIssued.Inc()
}

func (m *Metrics) IncAccountsCreated() {
	if m == nil {
		return
	}
	m.AccountsCreated.Inc()
}

func (m *Metrics) IncRejection(endpoint, code string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(endpoint, code).Inc()
}
