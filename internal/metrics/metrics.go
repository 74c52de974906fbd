package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the case desk engine. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Status transitions by case kind and target status
	Transitions *prometheus.CounterVec

	// Claim attempts by outcome: "won", "lost"
	Claims *prometheus.CounterVec

	// Escalation attempts by outcome: "created", "not_eligible", "already_escalated"
	Escalations *prometheus.CounterVec

	// Messages posted by kind
	Messages *prometheus.CounterVec

	// Engine operation latency by operation name
	OperationLatency *prometheus.HistogramVec
}

// New registers all engine metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kipdesk_case_transitions_total",
			Help: "Case status transitions by kind and target status",
		}, []string{"kind", "to"}),

		Claims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kipdesk_case_claims_total",
			Help: "Claim attempts on forwarded cases by outcome",
		}, []string{"outcome"}),

		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kipdesk_escalations_total",
			Help: "Objection escalation attempts by outcome",
		}, []string{"outcome"}),

		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kipdesk_messages_total",
			Help: "Thread messages appended by kind",
		}, []string{"kind"}),

		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kipdesk_operation_duration_seconds",
			Help:    "Duration of engine operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"op"}),
	}
}

func (m *Metrics) IncTransition(kind, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(kind, to).Inc()
	}
}

func (m *Metrics) IncClaim(outcome string) {
	if m != nil {
		m.Claims.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncEscalation(outcome string) {
	if m != nil {
		m.Escalations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncMessage(kind string) {
	if m != nil {
		m.Messages.WithLabelValues(kind).Inc()
	}
}

// ObserveOperation records how long an engine operation took.
func (m *Metrics) ObserveOperation(op string, d time.Duration) {
	if m != nil {
		m.OperationLatency.WithLabelValues(op).Observe(d.Seconds())
	}
}
