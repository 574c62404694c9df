package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors holds the Prometheus series exported by the settlement service.
// A nil *Collectors is valid and records nothing.
type Collectors struct {
	settlements   *prometheus.CounterVec
	ticketsIssued prometheus.Counter
	webhookEvents *prometheus.CounterVec
	notifications *prometheus.CounterVec
	groupFailures prometheus.Counter
}

// New registers the settlement collectors on reg.
func New(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		return nil
	}
	m := &Collectors{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_operations_total",
			Help: "Settlement attempts by path and outcome.",
		}, []string{"path", "outcome"}),
		ticketsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickets_issued_total",
			Help: "Tickets minted by the issuer.",
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_events_total",
			Help: "Inbound payment events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifier_deliveries_total",
			Help: "Ticket email dispatches by outcome.",
		}, []string{"outcome"}),
		groupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "group_participant_issuance_failures_total",
			Help: "Participant orders that failed to settle after a group completed.",
		}),
	}
	reg.MustRegister(m.settlements, m.ticketsIssued, m.webhookEvents, m.notifications, m.groupFailures)
	return m
}

func (m *Collectors) Settled(path, outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(path), normalizeLabel(outcome)).Inc()
}

func (m *Collectors) TicketsIssued(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ticketsIssued.Add(float64(n))
}

func (m *Collectors) PaymentEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (m *Collectors) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Collectors) GroupIssuanceFailure() {
	if m == nil {
		return
	}
	m.groupFailures.Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
