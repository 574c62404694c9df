package models

type PaymentEventKind string

const (
	PaymentUnknown   PaymentEventKind = "unknown"
	PaymentSucceeded PaymentEventKind = "succeeded"
	PaymentFailed    PaymentEventKind = "failed"
)

// PaymentEvent is the normalised form of an inbound payment provider event.
type PaymentEvent struct {
	ID            string           `json:"id"`
	Type          string           `json:"type"`
	Kind          PaymentEventKind `json:"kind"`
	CorrelationID string           `json:"correlation_id"`
	AmountCents   int64            `json:"amount_cents"`
	OrderID       string           `json:"order_id,omitempty"`
	GroupOrderID  string           `json:"group_order_id,omitempty"`
	ParticipantID string           `json:"participant_id,omitempty"`
	Email         string           `json:"email,omitempty"`
}

// IsGroup reports whether the payment belongs to a group participant.
func (e PaymentEvent) IsGroup() bool {
	return e.GroupOrderID != "" || e.ParticipantID != ""
}
