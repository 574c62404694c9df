package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	GroupPending   = "pending"
	GroupCompleted = "completed"
	GroupExpired   = "expired"

	ParticipantPending = "pending"
	ParticipantPaid    = "paid"
)

type GroupOrder struct {
	bun.BaseModel `bun:"table:group_orders"`

	ID                  string     `bun:"id,pk" json:"id"`
	EventID             string     `bun:"event_id,notnull" json:"event_id"`
	TierID              string     `bun:"tier_id,notnull" json:"tier_id"`
	CreatorID           string     `bun:"creator_id,notnull" json:"creator_id"`
	TicketCount         int        `bun:"ticket_count,notnull" json:"ticket_count"`
	PricePerTicketCents int64      `bun:"price_per_ticket_cents,notnull" json:"price_per_ticket_cents"`
	Currency            string     `bun:"currency,notnull" json:"currency"`
	ShareCode           string     `bun:"share_code,notnull,unique" json:"share_code"`
	Status              string     `bun:"status,notnull" json:"status"`
	ExpiresAt           time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt           time.Time  `bun:"created_at,notnull" json:"created_at"`
	CompletedAt         *time.Time `bun:"completed_at,nullzero" json:"completed_at,omitempty"`

	Participants []Participant `bun:"rel:has-many,join:id=group_order_id" json:"participants,omitempty"`
}

type Participant struct {
	bun.BaseModel `bun:"table:group_participants"`

	ID            string     `bun:"id,pk" json:"id"`
	GroupOrderID  string     `bun:"group_order_id,notnull,unique:group_email" json:"group_order_id"`
	Email         string     `bun:"email,notnull,unique:group_email" json:"email"`
	UserID        string     `bun:"user_id,nullzero" json:"user_id,omitempty"`
	AmountCents   int64      `bun:"amount_cents,notnull" json:"amount_cents"`
	Status        string     `bun:"status,notnull" json:"status"`
	PaidAt        *time.Time `bun:"paid_at,nullzero" json:"paid_at,omitempty"`
	CorrelationID string     `bun:"correlation_id,nullzero" json:"correlation_id,omitempty"`
	OrderID       string     `bun:"order_id,nullzero" json:"order_id,omitempty"`
}
