package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	TicketValid   = "valid"
	TicketUsed    = "used"
	TicketRevoked = "revoked"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID                 string     `bun:"id,pk" json:"id"`
	OrderID            string     `bun:"order_id,notnull" json:"order_id"`
	EventID            string     `bun:"event_id,notnull" json:"event_id"`
	TierID             string     `bun:"tier_id,notnull" json:"tier_id"`
	HolderID           string     `bun:"holder_id,notnull" json:"holder_id"`
	Serial             string     `bun:"serial,notnull,unique" json:"serial"`
	Token              string     `bun:"token,notnull,unique" json:"token"`
	Hash               string     `bun:"hash,notnull" json:"-"`
	Status             string     `bun:"status,notnull" json:"status"`
	ForSale            bool       `bun:"for_sale,notnull" json:"for_sale"`
	ResalePriceCents   *int64     `bun:"resale_price_cents" json:"resale_price_cents,omitempty"`
	OriginalPriceCents int64      `bun:"original_price_cents,notnull" json:"original_price_cents"`
	IssuedAt           time.Time  `bun:"issued_at,notnull" json:"issued_at"`
	CheckedInAt        *time.Time `bun:"checked_in_at,nullzero" json:"checked_in_at,omitempty"`
}

const (
	RefundPending  = "pending"
	RefundApproved = "approved"
	RefundRejected = "rejected"
)

// RefundRequest is created by the holder and decided by the organizer.
type RefundRequest struct {
	bun.BaseModel `bun:"table:refund_requests"`

	ID          string    `bun:"id,pk" json:"id"`
	TicketID    string    `bun:"ticket_id,notnull,unique" json:"ticket_id"`
	OrderID     string    `bun:"order_id,notnull" json:"order_id"`
	EventID     string    `bun:"event_id,notnull" json:"event_id"`
	RequesterID string    `bun:"requester_id,notnull" json:"requester_id"`
	OrganizerID string    `bun:"organizer_id,notnull" json:"organizer_id"`
	Status      string    `bun:"status,notnull" json:"status"`
	Reason      string    `bun:"reason" json:"reason"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
}
