package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	OrderPending   = "pending"
	OrderPaid      = "paid"
	OrderCompleted = "completed"
	OrderFailed    = "failed"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID            string     `bun:"id,pk" json:"id"`
	EventID       string     `bun:"event_id,notnull" json:"event_id"`
	UserID        string     `bun:"user_id,notnull" json:"user_id"`
	TotalCents    int64      `bun:"total_cents,notnull" json:"total_cents"`
	SubtotalCents int64      `bun:"subtotal_cents,notnull" json:"subtotal_cents"`
	DiscountCents int64      `bun:"discount_cents,notnull" json:"discount_cents"`
	FeeCents      int64      `bun:"fee_cents,notnull" json:"fee_cents"`
	Currency      string     `bun:"currency,notnull" json:"currency"`
	Status        string     `bun:"status,notnull" json:"status"`
	ShortCode     string     `bun:"short_code,notnull,unique" json:"short_code"`
	CorrelationID string     `bun:"correlation_id,nullzero,unique" json:"correlation_id,omitempty"`
	PromoCode     string     `bun:"promo_code,nullzero" json:"promo_code,omitempty"`
	GroupOrderID  string     `bun:"group_order_id,nullzero" json:"group_order_id,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull" json:"updated_at"`
	CompletedAt   *time.Time `bun:"completed_at,nullzero" json:"completed_at,omitempty"`

	Items []OrderItem `bun:"rel:has-many,join:id=order_id" json:"items,omitempty"`
}

// OrderItem is one {tier, quantity} line of an order.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID             string `bun:"id,pk" json:"id"`
	OrderID        string `bun:"order_id,notnull" json:"order_id"`
	TierID         string `bun:"tier_id,notnull" json:"tier_id"`
	Quantity       int    `bun:"quantity,notnull" json:"quantity"`
	UnitPriceCents int64  `bun:"unit_price_cents,notnull" json:"unit_price_cents"`
}

type LineItem struct {
	TierID   string `json:"tier_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,min=1,max=50"`
}
