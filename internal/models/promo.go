package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

// PromoCode values: percentage codes hold a percent, fixed codes hold minor units.
type PromoCode struct {
	bun.BaseModel `bun:"table:promo_codes"`

	Code          string     `bun:"code,pk" json:"code"`
	DiscountType  string     `bun:"discount_type,notnull" json:"discount_type"`
	DiscountValue float64    `bun:"discount_value,notnull" json:"discount_value"`
	EventID       string     `bun:"event_id,nullzero" json:"event_id,omitempty"`
	UsageCount    int        `bun:"usage_count,notnull" json:"usage_count"`
	UsageLimit    *int       `bun:"usage_limit" json:"usage_limit,omitempty"`
	StartsAt      *time.Time `bun:"starts_at,nullzero" json:"starts_at,omitempty"`
	ExpiresAt     *time.Time `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
	Active        bool       `bun:"active,notnull" json:"active"`
}
