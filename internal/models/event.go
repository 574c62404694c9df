package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID          string     `bun:"id,pk" json:"id"`
	OrganizerID string     `bun:"organizer_id,notnull" json:"organizer_id"`
	Name        string     `bun:"name,notnull" json:"name"`
	StartsAt    time.Time  `bun:"starts_at,notnull" json:"starts_at"`
	EndsAt      *time.Time `bun:"ends_at,nullzero" json:"ends_at,omitempty"`
	Currency    string     `bun:"currency,notnull" json:"currency"`
	Plan        string     `bun:"plan,notnull" json:"plan"`
}

type Tier struct {
	bun.BaseModel `bun:"table:tiers"`

	ID         string `bun:"id,pk" json:"id"`
	EventID    string `bun:"event_id,notnull" json:"event_id"`
	Name       string `bun:"name,notnull" json:"name"`
	PriceCents int64  `bun:"price_cents,notnull" json:"price_cents"`
	Quota      int    `bun:"quota,notnull" json:"quota"`
}
