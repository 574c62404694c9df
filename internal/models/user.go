package models

import (
	"time"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID        string    `bun:"id,pk" json:"id"`
	Email     string    `bun:"email,unique,notnull" json:"email"`
	Guest     bool      `bun:"guest,notnull" json:"guest"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}
