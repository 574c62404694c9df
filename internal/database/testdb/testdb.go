// Package testdb builds an in-memory SQLite ledger for package tests.
package testdb

import (
	"context"
	"database/sql"
	"testing"

	"ms-settlement/internal/models"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

var tables = []interface{}{
	(*models.User)(nil),
	(*models.Event)(nil),
	(*models.Tier)(nil),
	(*models.Order)(nil),
	(*models.OrderItem)(nil),
	(*models.Ticket)(nil),
	(*models.RefundRequest)(nil),
	(*models.GroupOrder)(nil),
	(*models.Participant)(nil),
	(*models.PromoCode)(nil),
}

// New returns a bun.DB over a private in-memory database with every ledger
// table created. The pool is pinned to one connection so all queries share it.
func New(t testing.TB) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	for _, model := range tables {
		if _, err := bunDB.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			t.Fatalf("Failed to create table for %T: %v", model, err)
		}
	}

	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}
