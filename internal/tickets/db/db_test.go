package db_test

import (
	"context"
	"testing"
	"time"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/database"
	"ms-settlement/internal/database/testdb"
	"ms-settlement/internal/models"
	"ms-settlement/internal/tickets/db"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTicket(orderID, serial string) models.Ticket {
	return models.Ticket{
		ID:                 uuid.NewString(),
		OrderID:            orderID,
		EventID:            "ev-1",
		TierID:             "ga",
		HolderID:           "u-1",
		Serial:             serial,
		Token:              uuid.NewString(),
		Hash:               "h",
		Status:             models.TicketValid,
		OriginalPriceCents: 6000,
		IssuedAt:           time.Now().UTC(),
	}
}

func TestInsertBatchAndCount(t *testing.T) {
	ctx := context.Background()
	store := &db.DB{Bun: testdb.New(t)}

	batch := []models.Ticket{newTicket("o-1", "AAAA0000-001"), newTicket("o-1", "AAAA0000-002")}
	require.NoError(t, store.InsertBatch(ctx, batch))

	n, err := store.CountByOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	listed, err := store.ListByOrder(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "AAAA0000-001", listed[0].Serial)

	total, err := store.CountIssued(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	other, err := store.CountIssued(ctx, "ev-9")
	require.NoError(t, err)
	assert.Equal(t, 0, other)
}

func TestInsertBatchRejectsDuplicateSerial(t *testing.T) {
	ctx := context.Background()
	store := &db.DB{Bun: testdb.New(t)}

	require.NoError(t, store.InsertBatch(ctx, []models.Ticket{newTicket("o-1", "AAAA0000-001")}))
	err := store.InsertBatch(ctx, []models.Ticket{newTicket("o-1", "AAAA0000-001")})
	assert.True(t, database.IsUniqueViolation(err))
}

func TestSetResaleOnlyTouchesValidTickets(t *testing.T) {
	ctx := context.Background()
	store := &db.DB{Bun: testdb.New(t)}
	tk := newTicket("o-1", "AAAA0000-001")
	require.NoError(t, store.InsertBatch(ctx, []models.Ticket{tk}))

	price := int64(4500)
	ok, err := store.SetResale(ctx, tk.ID, true, &price)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, got.ForSale)
	require.NotNil(t, got.ResalePriceCents)
	assert.Equal(t, int64(4500), *got.ResalePriceCents)

	ok, err = store.MarkUsed(ctx, tk.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetResale(ctx, tk.ID, false, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.MarkUsed(ctx, tk.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefundRequestUniquePerTicket(t *testing.T) {
	ctx := context.Background()
	store := &db.DB{Bun: testdb.New(t)}

	req := &models.RefundRequest{
		ID: uuid.NewString(), TicketID: "t-1", OrderID: "o-1", EventID: "ev-1",
		RequesterID: "u-1", OrganizerID: "org-1", Status: models.RefundPending, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateRefundRequest(ctx, req))

	exists, err := store.RefundExists(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, exists)

	dup := *req
	dup.ID = uuid.NewString()
	assert.True(t, database.IsUniqueViolation(store.CreateRefundRequest(ctx, &dup)))
}

func TestGetTicketNotFound(t *testing.T) {
	store := &db.DB{Bun: testdb.New(t)}
	_, err := store.GetTicket(context.Background(), "missing")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	_, err = store.GetByToken(context.Background(), "missing")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}
