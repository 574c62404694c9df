package tickets

import (
	"context"
	"errors"
	"testing"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	existing int
	inserted []models.Ticket
	failWith error
}

func (m *memStore) CountByOrder(ctx context.Context, orderID string) (int, error) {
	return m.existing, nil
}

func (m *memStore) InsertBatch(ctx context.Context, tickets []models.Ticket) error {
	if m.failWith != nil {
		return m.failWith
	}
	m.inserted = append(m.inserted, tickets...)
	return nil
}

func newIssuer(t *testing.T) *Issuer {
	i, err := NewIssuer("test-secret")
	require.NoError(t, err)
	return i
}

func TestIssueSerialsSpanLineItems(t *testing.T) {
	issuer := newIssuer(t)
	store := &memStore{}
	order := &models.Order{ID: "o-1", EventID: "ev-1", UserID: "u-1", ShortCode: "ABCD1234"}
	items := []models.OrderItem{
		{TierID: "x", Quantity: 2, UnitPriceCents: 2500},
		{TierID: "y", Quantity: 1, UnitPriceCents: 6000},
	}

	tickets, err := issuer.Issue(context.Background(), store, order, items)
	require.NoError(t, err)
	require.Len(t, tickets, 3)

	assert.Equal(t, "ABCD1234-001", tickets[0].Serial)
	assert.Equal(t, "ABCD1234-002", tickets[1].Serial)
	assert.Equal(t, "ABCD1234-003", tickets[2].Serial)
	assert.Equal(t, "y", tickets[2].TierID)
	assert.Equal(t, int64(6000), tickets[2].OriginalPriceCents)

	tokens := map[string]bool{}
	for _, tk := range tickets {
		assert.Equal(t, models.TicketValid, tk.Status)
		assert.Equal(t, "u-1", tk.HolderID)
		assert.True(t, issuer.VerifyHash(&tk))
		assert.Len(t, tk.Token, 43)
		tokens[tk.Token] = true
	}
	assert.Len(t, tokens, 3)
	assert.Len(t, store.inserted, 3)
}

func TestIssueContinuesFromExistingCount(t *testing.T) {
	store := &memStore{existing: 4}
	order := &models.Order{ID: "o-1", EventID: "ev-1", ShortCode: "ZZZZ0000"}
	tickets, err := newIssuer(t).Issue(context.Background(), store, order, []models.OrderItem{{TierID: "x", Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, "ZZZZ0000-005", tickets[0].Serial)
}

func TestIssueFailsAsWhole(t *testing.T) {
	store := &memStore{failWith: errors.New("disk full")}
	order := &models.Order{ID: "o-1", EventID: "ev-1", ShortCode: "ZZZZ0000"}
	tickets, err := newIssuer(t).Issue(context.Background(), store, order, []models.OrderItem{{TierID: "x", Quantity: 2}})
	assert.Error(t, err)
	assert.Nil(t, tickets)
	assert.Empty(t, store.inserted)
}

func TestIssueRequiresQuantity(t *testing.T) {
	order := &models.Order{ID: "o-1", EventID: "ev-1", ShortCode: "ZZZZ0000"}
	_, err := newIssuer(t).Issue(context.Background(), &memStore{}, order, nil)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestHashDependsOnSecretAndEvent(t *testing.T) {
	a := newIssuer(t)
	b, err := NewIssuer("other-secret")
	require.NoError(t, err)

	assert.Equal(t, a.Hash("S-001", "ev-1"), a.Hash("S-001", "ev-1"))
	assert.NotEqual(t, a.Hash("S-001", "ev-1"), a.Hash("S-001", "ev-2"))
	assert.NotEqual(t, a.Hash("S-001", "ev-1"), b.Hash("S-001", "ev-1"))

	tk := models.Ticket{Serial: "S-001", EventID: "ev-1", Hash: a.Hash("S-001", "ev-1")}
	assert.True(t, a.VerifyHash(&tk))
	tk.EventID = "ev-2"
	assert.False(t, a.VerifyHash(&tk))

	_, err = NewIssuer("")
	assert.Error(t, err)
}
