package catalog

import (
	"context"
	"testing"
	"time"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/database/testdb"
	"ms-settlement/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveEnd(t *testing.T) {
	start := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)

	assert.Equal(t, end, EffectiveEnd(&models.Event{StartsAt: start, EndsAt: &end}))
	assert.Equal(t, start.Add(6*time.Hour), EffectiveEnd(&models.Event{StartsAt: start}))
}

func TestTiersMustBelongToEvent(t *testing.T) {
	ctx := context.Background()
	bunDB := testdb.New(t)
	store := &Store{Bun: bunDB}

	_, err := bunDB.NewInsert().Model(&[]models.Tier{
		{ID: "ga", EventID: "ev-1", Name: "General", PriceCents: 2500, Quota: 100},
		{ID: "vip", EventID: "ev-1", Name: "VIP", PriceCents: 9000, Quota: 10},
		{ID: "other", EventID: "ev-2", Name: "Other", PriceCents: 100, Quota: 10},
	}).Exec(ctx)
	require.NoError(t, err)

	tiers, err := store.Tiers(ctx, "ev-1", []string{"ga", "vip"})
	require.NoError(t, err)
	assert.Len(t, tiers, 2)
	assert.Equal(t, int64(9000), tiers["vip"].PriceCents)

	_, err = store.Tiers(ctx, "ev-1", []string{"ga", "other"})
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestEventNotFound(t *testing.T) {
	store := &Store{Bun: testdb.New(t)}
	_, err := store.Event(context.Background(), "missing")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}
