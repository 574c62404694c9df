package identity

import (
	"context"
	"testing"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/database/testdb"
	"ms-settlement/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOrProvisionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	bunDB := testdb.New(t)
	store := &Store{Bun: bunDB}

	first, err := store.ResolveOrProvision(ctx, "  Guest@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "guest@example.com", first.Email)
	assert.True(t, first.Guest)

	second, err := store.ResolveOrProvision(ctx, "guest@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	count, err := bunDB.NewSelect().Model((*models.User)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestResolveOrProvisionRejectsBadEmail(t *testing.T) {
	store := &Store{Bun: testdb.New(t)}
	_, err := store.ResolveOrProvision(context.Background(), "not-an-email")
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}
