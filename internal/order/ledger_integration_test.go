//go:build integration

package order

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ms-settlement/internal/config"
	"ms-settlement/internal/database"
	"ms-settlement/internal/database/migrations"
	"ms-settlement/internal/logger"
	"ms-settlement/internal/models"
	orderdb "ms-settlement/internal/order/db"
	"ms-settlement/internal/tickets"
	ticketdb "ms-settlement/internal/tickets/db"
	"ms-settlement/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
)

func startPostgres(t *testing.T) *bun.DB {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "settle",
				"POSTGRES_PASSWORD": "settle",
				"POSTGRES_DB":       "settlement",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, c)
	require.NoError(t, err)

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	log := logger.NewNop()
	bunDB, err := database.Connect(ctx, config.DatabaseConfig{
		DSN:          fmt.Sprintf("postgres://settle:settle@%s:%s/settlement?sslmode=disable", host, port.Port()),
		MaxOpenConns: 16,
		MaxIdleConns: 16,
		MaxLifetime:  time.Minute,
		ConnectTries: 5,
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { bunDB.Close() })

	runner := migrations.NewRunner(bunDB.DB, log)
	require.NoError(t, runner.Up())
	return bunDB
}

func TestPostgresSettlementIssuesOnce(t *testing.T) {
	bunDB := startPostgres(t)
	ctx := context.Background()

	_, err := bunDB.NewInsert().Model(&models.Event{
		ID: "ev-pg", OrganizerID: "org", Name: "Harbour Nights", StartsAt: time.Now().Add(24 * time.Hour), Currency: "usd", Plan: "starter",
	}).Exec(ctx)
	require.NoError(t, err)
	_, err = bunDB.NewInsert().Model(&models.Tier{ID: "ga-pg", EventID: "ev-pg", Name: "GA", PriceCents: 2500}).Exec(ctx)
	require.NoError(t, err)

	now := time.Now().UTC()
	o := &models.Order{
		ID: utils.NewID(), EventID: "ev-pg", UserID: "u-pg", TotalCents: 5276, SubtotalCents: 5000, FeeCents: 276,
		Currency: "usd", Status: models.OrderPaid, ShortCode: utils.ShortCode(), CreatedAt: now, UpdatedAt: now,
		Items: []models.OrderItem{{ID: utils.NewID(), TierID: "ga-pg", Quantity: 3, UnitPriceCents: 2500}},
	}
	require.NoError(t, (&orderdb.DB{Bun: bunDB}).CreateOrder(ctx, o))

	issuer, err := tickets.NewIssuer("pg-secret")
	require.NoError(t, err)
	ledger := NewLedger(bunDB, issuer, logger.NewNop())

	const workers = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fresh    int
		replayed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// a race the ledger cannot classify yet comes back transient; retry like a webhook would
			for attempt := 0; attempt < 5; attempt++ {
				r, err := ledger.Settle(ctx, o.ID, 0)
				if err != nil {
					time.Sleep(50 * time.Millisecond)
					continue
				}
				mu.Lock()
				if r.Replayed {
					replayed++
				} else {
					fresh++
				}
				mu.Unlock()
				return
			}
			t.Errorf("settlement of %s never resolved", o.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	assert.Equal(t, workers-1, replayed)

	n, err := (&ticketdb.DB{Bun: bunDB}).CountByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := (&orderdb.DB{Bun: bunDB}).GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, got.Status)
}
