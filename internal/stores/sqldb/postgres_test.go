package sqldb

import (
	"context"
	"testing"
	"time"

	"poolwatch/internal/config"
	"poolwatch/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgres_EventAndAlertStores(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("poolwatch"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Open(ctx, newTestLogger(), &config.DatabaseConfig{DSN: dsn, RunMigrations: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	assert.Equal(t, DialectPostgres, db.Dialect)

	events, err := NewEventStore(newTestLogger(), db, 50)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0).UTC()
	_, err = events.InsertPools(ctx, []domain.PoolRecord{v3Pool(poolA, now)})
	require.NoError(t, err)

	n, err := events.InsertSwaps(ctx, []domain.SwapEvent{
		v3Swap(poolA, "0xt1", 0, now, "-1", "2"),
		v3Swap(poolA, "0xt1", 0, now, "-1", "2"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	top, err := events.TopPoolsBySwapCount(ctx, domain.ChainEthereum, domain.VariantConcentratedLiquidity, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, uint64(1), top[0].TotalSwaps)

	alerts, err := NewAlertStore(db)
	require.NoError(t, err)
	rec := domain.AlertRecord{Chain: domain.ChainEthereum, Address: poolA, Variant: domain.VariantConcentratedLiquidity, TradeCount: 10}
	require.NoError(t, alerts.Upsert(ctx, rec))
	rec.TradeCount = 20
	require.NoError(t, alerts.Upsert(ctx, rec))

	got, err := alerts.Get(ctx, domain.ChainEthereum, poolA)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), got.TradeCount)
}
