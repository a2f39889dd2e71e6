package repository

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/deal-escrow/internal/db"
	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// setupPostgres boots a throwaway Postgres 16 container with the schema applied.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("escrow"),
		postgres.WithUsername("escrow"),
		postgres.WithPassword("escrow"),
	)
	if err != nil {
		t.Skipf("Skipping integration test: postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.Connect(ctx, dsn, db.PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool))
	return pool
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	pool := setupPostgres(t)
	store := NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, store.PutUser(ctx, &models.User{ID: "buyer-1", Name: "Asha", KYCStatus: domain.KYCApproved}))
	u, err := store.GetUser(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, domain.KYCApproved, u.KYCStatus)
	assert.Equal(t, domain.UserRoleUser, u.Role)

	n, err := store.NextDealNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	deal := newTestDeal("DEAL00000001", now)
	require.NoError(t, store.CreateDeal(ctx, deal))

	loaded, err := store.GetDeal(ctx, deal.DealID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
	assert.True(t, deal.Amount.Equal(loaded.Amount))
	assert.Equal(t, 1, loaded.AuditTrail.Len())

	loaded.Status = domain.DealAccepted
	loaded.Record("accept_deal", "seller-1", now, "", domain.DealCreated, domain.DealAccepted)
	payment := newTestPayment("PAY00000001", deal.DealID, now)
	require.NoError(t, store.Commit(ctx, Changeset{Deal: loaded, Payments: []*models.Payment{payment}}))
	assert.Equal(t, int64(2), loaded.Version)

	stale, err := store.GetDeal(ctx, deal.DealID)
	require.NoError(t, err)
	stale.Version = 1
	require.ErrorIs(t, store.Commit(ctx, Changeset{Deal: stale}), domain.ErrVersionConflict)

	payments, err := store.ListPaymentsForDeal(ctx, deal.DealID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, int64(1), payments[0].Version)

	byStatus, err := store.ListDealsByStatus(ctx, domain.DealAccepted, 10)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)

	log, err := store.AuditLog(ctx, "deal", deal.DealID)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, "created", log[1].OldStatus)
	assert.Equal(t, "accepted", log[1].NewStatus)

	paymentLog, err := store.AuditLog(ctx, "payment", payment.PaymentID)
	require.NoError(t, err)
	assert.Len(t, paymentLog, 1)
}
