package repository

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeal(dealID string, at time.Time) *models.Deal {
	d := &models.Deal{
		ID:               uuid.New(),
		DealID:           dealID,
		Buyer:            "buyer-1",
		Seller:           "seller-1",
		InitiatedBy:      "buyer-1",
		Title:            "Royal Enfield Classic 350",
		Category:         domain.CategoryVehicle,
		Amount:           decimal.NewFromInt(180000),
		InspectionPeriod: 3,
		PartyType:        domain.PartyPersonal,
		Status:           domain.DealCreated,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
	d.Record("create_deal", "buyer-1", at, "", "", domain.DealCreated)
	return d
}

func newTestPayment(paymentID, dealID string, at time.Time) *models.Payment {
	p := &models.Payment{
		ID:          uuid.New(),
		PaymentID:   paymentID,
		DealID:      dealID,
		Amount:      decimal.NewFromInt(180000),
		PaymentType: domain.PaymentEscrowDeposit,
		Status:      domain.PaymentInitiated,
		MaxRetries:  domain.DefaultMaxRetries,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	p.Record("create", "buyer-1", at, "", "", domain.PaymentInitiated)
	return p
}

func TestMemoryStoreCommitVersioning(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	deal := newTestDeal("DEAL00000001", now)
	require.NoError(t, store.CreateDeal(ctx, deal))
	assert.Equal(t, int64(1), deal.Version)

	first, err := store.GetDeal(ctx, deal.DealID)
	require.NoError(t, err)
	second, err := store.GetDeal(ctx, deal.DealID)
	require.NoError(t, err)

	first.Status = domain.DealAccepted
	first.Record("accept_deal", "seller-1", now, "", domain.DealCreated, domain.DealAccepted)
	require.NoError(t, store.Commit(ctx, Changeset{Deal: first}))
	assert.Equal(t, int64(2), first.Version)

	second.Status = domain.DealCancelled
	err = store.Commit(ctx, Changeset{Deal: second})
	require.ErrorIs(t, err, domain.ErrVersionConflict)

	stored, err := store.GetDeal(ctx, deal.DealID)
	require.NoError(t, err)
	assert.Equal(t, domain.DealAccepted, stored.Status)
	assert.Equal(t, 2, stored.AuditTrail.Len())
	assert.Empty(t, stored.AuditTrail.Pending())

	log, err := store.AuditLog(ctx, "deal", deal.DealID)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, "accept_deal", log[1].Action)
}

func TestMemoryStoreCommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	deal := newTestDeal("DEAL00000001", now)
	require.NoError(t, store.CreateDeal(ctx, deal))

	loaded, err := store.GetDeal(ctx, deal.DealID)
	require.NoError(t, err)
	payment := newTestPayment("PAY00000001", deal.DealID, now)
	require.NoError(t, store.Commit(ctx, Changeset{Deal: loaded, Payments: []*models.Payment{payment}}))
	assert.Equal(t, int64(1), payment.Version)

	// A stale deal version must keep the payment change out as well.
	stale := deal.Clone()
	p, err := store.GetPayment(ctx, payment.PaymentID)
	require.NoError(t, err)
	p.Status = domain.PaymentPending
	err = store.Commit(ctx, Changeset{Deal: stale, Payments: []*models.Payment{p}})
	require.ErrorIs(t, err, domain.ErrVersionConflict)

	got, err := store.GetPayment(ctx, payment.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentInitiated, got.Status)

	dup := newTestPayment("PAY00000001", deal.DealID, now)
	current, err := store.GetDeal(ctx, deal.DealID)
	require.NoError(t, err)
	require.ErrorIs(t, store.Commit(ctx, Changeset{Deal: current, Payments: []*models.Payment{dup}}), domain.ErrVersionConflict)
}

func TestMemoryStoreListDueRetries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	deal := newTestDeal("DEAL00000001", now)
	require.NoError(t, store.CreateDeal(ctx, deal))

	due := newTestPayment("PAY00000001", deal.DealID, now)
	due.Status = domain.PaymentFailed
	past := now.Add(-time.Minute)
	due.NextRetryAt = &past

	later := newTestPayment("PAY00000002", deal.DealID, now)
	later.Status = domain.PaymentFailed
	future := now.Add(time.Hour)
	later.NextRetryAt = &future

	current, err := store.GetDeal(ctx, deal.DealID)
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, Changeset{Deal: current, Payments: []*models.Payment{due, later}}))

	got, err := store.ListDueRetries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "PAY00000001", got[0].PaymentID)
}

func TestMemoryStoreUsersAndSequences(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.GetUser(ctx, "nobody")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.PutUser(ctx, &models.User{ID: "u1", KYCStatus: domain.KYCApproved}))
	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.KYCApproved())

	a, _ := store.NextDealNumber(ctx)
	b, _ := store.NextDealNumber(ctx)
	assert.Equal(t, a+1, b)
}
