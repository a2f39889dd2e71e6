package service

import (
	"context"
	"time"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/ayo6706/deal-escrow/internal/repository"
)

// Store defines the persistence contract required by the orchestrator.
// Commit must apply every entity of the changeset atomically and fail with
// domain.ErrVersionConflict when any stored version moved on.
type Store interface {
	NextDealNumber(ctx context.Context) (int64, error)
	NextPaymentNumber(ctx context.Context) (int64, error)
	CreateDeal(ctx context.Context, deal *models.Deal) error
	GetDeal(ctx context.Context, dealID string) (*models.Deal, error)
	ListDealsByStatus(ctx context.Context, status domain.DealStatus, limit int) ([]*models.Deal, error)
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	ListPaymentsForDeal(ctx context.Context, dealID string) ([]*models.Payment, error)
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*models.Payment, error)
	Commit(ctx context.Context, cs repository.Changeset) error
}

// UserDirectory resolves actors and their externally owned KYC verdicts.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
