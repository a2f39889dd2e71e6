package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/models"
)

// MemoryStore keeps deals, payments and users in process. It enforces the
// same version checks as the Postgres store and is safe for concurrent use.
type MemoryStore struct {
	mu          sync.Mutex
	deals       map[string]*models.Deal
	payments    map[string]*models.Payment
	users       map[string]models.User
	audit       []AuditRecord
	dealSeq     int64
	paymentSeq  int64
	commitHooks []func()
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deals:    make(map[string]*models.Deal),
		payments: make(map[string]*models.Payment),
		users:    make(map[string]models.User),
	}
}

// BeforeCommit registers fn to run before each commit takes the lock.
// Tests use it to interleave competing writers.
func (s *MemoryStore) BeforeCommit(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitHooks = append(s.commitHooks, fn)
}

func (s *MemoryStore) PutUser(_ context.Context, user *models.User) error {
	if user.ID == "" {
		return domain.Validationf("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.NotFoundf("user %s", id)
	}
	return &u, nil
}

func (s *MemoryStore) NextDealNumber(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dealSeq++
	return s.dealSeq, nil
}

func (s *MemoryStore) NextPaymentNumber(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paymentSeq++
	return s.paymentSeq, nil
}

func (s *MemoryStore) CreateDeal(_ context.Context, deal *models.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deals[deal.DealID]; exists {
		return domain.Validationf("deal %s already exists", deal.DealID)
	}
	s.recordAudit("deal", deal.DealID, deal.AuditTrail.Pending())
	deal.Version = 1
	deal.AuditTrail.MarkCommitted()
	s.deals[deal.DealID] = deal.Clone()
	return nil
}

func (s *MemoryStore) GetDeal(_ context.Context, dealID string) (*models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[dealID]
	if !ok {
		return nil, domain.NotFoundf("deal %s", dealID)
	}
	return d.Clone(), nil
}

func (s *MemoryStore) ListDealsByStatus(_ context.Context, status domain.DealStatus, limit int) ([]*models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Deal
	for _, d := range s.deals {
		if d.Status == status {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetPayment(_ context.Context, paymentID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return nil, domain.NotFoundf("payment %s", paymentID)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListPaymentsForDeal(_ context.Context, dealID string) ([]*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Payment
	for _, p := range s.payments {
		if p.DealID == dealID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentID < out[j].PaymentID })
	return out, nil
}

func (s *MemoryStore) ListDueRetries(_ context.Context, now time.Time, limit int) ([]*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Payment
	for _, p := range s.payments {
		if p.RetryDue(now) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Commit(_ context.Context, cs Changeset) error {
	s.mu.Lock()
	hooks := append([]func(){}, s.commitHooks...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cs.Deal != nil {
		stored, ok := s.deals[cs.Deal.DealID]
		if !ok {
			return domain.NotFoundf("deal %s", cs.Deal.DealID)
		}
		if stored.Version != cs.Deal.Version {
			return domain.ErrVersionConflict
		}
	}
	for _, p := range cs.Payments {
		stored, ok := s.payments[p.PaymentID]
		switch {
		case p.Version == 0 && ok:
			return domain.ErrVersionConflict
		case p.Version != 0 && !ok:
			return domain.NotFoundf("payment %s", p.PaymentID)
		case ok && stored.Version != p.Version:
			return domain.ErrVersionConflict
		}
	}

	if cs.Deal != nil {
		s.recordAudit("deal", cs.Deal.DealID, cs.Deal.AuditTrail.Pending())
	}
	for _, p := range cs.Payments {
		s.recordAudit("payment", p.PaymentID, p.AuditTrail.Pending())
	}
	cs.applied()
	if cs.Deal != nil {
		s.deals[cs.Deal.DealID] = cs.Deal.Clone()
	}
	for _, p := range cs.Payments {
		s.payments[p.PaymentID] = p.Clone()
	}
	return nil
}

// AuditLog returns the mirrored audit rows for one entity in commit order.
func (s *MemoryStore) AuditLog(_ context.Context, entityType, entityID string) ([]AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditRecord
	for _, r := range s.audit {
		if r.EntityType == entityType && r.EntityID == entityID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) recordAudit(entityType, entityID string, entries []models.AuditEntry) {
	for _, e := range entries {
		s.audit = append(s.audit, AuditRecord{EntityType: entityType, EntityID: entityID, AuditEntry: e})
	}
}
