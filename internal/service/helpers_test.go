package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/deal-escrow/internal/documents"
	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/gateway"
	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/ayo6706/deal-escrow/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	buyerID    = "buyer-1"
	sellerID   = "seller-1"
	adminID    = "admin-1"
	strangerID = "stranger-1"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubGateway struct {
	mu          sync.Mutex
	captureRef  string
	captureErr  error
	refundRef   string
	refundErr   error
	captures    int
	refunds     int
	captureReqs []gateway.CaptureRequest
	refundReqs  []gateway.RefundRequest

	// onCapture and onRefund run once, outside the lock, while the
	// gateway call is in flight.
	onCapture func()
	onRefund  func()
}

func (s *stubGateway) Capture(ctx context.Context, req gateway.CaptureRequest) (string, error) {
	s.mu.Lock()
	s.captures++
	s.captureReqs = append(s.captureReqs, req)
	hook := s.onCapture
	s.onCapture = nil
	ref, err := s.captureRef, s.captureErr
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ref, err
}

func (s *stubGateway) Refund(ctx context.Context, req gateway.RefundRequest) (string, error) {
	s.mu.Lock()
	s.refunds++
	s.refundReqs = append(s.refundReqs, req)
	hook := s.onRefund
	s.onRefund = nil
	ref, err := s.refundRef, s.refundErr
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ref, err
}

func (s *stubGateway) captureKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.captureReqs))
	for _, r := range s.captureReqs {
		keys = append(keys, r.IdempotencyKey)
	}
	return keys
}

func (s *stubGateway) set(ref string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captureRef, s.captureErr = ref, err
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *repository.MemoryStore
	clock *fakeClock
	gw    *stubGateway
	orch  *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	clock := newFakeClock()
	gw := &stubGateway{captureRef: "CAP-1", refundRef: "RFD-1"}
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: store,
		clock: clock,
		gw:    gw,
		orch:  NewOrchestrator(store, store, gw).WithClock(clock),
	}
	for _, u := range []*models.User{
		{ID: buyerID, Name: "Asha Buyer", Role: domain.UserRoleUser, KYCStatus: domain.KYCNotStarted},
		{ID: sellerID, Name: "Ravi Seller", Role: domain.UserRoleUser, KYCStatus: domain.KYCApproved},
		{ID: adminID, Name: "Ops", Role: domain.UserRoleAdmin, KYCStatus: domain.KYCApproved},
		{ID: strangerID, Name: "Someone Else", Role: domain.UserRoleUser},
	} {
		require.NoError(t, store.PutUser(f.ctx, u))
	}
	return f
}

func (f *fixture) setSellerKYC(status domain.KYCStatus) {
	f.t.Helper()
	u, err := f.store.GetUser(f.ctx, sellerID)
	require.NoError(f.t, err)
	u.KYCStatus = status
	require.NoError(f.t, f.store.PutUser(f.ctx, u))
}

func testTerms(category domain.Category, amount int64) models.Terms {
	return models.Terms{
		Title:            "Test deal",
		Description:      "A deal used in tests",
		Category:         category,
		Amount:           decimal.NewFromInt(amount),
		DeliveryMethod:   "in_person",
		InspectionPeriod: 3,
		PartyType:        domain.PartyPersonal,
		CounterpartyID:   sellerID,
	}
}

// createDeal opens a deal initiated by the buyer.
func (f *fixture) createDeal(category domain.Category) *models.Deal {
	f.t.Helper()
	res, err := f.orch.CreateDeal(f.ctx, buyerID, domain.RoleBuyer, testTerms(category, 250000))
	require.NoError(f.t, err)
	return res.Deal
}

func (f *fixture) apply(actorID string, ev Event) *Result {
	f.t.Helper()
	res, err := f.orch.Apply(f.ctx, actorID, ev)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) deal(dealID string) *models.Deal {
	f.t.Helper()
	d, err := f.store.GetDeal(f.ctx, dealID)
	require.NoError(f.t, err)
	return d
}

// forceStatus rewrites a stored deal's status outside the state machine.
func (f *fixture) forceStatus(dealID string, status domain.DealStatus) {
	f.t.Helper()
	d := f.deal(dealID)
	d.Status = status
	require.NoError(f.t, f.store.Commit(f.ctx, repository.Changeset{Deal: d}))
}

func (f *fixture) uploadRequired(dealID string) *Result {
	f.t.Helper()
	d := f.deal(dealID)
	var res *Result
	for _, role := range []domain.Role{domain.RoleSeller, domain.RoleBuyer} {
		for _, req := range documents.Requirements(d.Category, role) {
			if !req.Required {
				continue
			}
			res = f.apply(d.PartyID(role), UploadDocument{
				DealID:       dealID,
				DocumentType: req.Type,
				FileName:     req.Type + ".pdf",
				FileURL:      "s3://escrow-docs/" + dealID + "/" + req.Type + ".pdf",
			})
		}
	}
	return res
}

// toPaymentPending walks a new deal through acceptance, gates, documents
// and, where required, signatures.
func (f *fixture) toPaymentPending(category domain.Category) *models.Deal {
	f.t.Helper()
	d := f.createDeal(category)
	f.apply(sellerID, AcceptDeal{DealID: d.DealID})
	f.uploadRequired(d.DealID)
	if category.RequiresContract() {
		f.apply(buyerID, SignContract{DealID: d.DealID})
		f.apply(sellerID, SignContract{DealID: d.DealID})
	}
	d = f.deal(d.DealID)
	require.Equal(f.t, domain.DealPaymentPending, d.Status)
	return d
}

func (f *fixture) toFundsDeposited(category domain.Category) (*models.Deal, *models.Payment) {
	f.t.Helper()
	d := f.toPaymentPending(category)
	res := f.apply(buyerID, DepositPayment{DealID: d.DealID, Method: "upi", GatewayRef: "CAP-" + d.DealID})
	require.Equal(f.t, domain.DealFundsDeposited, res.Deal.Status)
	return res.Deal, res.Payment
}

func (f *fixture) toDelivered(category domain.Category) (*models.Deal, *models.Payment) {
	f.t.Helper()
	d, p := f.toFundsDeposited(category)
	res := f.apply(sellerID, MarkDelivered{DealID: d.DealID})
	require.Equal(f.t, domain.DealDelivered, res.Deal.Status)
	return res.Deal, p
}

// reached reports whether the deal's audit trail ever entered status.
func reached(d *models.Deal, status domain.DealStatus) bool {
	for _, e := range d.AuditTrail.Entries() {
		if e.NewStatus == string(status) {
			return true
		}
	}
	return false
}

func templates(intents []models.NotificationIntent) []string {
	out := make([]string, 0, len(intents))
	for _, i := range intents {
		out = append(out, i.Template)
	}
	return out
}
