package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway is the opaque payment capability behind escrow deposits and refunds.
type Gateway interface {
	// Capture collects funds for a payment.
	// Returns a gateway reference ID and an error if the capture failed.
	Capture(ctx context.Context, req CaptureRequest) (string, error)
	// Refund returns funds for a previously captured payment.
	Refund(ctx context.Context, req RefundRequest) (string, error)
}

type CaptureRequest struct {
	PaymentID string
	OrderID   string
	Method    string
	Amount    decimal.Decimal
	// IdempotencyKey identifies one attempt. A repeated key never moves money
	// twice and is answered with the reference of the first success.
	IdempotencyKey string
}

type RefundRequest struct {
	PaymentID      string
	TransactionID  string
	Amount         decimal.Decimal
	Reason         string
	IdempotencyKey string
}

// MockGateway simulates an external payment gateway.
// It introduces a random delay and fails FailureRate of the time.
type MockGateway struct {
	// FailureRate is the probability of failure (0.0 to 1.0). Default: 0.1 (10%)
	FailureRate float64
	// MaxDelay bounds the simulated network latency. Default: 2s.
	MaxDelay time.Duration

	mu        sync.Mutex
	completed map[string]string
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		FailureRate: 0.1,
		MaxDelay:    2 * time.Second,
	}
}

func (g *MockGateway) Capture(ctx context.Context, req CaptureRequest) (string, error) {
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("capture %s: amount must be positive", req.PaymentID)
	}
	if ref, ok := g.lookup(req.IdempotencyKey); ok {
		return ref, nil
	}
	if err := g.call(ctx); err != nil {
		return "", err
	}
	return g.remember(req.IdempotencyKey, reference("CAP")), nil
}

func (g *MockGateway) Refund(ctx context.Context, req RefundRequest) (string, error) {
	if req.TransactionID == "" {
		return "", fmt.Errorf("refund %s: missing gateway transaction", req.PaymentID)
	}
	if ref, ok := g.lookup(req.IdempotencyKey); ok {
		return ref, nil
	}
	if err := g.call(ctx); err != nil {
		return "", err
	}
	return g.remember(req.IdempotencyKey, reference("RFD")), nil
}

func (g *MockGateway) lookup(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, ok := g.completed[key]
	return ref, ok
}

// Only successes are remembered, so a declined attempt may be retried.
func (g *MockGateway) remember(key, ref string) string {
	if key == "" {
		return ref
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.completed == nil {
		g.completed = make(map[string]string)
	}
	if prior, ok := g.completed[key]; ok {
		return prior
	}
	g.completed[key] = ref
	return ref
}

func (g *MockGateway) call(ctx context.Context) error {
	if g.MaxDelay > 0 {
		delay := time.Duration(rand.Int63n(int64(g.MaxDelay)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("gateway call canceled: %w", ctx.Err())
		}
	}
	if rand.Float64() < g.FailureRate {
		return fmt.Errorf("gateway temporarily unavailable")
	}
	return nil
}

// Format: MOCK-CAP-YYYYMMDD-HHMMSS-XXXXX
func reference(kind string) string {
	return fmt.Sprintf("MOCK-%s-%s-%05d", kind, time.Now().Format("20060102-150405"), rand.Intn(100000))
}
