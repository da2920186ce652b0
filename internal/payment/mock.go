package payment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const DefaultCardSuccessRate = 0.95

// MockGateway simulates a provider: card payments succeed with a fixed
// probability, paypal and bank transfers always succeed.
type MockGateway struct {
	cardSuccessRate float64
	latency         time.Duration
	now             func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

type MockOption func(*MockGateway)

func WithCardSuccessRate(rate float64) MockOption {
	return func(g *MockGateway) {
		g.cardSuccessRate = rate
	}
}

// WithSeed makes declines and transaction ids reproducible.
func WithSeed(seed int64) MockOption {
	return func(g *MockGateway) {
		g.rng = rand.New(rand.NewSource(seed))
	}
}

// WithLatency delays every call, honouring context cancellation.
func WithLatency(d time.Duration) MockOption {
	return func(g *MockGateway) {
		g.latency = d
	}
}

func WithClock(now func() time.Time) MockOption {
	return func(g *MockGateway) {
		g.now = now
	}
}

func NewMockGateway(opts ...MockOption) *MockGateway {
	g := &MockGateway{
		cardSuccessRate: DefaultCardSuccessRate,
		now:             time.Now,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *MockGateway) Charge(ctx context.Context, charge Charge) (Receipt, error) {
	if _, err := ParseMethod(string(charge.Method)); err != nil {
		return Receipt{}, err
	}
	if !charge.Amount.IsPositive() {
		return Receipt{}, ErrInvalidAmount
	}
	if err := g.wait(ctx); err != nil {
		return Receipt{}, fmt.Errorf("charge %s: %w", charge.OrderNumber, err)
	}

	g.mu.Lock()
	draw := g.rng.Float64()
	suffix := g.rng.Uint32()
	g.mu.Unlock()

	if charge.Method.IsCard() && draw >= g.cardSuccessRate {
		return Receipt{}, &DeclinedError{Method: charge.Method, Reason: "card declined"}
	}

	receipt := Receipt{
		TransactionID: fmt.Sprintf("TXN-%d-%08X", g.now().Unix(), suffix),
		Message:       "payment processed successfully",
	}
	if charge.Method == MethodBankTransfer {
		receipt.Message = "bank transfer initiated, awaiting confirmation"
	}
	return receipt, nil
}

func (g *MockGateway) Refund(ctx context.Context, refund Refund) (Receipt, error) {
	if refund.TransactionID == "" {
		return Receipt{}, ErrMissingTransaction
	}
	if err := g.wait(ctx); err != nil {
		return Receipt{}, fmt.Errorf("refund %s: %w", refund.TransactionID, err)
	}

	return Receipt{
		TransactionID: "REFUND-" + refund.TransactionID,
		Message:       "refund processed successfully",
	}, nil
}

func (g *MockGateway) wait(ctx context.Context) error {
	if g.latency <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(g.latency)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
