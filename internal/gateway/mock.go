package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// DisabledAccountPrefix marks mock accounts that cannot receive payouts.
const DisabledAccountPrefix = "disabled_"

// MockGateway simulates a payment provider for local runs.
// It sleeps between MinDelay and MaxDelay and fails FailureRate of the time.
// Transfers are remembered by idempotency key the way real providers do.
type MockGateway struct {
	provider string
	// FailureRate is the probability of failure (0.0 to 1.0).
	FailureRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration

	mu        sync.Mutex
	transfers map[string]string
}

// NewMockGateway creates a mock standing in for provider.
func NewMockGateway(provider string) *MockGateway {
	return &MockGateway{
		provider:    provider,
		FailureRate: 0.1,
		MinDelay:    200 * time.Millisecond,
		MaxDelay:    time.Second,
		transfers:   make(map[string]string),
	}
}

func (g *MockGateway) Name() string { return g.provider }

func (g *MockGateway) RetrieveAccount(ctx context.Context, accountID string) (*Account, error) {
	if accountID == "" {
		return nil, ErrAccountNotFound
	}
	return &Account{
		ID:             accountID,
		PayoutsEnabled: !strings.HasPrefix(accountID, DisabledAccountPrefix),
	}, nil
}

func (g *MockGateway) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	g.mu.Lock()
	if id, ok := g.transfers[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		g.mu.Unlock()
		return &Transfer{ID: id, Status: "paid"}, nil
	}
	g.mu.Unlock()

	if err := g.sleep(ctx); err != nil {
		return nil, err
	}

	if rand.Float64() < g.FailureRate {
		return nil, fmt.Errorf("%w: %s temporarily unavailable", ErrProvider, g.provider)
	}

	// Format: MOCK-YYYYMMDD-HHMMSS-XXXXX
	ref := fmt.Sprintf("MOCK-%s-%05d", time.Now().Format("20060102-150405"), rand.Intn(100000))

	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.transfers[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return &Transfer{ID: id, Status: "paid"}, nil
	}
	if req.IdempotencyKey != "" {
		g.transfers[req.IdempotencyKey] = ref
	}
	return &Transfer{ID: ref, Status: "paid"}, nil
}

func (g *MockGateway) sleep(ctx context.Context) error {
	if g.MaxDelay <= 0 {
		return nil
	}
	delay := g.MinDelay
	if spread := g.MaxDelay - g.MinDelay; spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread)))
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gateway call canceled: %w", ctx.Err())
	}
}
