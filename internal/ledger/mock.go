package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MockAdapter always succeeds and keeps per-transaction balances in memory.
type MockAdapter struct {
	mu       sync.Mutex
	held     map[string]int64
	captures int
	released int64
	refunded int64
}

// NewMockAdapter creates an empty mock ledger.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{held: make(map[string]int64)}
}

func (m *MockAdapter) Name() string { return MethodMock }

func (m *MockAdapter) CreateEscrow(_ context.Context, req EscrowRequest) (EscrowResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "mock_" + uuid.NewString()
	m.held[id] = req.Amount
	return EscrowResult{TransactionID: id}, nil
}

func (m *MockAdapter) Capture(_ context.Context, _ string, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures++
	return nil
}

func (m *MockAdapter) Release(_ context.Context, transactionID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[transactionID] -= amount
	m.released += amount
	return nil
}

func (m *MockAdapter) Refund(_ context.Context, transactionID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[transactionID] -= amount
	m.refunded += amount
	return nil
}

// Totals reports captured count and released/refunded sums.
func (m *MockAdapter) Totals() (captures int, released, refunded int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captures, m.released, m.refunded
}
