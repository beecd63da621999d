// Package store provides in-memory ledger.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/yakap-link/dispensary/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[ledger.SKU][]ledger.Transaction
	ids          map[ledger.TransactionID]bool
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[ledger.SKU][]ledger.Transaction),
		ids:          make(map[ledger.TransactionID]bool),
	}
}

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ids[tx.ID] {
		return ledger.ErrDuplicateTransactionID
	}
	m.transactions[tx.SKU] = append(m.transactions[tx.SKU], tx)
	m.ids[tx.ID] = true
	return nil
}

// Load returns a copy of the SKU's transactions in commit order.
func (m *Memory) Load(_ context.Context, sku ledger.SKU) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Transaction, len(m.transactions[sku]))
	copy(result, m.transactions[sku])
	return result, nil
}

// Len returns the number of stored transactions across all SKUs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}
