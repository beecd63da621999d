/*
Package ledger provides the stock movement engine for a single facility.

PURPOSE:
  Every movement of a medication (dispensed to a patient, received from a
  supplier, corrected after a count) is recorded as an immutable Transaction.
  On-hand stock is never stored; it is always derived by folding the
  transactions of a SKU. The same fold runs on a cold replay and on every
  live update, so the two can never disagree.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: An immutable ledger event (the write model)
  - TransactionType: DISPENSE, RECEIVE or ADJUST
  - SyncStatus: PENDING until the sync collaborator marks it SYNCED
  - StockSnapshot: Derived stock for one SKU (the read model)

DESIGN PRINCIPLES:
  1. Immutability: Entries are never updated or deleted, corrections are
     new ADJUST events
  2. Replay: Stock is a pure function of the transaction set
  3. Single writer: One facility device owns its local ledger
  4. Explicit ownership: The Store is constructed by the caller and handed
     to the Ledger, there is no package-level database handle

USAGE:
  l := ledger.NewLedger(store.NewMemory())
  tx, err := l.Append(ctx, "MED-AMOX-500", ledger.TxDispense, 5, "BATCH-001")
  // tx.Qty == -5

SEE ALSO:
  - validate.go: Quantity and batch checks run before Append
  - ledger.go: Append and live subscriptions
  - projection.go: Stock fold and live stock feeds
  - store.go: Persistence contract
*/
package ledger

import (
	"sort"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TransactionID string

// SKU identifies a stock-keeping unit, e.g. "MED-AMOX-500".
type SKU string

// =============================================================================
// TRANSACTION - Immutable stock movement
// =============================================================================

type TransactionType string

const (
	TxDispense TransactionType = "DISPENSE" // Handed to a patient, stored negative
	TxReceive  TransactionType = "RECEIVE"  // Delivered to the facility, stored positive
	TxAdjust   TransactionType = "ADJUST"   // Count correction, either sign
)

// Valid reports whether t is one of the three ledger event types.
func (t TransactionType) Valid() bool {
	switch t {
	case TxDispense, TxReceive, TxAdjust:
		return true
	}
	return false
}

type SyncStatus string

const (
	SyncPending SyncStatus = "PENDING"
	SyncSynced  SyncStatus = "SYNCED"
)

// Transaction is one ledger event. The field set is exactly the persisted
// record shape shared with the durable store.
type Transaction struct {
	ID         TransactionID   `json:"id"`
	Type       TransactionType `json:"type"`
	SKU        SKU             `json:"sku"`
	BatchID    string          `json:"batch_id"`
	Qty        int64           `json:"qty"`
	Timestamp  time.Time       `json:"timestamp"`
	SyncStatus SyncStatus      `json:"sync_status"`

	// Hash is reserved for a hash-chained ledger. It is carried through
	// storage untouched and never computed here.
	Hash string `json:"hash,omitempty"`
}

// NormalizeQty applies the sign convention for a transaction type.
// A positive DISPENSE becomes negative and a negative RECEIVE becomes
// positive. ADJUST is returned as given.
func NormalizeQty(t TransactionType, qty int64) int64 {
	switch {
	case t == TxDispense && qty > 0:
		return -qty
	case t == TxReceive && qty < 0:
		return -qty
	}
	return qty
}

// =============================================================================
// STOCK SNAPSHOT - Derived on-hand quantity
// =============================================================================

// StockSnapshot is the projection of every transaction of one SKU.
type StockSnapshot struct {
	SKU          SKU           `json:"sku"`
	CurrentStock int64         `json:"current_stock"`
	Transactions []Transaction `json:"transactions"`
}

// sortForDisplay returns txs newest first. Input is in commit order, so
// entries sharing a timestamp keep the later commit first.
func sortForDisplay(txs []Transaction) []Transaction {
	out := make([]Transaction, len(txs))
	for i, tx := range txs {
		out[len(txs)-1-i] = tx
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
