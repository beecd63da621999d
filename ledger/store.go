/*
store.go - Persistence interface for ledger events

PURPOSE:
  Defines the boundary between the ledger and the durable event store on
  the facility device. The store only has to append and replay; live
  delivery to subscribers is handled by the Ledger itself.

APPEND-ONLY CONTRACT:
  - Append(): Single event write, atomic
  - Load(): Full replay of one SKU in commit order
  - NO Update() or Delete() methods exist

  Marking an event SYNCED belongs to the synchronization collaborator and is
  not part of this interface.

IMPLEMENTATIONS:
  - store/sqlite: Durable SQLite store used on devices
  - ledger/store: In-memory store for tests and demos
*/
package ledger

import "context"

// Store persists ledger events.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// Append durably records tx. On error nothing may have been recorded.
	Append(ctx context.Context, tx Transaction) error

	// Load returns every transaction for sku in commit order.
	Load(ctx context.Context, sku SKU) ([]Transaction, error)
}
