/*
projection.go - Stock read model

PURPOSE:
  Derives on-hand stock for a SKU by summing the qty of every transaction.
  There is no cached running total: each update from the ledger carries the
  full transaction set and the total is folded again from scratch. A cold
  rebuild and a live feed therefore always agree.

LIVE FEED:
  Observe(sku) wraps a ledger subscription. Every ledger update becomes one
  StockSnapshot, in the same order. The first snapshot is the current state.
*/
package ledger

import (
	"context"
	"sync"
)

// Project folds txs into a snapshot. txs is kept as given.
func Project(sku SKU, txs []Transaction) StockSnapshot {
	var total int64
	for _, tx := range txs {
		total += tx.Qty
	}
	if txs == nil {
		txs = []Transaction{}
	}
	return StockSnapshot{SKU: sku, CurrentStock: total, Transactions: txs}
}

// Source is what the projector needs from a ledger.
type Source interface {
	Subscribe(ctx context.Context, sku SKU) (*Subscription, error)
	Transactions(ctx context.Context, sku SKU) ([]Transaction, error)
}

// =============================================================================
// PROJECTOR
// =============================================================================

type Projector struct {
	source Source
}

func NewProjector(source Source) *Projector {
	return &Projector{source: source}
}

// Rebuild discards nothing and caches nothing: it replays the full ledger
// for sku and folds it.
func (p *Projector) Rebuild(ctx context.Context, sku SKU) (StockSnapshot, error) {
	txs, err := p.source.Transactions(ctx, sku)
	if err != nil {
		return StockSnapshot{}, err
	}
	return Project(sku, txs), nil
}

// StockUpdate is one emission of a stock feed.
type StockUpdate struct {
	StockSnapshot
	Err error `json:"-"`
}

// StockFeed is a live stream of stock snapshots for one SKU.
type StockFeed struct {
	out  chan StockUpdate
	sub  *Subscription
	done chan struct{}
	exit chan struct{}
	once sync.Once
}

// Snapshots returns the feed. It is closed after Cancel or when the
// observing context ends.
func (f *StockFeed) Snapshots() <-chan StockUpdate { return f.out }

// Cancel releases the feed and its ledger subscription.
func (f *StockFeed) Cancel() {
	f.once.Do(func() { close(f.done) })
	f.sub.Cancel()
	<-f.exit
}

// Observe opens a live stock feed for sku.
func (p *Projector) Observe(ctx context.Context, sku SKU) (*StockFeed, error) {
	sub, err := p.source.Subscribe(ctx, sku)
	if err != nil {
		return nil, err
	}

	f := &StockFeed{
		out:  make(chan StockUpdate),
		sub:  sub,
		done: make(chan struct{}),
		exit: make(chan struct{}),
	}

	go func() {
		defer close(f.exit)
		defer close(f.out)
		for u := range sub.Updates() {
			update := StockUpdate{Err: u.Err}
			if u.Err == nil {
				update.StockSnapshot = Project(u.SKU, u.Transactions)
			} else {
				update.SKU = u.SKU
			}
			select {
			case f.out <- update:
			case <-f.done:
				return
			}
		}
	}()
	return f, nil
}
