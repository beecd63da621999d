/*
ledger.go - Append-only stock ledger with live subscriptions

PURPOSE:
  The Ledger is the only writer of stock movements on a facility device.
  It stamps each event (id, timestamp, PENDING sync status), applies the
  sign convention, hands it to the Store and then tells every subscriber of
  that SKU about the new state.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. ATOMIC: Either the Store recorded the event, or Append returns an
     error and no subscriber hears about it.
  3. ORDERED: Appends are serialized. Each append produces exactly one
     update per active subscriber, delivered in commit order.

LIVE SUBSCRIPTIONS:
  Subscribe(sku) replays the full current state as its first update, then
  emits a fresh full state after every append to that SKU. Updates are
  queued per subscriber, so a slow reader never blocks Append and never
  misses an update. Cancel (or cancelling the context) releases the
  subscription; nothing is delivered afterwards.

EXAMPLE FLOW:
  1. Receive 100 tablets:  RECEIVE +100
  2. Dispense 5 (caller passes 5): DISPENSE -5
  3. Count finds 2 missing: ADJUST -2

  Ledger: [+100, -5, -2] = 93 on hand
*/
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store Store
	clock func() time.Time
	newID func() TransactionID
	log   zerolog.Logger

	// mu serializes appends, subscription registration and fan-out so that
	// every subscriber sees updates in commit order.
	mu     sync.Mutex
	subs   map[SKU]map[uint64]*subscriber
	nextID uint64
}

func NewLedger(store Store) *Ledger {
	return &Ledger{
		store: store,
		clock: time.Now,
		newID: func() TransactionID { return TransactionID(uuid.NewString()) },
		log:   zerolog.Nop(),
		subs:  make(map[SKU]map[uint64]*subscriber),
	}
}

// WithClock overrides the timestamp source for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

func (l *Ledger) WithLogger(log zerolog.Logger) *Ledger {
	l.log = log.With().Str("component", "ledger").Logger()
	return l
}

// Append records a movement and returns the stored Transaction.
//
// qty is sign-normalized for the type before storage. Append does not run
// the Validator; callers validate user input first.
func (l *Ledger) Append(ctx context.Context, sku SKU, txType TransactionType, qty int64, batchID string) (Transaction, error) {
	if sku == "" {
		return Transaction{}, newValidationError(ErrMissingSKU, "SKU is required.")
	}
	if !txType.Valid() {
		return Transaction{}, newValidationError(ErrUnknownTransactionType, "Unknown transaction type %q.", txType)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx := Transaction{
		ID:         l.newID(),
		Type:       txType,
		SKU:        sku,
		BatchID:    batchID,
		Qty:        NormalizeQty(txType, qty),
		Timestamp:  l.clock().UTC(),
		SyncStatus: SyncPending,
	}

	if err := l.store.Append(ctx, tx); err != nil {
		l.log.Error().Err(err).Str("sku", string(sku)).Str("type", string(txType)).Msg("append failed")
		return Transaction{}, &StorageError{Op: "append", SKU: sku, Err: err}
	}

	l.log.Debug().
		Str("id", string(tx.ID)).
		Str("sku", string(sku)).
		Str("type", string(txType)).
		Int64("qty", tx.Qty).
		Msg("transaction appended")

	l.publishLocked(context.WithoutCancel(ctx), sku)
	return tx, nil
}

// Transactions returns every transaction for sku, newest first.
func (l *Ledger) Transactions(ctx context.Context, sku SKU) ([]Transaction, error) {
	txs, err := l.store.Load(ctx, sku)
	if err != nil {
		return nil, &StorageError{Op: "load", SKU: sku, Err: err}
	}
	return sortForDisplay(txs), nil
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Update is one emission of a live subscription: the full transaction set
// for the SKU, newest first. Err is set when the store could not be read
// after a committed append; the next successful update supersedes it.
type Update struct {
	SKU          SKU
	Transactions []Transaction
	Err          error
}

// Subscription is a live, ordered feed of Updates for one SKU.
type Subscription struct {
	sub    *subscriber
	ledger *Ledger
}

// Updates returns the feed. It is closed after Cancel.
func (s *Subscription) Updates() <-chan Update { return s.sub.out }

// Cancel releases the subscription. No update is delivered after Cancel
// returns. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.ledger.remove(s.sub)
	s.sub.stop()
}

// Subscribe opens a live feed for sku. The first update is the full current
// state. The subscription ends when ctx is done or Cancel is called.
func (l *Ledger) Subscribe(ctx context.Context, sku SKU) (*Subscription, error) {
	l.mu.Lock()
	txs, err := l.store.Load(ctx, sku)
	if err != nil {
		l.mu.Unlock()
		return nil, &StorageError{Op: "subscribe", SKU: sku, Err: err}
	}

	l.nextID++
	sub := newSubscriber(l.nextID, sku)
	if l.subs[sku] == nil {
		l.subs[sku] = make(map[uint64]*subscriber)
	}
	l.subs[sku][sub.id] = sub
	sub.push(Update{SKU: sku, Transactions: sortForDisplay(txs)})
	l.mu.Unlock()

	go sub.run()

	s := &Subscription{sub: sub, ledger: l}
	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-sub.done:
		}
	}()
	return s, nil
}

// publishLocked fans the current state of sku out to its subscribers.
// Caller holds l.mu.
func (l *Ledger) publishLocked(ctx context.Context, sku SKU) {
	subs := l.subs[sku]
	if len(subs) == 0 {
		return
	}

	update := Update{SKU: sku}
	txs, err := l.store.Load(ctx, sku)
	if err != nil {
		l.log.Error().Err(err).Str("sku", string(sku)).Msg("reload after append failed")
		update.Err = &StorageError{Op: "load", SKU: sku, Err: err}
	} else {
		update.Transactions = sortForDisplay(txs)
	}

	for _, sub := range subs {
		sub.push(update)
	}
}

func (l *Ledger) remove(sub *subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if subs, ok := l.subs[sub.sku]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(l.subs, sub.sku)
		}
	}
}

// subscriberCount is used by tests to check that cancelled feeds are released.
func (l *Ledger) subscriberCount(sku SKU) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs[sku])
}

// =============================================================================
// SUBSCRIBER - Unbounded per-reader queue
// =============================================================================

type subscriber struct {
	id  uint64
	sku SKU

	mu    sync.Mutex
	queue []Update

	wake     chan struct{}
	done     chan struct{}
	exited   chan struct{}
	out      chan Update
	stopOnce sync.Once
}

func newSubscriber(id uint64, sku SKU) *subscriber {
	return &subscriber{
		id:     id,
		sku:    sku,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		out:    make(chan Update),
	}
}

func (s *subscriber) push(u Update) {
	s.mu.Lock()
	s.queue = append(s.queue, u)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.exited)
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		next := s.queue[0]
		s.queue[0] = Update{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.done) })
	<-s.exited
}
