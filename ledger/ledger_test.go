package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yakap-link/dispensary/ledger"
	"github.com/yakap-link/dispensary/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const amox ledger.SKU = "MED-AMOX-500"

// steppingClock returns a clock that advances one second per call.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Second)
		return t
	}
}

func newTestLedger() (*ledger.Ledger, *store.Memory) {
	mem := store.NewMemory()
	l := ledger.NewLedger(mem).WithClock(steppingClock(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)))
	return l, mem
}

func recvUpdate(t *testing.T, sub *ledger.Subscription) ledger.Update {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		require.True(t, ok, "feed closed unexpectedly")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ledger update")
	}
	return ledger.Update{}
}

func assertNoUpdate(t *testing.T, sub *ledger.Subscription) {
	t.Helper()
	select {
	case u := <-sub.Updates():
		t.Fatalf("unexpected update with %d transactions", len(u.Transactions))
	case <-time.After(50 * time.Millisecond):
	}
}

// failingStore accepts loads but rejects appends.
type failingStore struct {
	*store.Memory
	appendErr error
}

func (f *failingStore) Append(ctx context.Context, tx ledger.Transaction) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.Memory.Append(ctx, tx)
}

// =============================================================================
// APPEND
// =============================================================================

func TestLedger_Append_StampsNewEvent(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	tx, err := l.Append(ctx, amox, ledger.TxReceive, 100, "BATCH-001")
	require.NoError(t, err)

	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, ledger.TxReceive, tx.Type)
	assert.Equal(t, amox, tx.SKU)
	assert.Equal(t, "BATCH-001", tx.BatchID)
	assert.Equal(t, int64(100), tx.Qty)
	assert.Equal(t, ledger.SyncPending, tx.SyncStatus)
	assert.Equal(t, time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), tx.Timestamp)
	assert.Empty(t, tx.Hash, "hash is reserved and never computed")
}

func TestLedger_Append_SignNormalization(t *testing.T) {
	tests := []struct {
		name   string
		txType ledger.TransactionType
		qty    int64
		want   int64
	}{
		{"dispense positive is negated", ledger.TxDispense, 5, -5},
		{"dispense negative kept", ledger.TxDispense, -5, -5},
		{"receive negative is negated", ledger.TxReceive, -5, 5},
		{"receive positive kept", ledger.TxReceive, 5, 5},
		{"adjust positive kept", ledger.TxAdjust, 2, 2},
		{"adjust negative kept", ledger.TxAdjust, -2, -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, mem := newTestLedger()
			tx, err := l.Append(context.Background(), amox, tt.txType, tt.qty, "B1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, tx.Qty)

			stored, err := mem.Load(context.Background(), amox)
			require.NoError(t, err)
			require.Len(t, stored, 1)
			assert.Equal(t, tt.want, stored[0].Qty, "normalized value is what gets stored")
		})
	}
}

func TestLedger_Append_IDsAreUnique(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	seen := make(map[ledger.TransactionID]bool)
	for i := 0; i < 50; i++ {
		tx, err := l.Append(ctx, amox, ledger.TxAdjust, 1, "B1")
		require.NoError(t, err)
		assert.False(t, seen[tx.ID], "id %s reused", tx.ID)
		seen[tx.ID] = true
	}
}

func TestLedger_Append_RejectsMissingSKUAndUnknownType(t *testing.T) {
	l, mem := newTestLedger()
	ctx := context.Background()

	_, err := l.Append(ctx, "", ledger.TxReceive, 1, "B1")
	assert.ErrorIs(t, err, ledger.ErrMissingSKU)
	assert.True(t, ledger.IsClientError(err))

	_, err = l.Append(ctx, amox, "TRANSFER", 1, "B1")
	assert.ErrorIs(t, err, ledger.ErrUnknownTransactionType)

	assert.Equal(t, 0, mem.Len())
}

func TestLedger_Append_StorageFailureIsSurfacedUnchanged(t *testing.T) {
	// GIVEN: A store that rejects writes
	// WHEN: Appending
	// THEN: The store's error is reachable, nothing is returned as stored,
	//       and subscribers are not told about a phantom event

	diskFull := errors.New("disk full")
	fs := &failingStore{Memory: store.NewMemory(), appendErr: diskFull}
	l := ledger.NewLedger(fs)
	ctx := context.Background()

	sub, err := l.Subscribe(ctx, amox)
	require.NoError(t, err)
	defer sub.Cancel()
	initial := recvUpdate(t, sub)
	assert.Empty(t, initial.Transactions)

	tx, err := l.Append(ctx, amox, ledger.TxReceive, 10, "B1")
	require.Error(t, err)
	assert.ErrorIs(t, err, diskFull)
	assert.ErrorIs(t, err, ledger.ErrStorageFailure)
	assert.True(t, ledger.IsStorageFailure(err))
	assert.False(t, ledger.IsClientError(err))
	assert.Equal(t, ledger.Transaction{}, tx)

	var serr *ledger.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "append", serr.Op)

	assertNoUpdate(t, sub)
	assert.Equal(t, 0, fs.Len())
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

func TestLedger_Subscribe_ReplaysCurrentStateFirst(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	_, err := l.Append(ctx, amox, ledger.TxReceive, 100, "B1")
	require.NoError(t, err)
	_, err = l.Append(ctx, amox, ledger.TxDispense, 5, "B1")
	require.NoError(t, err)

	sub, err := l.Subscribe(ctx, amox)
	require.NoError(t, err)
	defer sub.Cancel()

	u := recvUpdate(t, sub)
	assert.Equal(t, amox, u.SKU)
	require.Len(t, u.Transactions, 2)
	assert.NoError(t, u.Err)
}

func TestLedger_Subscribe_IsRestartable(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	first, err := l.Subscribe(ctx, amox)
	require.NoError(t, err)
	recvUpdate(t, first)
	_, err = l.Append(ctx, amox, ledger.TxReceive, 7, "B1")
	require.NoError(t, err)
	recvUpdate(t, first)
	first.Cancel()

	second, err := l.Subscribe(ctx, amox)
	require.NoError(t, err)
	defer second.Cancel()
	u := recvUpdate(t, second)
	require.Len(t, u.Transactions, 1)
	assert.Equal(t, int64(7), u.Transactions[0].Qty)
}

func TestLedger_Subscribe_OneUpdatePerAppendInCommitOrder(t *testing.T) {
	// GIVEN: A subscriber that does not read while appends happen
	// WHEN: Several appends are committed back to back
	// THEN: It later receives one update per append, each one larger

	l, _ := newTestLedger()
	ctx := context.Background()

	sub, err := l.Subscribe(ctx, amox)
	require.NoError(t, err)
	defer sub.Cancel()

	const n = 20
	for i := 0; i < n; i++ {
		_, err := l.Append(ctx, amox, ledger.TxReceive, int64(i+1), "B1")
		require.NoError(t, err)
	}

	for i := 0; i <= n; i++ {
		u := recvUpdate(t, sub)
		assert.Len(t, u.Transactions, i, "update %d", i)
	}
	assertNoUpdate(t, sub)
}

func TestLedger_Subscribe_NewestFirst(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	sub, err := l.Subscribe(ctx, amox)
	require.NoError(t, err)
	defer sub.Cancel()
	recvUpdate(t, sub)

	_, err = l.Append(ctx, amox, ledger.TxReceive, 100, "B1")
	require.NoError(t, err)
	_, err = l.Append(ctx, amox, ledger.TxDispense, 5, "B1")
	require.NoError(t, err)
	_, err = l.Append(ctx, amox, ledger.TxAdjust, -2, "B1")
	require.NoError(t, err)

	recvUpdate(t, sub)
	recvUpdate(t, sub)
	u := recvUpdate(t, sub)
	require.Len(t, u.Transactions, 3)
	assert.Equal(t, ledger.TxAdjust, u.Transactions[0].Type)
	assert.Equal(t, ledger.TxDispense, u.Transactions[1].Type)
	assert.Equal(t, ledger.TxReceive, u.Transactions[2].Type)
	for i := 1; i < len(u.Transactions); i++ {
		assert.False(t, u.Transactions[i].Timestamp.After(u.Transactions[i-1].Timestamp))
	}
}

func TestLedger_Subscribe_OnlyMatchingSKU(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	sub, err := l.Subscribe(ctx, amox)
	require.NoError(t, err)
	defer sub.Cancel()
	recvUpdate(t, sub)

	_, err = l.Append(ctx, "MED-PARA-500", ledger.TxReceive, 50, "B9")
	require.NoError(t, err)
	assertNoUpdate(t, sub)

	_, err = l.Append(ctx, amox, ledger.TxReceive, 10, "B1")
	require.NoError(t, err)
	u := recvUpdate(t, sub)
	require.Len(t, u.Transactions, 1)
	assert.Equal(t, amox, u.Transactions[0].SKU)
}

func TestLedger_Cancel_StopsDelivery(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	sub, err := l.Subscribe(ctx, amox)
	require.NoError(t, err)
	recvUpdate(t, sub)

	sub.Cancel()
	sub.Cancel()

	_, err = l.Append(ctx, amox, ledger.TxReceive, 10, "B1")
	require.NoError(t, err)

	_, ok := <-sub.Updates()
	assert.False(t, ok, "feed must be closed after Cancel")
}

func TestLedger_ContextCancel_ClosesFeed(t *testing.T) {
	l, _ := newTestLedger()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := l.Subscribe(ctx, amox)
	require.NoError(t, err)
	recvUpdate(t, sub)

	cancel()

	select {
	case _, ok := <-sub.Updates():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("feed not closed after context cancel")
	}
}

func TestLedger_Transactions_NewestFirst(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	first, err := l.Append(ctx, amox, ledger.TxReceive, 10, "B1")
	require.NoError(t, err)
	second, err := l.Append(ctx, amox, ledger.TxDispense, 3, "B1")
	require.NoError(t, err)

	txs, err := l.Transactions(ctx, amox)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, second.ID, txs[0].ID)
	assert.Equal(t, first.ID, txs[1].ID)
}
