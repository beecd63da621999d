/*
Package sqlite provides the durable on-device store.

INTERFACES IMPLEMENTED:
  ledger.Store:        Stock movement persistence
  directory.Directory: Local copy of the patient directory

APPEND-ONLY ENFORCEMENT:
  The transactions table is guarded twice:
  - The Store has no UPDATE or DELETE path for transactions
  - Triggers abort any DELETE, and any UPDATE that touches a column other
    than sync_status or hash (those belong to the sync collaborator)

  Enumerations (type, sync_status) are constrained with CHECKs so a record
  of any other shape cannot be persisted.

KEY TABLES:
  transactions: Immutable ledger of stock movements, seq gives commit order
  patients:     Patient directory provisioned from the seed file

CONCURRENCY:
  One connection, guarded by sync.RWMutex. The facility device is the only
  writer and ":memory:" databases are per connection.

USAGE:
  store, err := sqlite.New("./data/dispensary.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.NewLedger(store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/yakap-link/dispensary/directory"
	"github.com/yakap-link/dispensary/ledger"
)

// Store implements ledger.Store and directory.Directory using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL CHECK (type IN ('DISPENSE', 'RECEIVE', 'ADJUST')),
		sku TEXT NOT NULL CHECK (sku <> ''),
		batch_id TEXT NOT NULL CHECK (length(batch_id) <= 50),
		qty INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		sync_status TEXT NOT NULL CHECK (sync_status IN ('PENDING', 'SYNCED')),
		hash TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_sku
		ON transactions(sku, seq);
	CREATE INDEX IF NOT EXISTS idx_transactions_sync_status
		ON transactions(sync_status);

	CREATE TRIGGER IF NOT EXISTS transactions_no_delete
	BEFORE DELETE ON transactions
	BEGIN
		SELECT RAISE(ABORT, 'transactions are append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS transactions_immutable
	BEFORE UPDATE OF seq, id, type, sku, batch_id, qty, timestamp ON transactions
	BEGIN
		SELECT RAISE(ABORT, 'transactions are immutable');
	END;

	-- Patients (read-only to the ledger)
	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		municipality TEXT NOT NULL,
		last_sync_date TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION STORE (ledger.Store interface)
// =============================================================================

// Append adds a transaction to the ledger.
func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO transactions
		(id, type, sku, batch_id, qty, timestamp, sync_status, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		tx.ID,
		tx.Type,
		tx.SKU,
		tx.BatchID,
		tx.Qty,
		tx.Timestamp.UTC().Format(time.RFC3339Nano),
		tx.SyncStatus,
		nullString(tx.Hash),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateTransactionID
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// Load returns all transactions for a SKU in commit order.
func (s *Store) Load(ctx context.Context, sku ledger.SKU) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, type, sku, batch_id, qty, timestamp, sync_status, hash
		FROM transactions
		WHERE sku = ?
		ORDER BY seq ASC
	`

	return s.queryTransactions(ctx, query, sku)
}

// Pending returns every transaction not yet synchronized, oldest first.
func (s *Store) Pending(ctx context.Context) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, type, sku, batch_id, qty, timestamp, sync_status, hash
		FROM transactions
		WHERE sync_status = ?
		ORDER BY seq ASC
	`

	return s.queryTransactions(ctx, query, ledger.SyncPending)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	transactions := []ledger.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx        ledger.Transaction
		timestamp string
		hash      sql.NullString
	)

	err := rows.Scan(
		&tx.ID, &tx.Type, &tx.SKU, &tx.BatchID,
		&tx.Qty, &timestamp, &tx.SyncStatus, &hash,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return tx, fmt.Errorf("transaction %s: bad timestamp %q: %w", tx.ID, timestamp, err)
	}
	tx.Hash = hash.String
	return tx, nil
}

// =============================================================================
// PATIENT DIRECTORY (directory.Directory interface)
// =============================================================================

// SavePatient inserts or replaces a patient record.
func (s *Store) SavePatient(ctx context.Context, p directory.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO patients (id, name, municipality, last_sync_date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			municipality = excluded.municipality,
			last_sync_date = excluded.last_sync_date
	`

	_, err := s.db.ExecContext(ctx, query, p.ID, p.Name, p.Municipality, nullTime(p.LastSyncDate))
	if err != nil {
		return fmt.Errorf("failed to save patient %s: %w", p.ID, err)
	}
	return nil
}

// Get retrieves a patient by id.
func (s *Store) Get(ctx context.Context, id string) (directory.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, municipality, last_sync_date FROM patients WHERE id = ?",
		id,
	)
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Patient{}, fmt.Errorf("%w: %s", directory.ErrPatientNotFound, id)
	}
	return p, err
}

// List returns all patients ordered by id.
func (s *Store) List(ctx context.Context) ([]directory.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, municipality, last_sync_date FROM patients ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	patients := []directory.Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

// CountPatients reports how many patients are provisioned.
func (s *Store) CountPatients(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM patients").Scan(&n)
	return n, err
}

// SeedPatients provisions an empty directory in one transaction and
// returns how many patients were written. A directory that already holds
// patients is left untouched.
func (s *Store) SeedPatients(ctx context.Context, patients []directory.Patient) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var n int
	if err := sqlTx.QueryRowContext(ctx, "SELECT COUNT(*) FROM patients").Scan(&n); err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	for _, p := range patients {
		_, err := sqlTx.ExecContext(ctx,
			"INSERT INTO patients (id, name, municipality, last_sync_date) VALUES (?, ?, ?, ?)",
			p.ID, p.Name, p.Municipality, nullTime(p.LastSyncDate),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to seed patient %s: %w", p.ID, err)
		}
	}
	return len(patients), sqlTx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPatient(row scanner) (directory.Patient, error) {
	var (
		p        directory.Patient
		lastSync sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Municipality, &lastSync); err != nil {
		return p, err
	}
	if lastSync.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastSync.String)
		if err != nil {
			return p, fmt.Errorf("patient %s: bad last_sync_date %q: %w", p.ID, lastSync.String, err)
		}
		p.LastSyncDate = &t
	}
	return p, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
