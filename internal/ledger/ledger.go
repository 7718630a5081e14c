// Package ledger is the durable, idempotent, per-device record of offline
// transactions with lifecycle status.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/driftpay/driftpay/internal/devicedb"
)

// Direction says which way value moved from this device's point of view.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// Status is the transaction lifecycle state. pending transitions to exactly
// one of completed or failed; terminal statuses are never overwritten except
// to flip the synced flag.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	ErrNotFound         = errors.New("transaction not found")
	ErrStatusRegression = errors.New("terminal transaction status cannot change")
)

// Transaction is one durable offline payment record, owned exclusively by
// the local device and never mutated by the peer.
type Transaction struct {
	ID             string
	Direction      Direction
	Amount         decimal.Decimal
	CounterpartyID string
	TimestampMs    int64
	Note           string
	Status         Status
	ReceiptID      string
	Synced         bool
}

// Store persists transactions in the device database.
type Store struct {
	db *sql.DB
}

// NewStore creates a ledger store over the shared device database.
func NewStore(db *devicedb.DB) *Store {
	return &Store{db: db.SQL()}
}

// Save upserts a transaction by id. Status transitions are monotonic:
// writing a different status over a terminal one fails with
// ErrStatusRegression. Persistence errors are reported to the caller, who
// decides whether to treat them as a payment failure; the store never
// retries.
func (s *Store) Save(t Transaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	var existing Status
	err = tx.QueryRow("SELECT status FROM transactions WHERE id = ?", t.ID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("read existing status: %w", err)
	case existing.Terminal() && existing != t.Status:
		return fmt.Errorf("%w: %s is already %s", ErrStatusRegression, t.ID, existing)
	}

	_, err = tx.Exec(`
INSERT INTO transactions (id, direction, amount, counterparty_id, timestamp_ms, note, status, receipt_id, synced)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  receipt_id = excluded.receipt_id
`,
		t.ID, string(t.Direction), t.Amount.String(), t.CounterpartyID,
		t.TimestampMs, t.Note, string(t.Status), t.ReceiptID, boolToInt(t.Synced),
	)
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", t.ID, err)
	}
	return tx.Commit()
}

// Get returns the transaction with the given id, or ErrNotFound.
func (s *Store) Get(id string) (Transaction, error) {
	row := s.db.QueryRow(`
SELECT id, direction, amount, counterparty_id, timestamp_ms, note, status, receipt_id, synced
FROM transactions WHERE id = ?`, id)
	return scanTransaction(row)
}

// List returns all transactions, newest first.
func (s *Store) List() ([]Transaction, error) {
	rows, err := s.db.Query(`
SELECT id, direction, amount, counterparty_id, timestamp_ms, note, status, receipt_id, synced
FROM transactions ORDER BY timestamp_ms DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// UnsyncedCompleted returns completed transactions not yet reconciled with
// the server, oldest first.
func (s *Store) UnsyncedCompleted() ([]Transaction, error) {
	rows, err := s.db.Query(`
SELECT id, direction, amount, counterparty_id, timestamp_ms, note, status, receipt_id, synced
FROM transactions WHERE status = 'completed' AND synced = 0 ORDER BY timestamp_ms, id`)
	if err != nil {
		return nil, fmt.Errorf("list unsynced transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// MarkSynced flips the synced flag on an already-terminal transaction.
func (s *Store) MarkSynced(id string) error {
	res, err := s.db.Exec("UPDATE transactions SET synced = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mark synced %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark synced %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var t Transaction
	var direction, amount, status string
	var synced int

	err := row.Scan(&t.ID, &direction, &amount, &t.CounterpartyID,
		&t.TimestampMs, &t.Note, &status, &t.ReceiptID, &synced)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, fmt.Errorf("scan transaction: %w", err)
	}

	t.Direction = Direction(direction)
	t.Status = Status(status)
	t.Synced = synced != 0
	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return t, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return t, nil
}

func collectTransactions(rows *sql.Rows) ([]Transaction, error) {
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
