// Package balance maintains the split between spendable-online and
// reserved-for-offline value: locally through credit/debit mutations driven
// by completed peer payments, and against the server through explicit
// reserve/release calls.
package balance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftpay/driftpay/internal/devicedb"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientOffline = errors.New("insufficient offline balance")
	ErrInsufficientOnline  = errors.New("insufficient online balance")
)

// Record is one user's offline balance on this device.
type Record struct {
	UserID        string
	Amount        decimal.Decimal
	LastUpdatedMs int64
}

// Store persists offline balance records in the device database.
type Store struct {
	db *sql.DB
}

// NewStore creates a balance store over the shared device database.
func NewStore(db *devicedb.DB) *Store {
	return &Store{db: db.SQL()}
}

// Get returns the user's offline balance, creating a zero record on first use.
func (s *Store) Get(userID string) (Record, error) {
	rec := Record{UserID: userID, Amount: decimal.Zero}
	var amount string
	err := s.db.QueryRow(
		"SELECT amount, last_updated_ms FROM offline_balances WHERE user_id = ?",
		userID,
	).Scan(&amount, &rec.LastUpdatedMs)
	if err == sql.ErrNoRows {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("read offline balance: %w", err)
	}
	rec.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return rec, fmt.Errorf("parse offline balance %q: %w", amount, err)
	}
	return rec, nil
}

// Credit adds amount to the user's offline balance.
func (s *Store) Credit(userID string, amount decimal.Decimal) (Record, error) {
	return s.apply(userID, amount)
}

// Debit removes amount from the user's offline balance. Fails with
// ErrInsufficientOffline rather than driving the balance negative.
func (s *Store) Debit(userID string, amount decimal.Decimal) (Record, error) {
	return s.apply(userID, amount.Neg())
}

// apply adjusts the balance by delta inside one transaction so concurrent
// writers cannot interleave a stale read with the update.
func (s *Store) apply(userID string, delta decimal.Decimal) (Record, error) {
	if delta.IsZero() {
		return Record{}, ErrInvalidAmount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Record{}, fmt.Errorf("begin balance update: %w", err)
	}
	defer tx.Rollback()

	current := decimal.Zero
	var amount string
	err = tx.QueryRow("SELECT amount FROM offline_balances WHERE user_id = ?", userID).Scan(&amount)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return Record{}, fmt.Errorf("read offline balance: %w", err)
	default:
		current, err = decimal.NewFromString(amount)
		if err != nil {
			return Record{}, fmt.Errorf("parse offline balance %q: %w", amount, err)
		}
	}

	next := current.Add(delta)
	if next.IsNegative() {
		return Record{}, fmt.Errorf("%w: have %s, need %s", ErrInsufficientOffline, current, delta.Neg())
	}

	now := time.Now().UnixMilli()
	_, err = tx.Exec(`
INSERT INTO offline_balances (user_id, amount, last_updated_ms)
VALUES (?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
  amount = excluded.amount,
  last_updated_ms = excluded.last_updated_ms
`, userID, next.String(), now)
	if err != nil {
		return Record{}, fmt.Errorf("write offline balance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit balance update: %w", err)
	}
	return Record{UserID: userID, Amount: next, LastUpdatedMs: now}, nil
}

// ServerClient is the slice of the wallet server consumed by the reservation
// ledger: move value between the online and reserved-for-offline sides.
type ServerClient interface {
	Reserve(ctx context.Context, email string, amount decimal.Decimal) (decimal.Decimal, error)
	Release(ctx context.Context, email string, amount decimal.Decimal) (decimal.Decimal, error)
}

// Ledger ties the local offline balance to the server's reservation
// bookkeeping for one user.
type Ledger struct {
	store  *Store
	server ServerClient
	userID string
}

// NewLedger creates the reservation ledger for one user.
func NewLedger(store *Store, server ServerClient, userID string) *Ledger {
	return &Ledger{store: store, server: server, userID: userID}
}

// Spendable returns the offline amount currently available on this device.
func (l *Ledger) Spendable() (decimal.Decimal, error) {
	rec, err := l.store.Get(l.userID)
	if err != nil {
		return decimal.Zero, err
	}
	return rec.Amount, nil
}

// Reserve moves amount from the server's online balance into this device's
// offline balance. The server call happens first; the local credit only
// mirrors a reservation the server accepted.
func (l *Ledger) Reserve(ctx context.Context, amount decimal.Decimal) (Record, error) {
	if !amount.IsPositive() {
		return Record{}, ErrInvalidAmount
	}
	if _, err := l.server.Reserve(ctx, l.userID, amount); err != nil {
		return Record{}, fmt.Errorf("reserve with server: %w", err)
	}
	return l.store.Credit(l.userID, amount)
}

// Release moves amount back from offline to online. The local balance is
// checked first so the server is never asked to release value this device
// does not hold.
func (l *Ledger) Release(ctx context.Context, amount decimal.Decimal) (Record, error) {
	if !amount.IsPositive() {
		return Record{}, ErrInvalidAmount
	}
	rec, err := l.store.Get(l.userID)
	if err != nil {
		return Record{}, err
	}
	if rec.Amount.LessThan(amount) {
		return Record{}, fmt.Errorf("%w: have %s, need %s", ErrInsufficientOffline, rec.Amount, amount)
	}
	if _, err := l.server.Release(ctx, l.userID, amount); err != nil {
		return Record{}, fmt.Errorf("release with server: %w", err)
	}
	return l.store.Debit(l.userID, amount)
}

// CreditOffline adds amount locally after a completed inbound payment.
// Never touches the server.
func (l *Ledger) CreditOffline(amount decimal.Decimal) (Record, error) {
	if !amount.IsPositive() {
		return Record{}, ErrInvalidAmount
	}
	return l.store.Credit(l.userID, amount)
}

// DebitOffline removes amount locally after a completed outbound payment.
// Never touches the server.
func (l *Ledger) DebitOffline(amount decimal.Decimal) (Record, error) {
	if !amount.IsPositive() {
		return Record{}, ErrInvalidAmount
	}
	return l.store.Debit(l.userID, amount)
}
