package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/driftpay/driftpay/pkg/protocol"
)

var _ Store = (*PgStore)(nil)

// PgStore is the Postgres-backed Store.
type PgStore struct {
	db *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	email            TEXT PRIMARY KEY,
	online_balance   NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (online_balance >= 0),
	reserved_balance NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (reserved_balance >= 0)
);
CREATE TABLE IF NOT EXISTS synced_transactions (
	email           TEXT NOT NULL,
	transaction_id  TEXT NOT NULL,
	direction       TEXT NOT NULL,
	amount          NUMERIC(20,2) NOT NULL,
	counterparty_id TEXT NOT NULL,
	timestamp_ms    BIGINT NOT NULL,
	receipt_id      TEXT NOT NULL DEFAULT '',
	synced_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (email, transaction_id)
);
`

// NewPgStore connects to Postgres, verifies the connection, and applies the
// schema.
func NewPgStore(ctx context.Context, connString string) (*PgStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PgStore{db: pool}, nil
}

func (s *PgStore) GetAccount(ctx context.Context, email string) (Account, error) {
	var acct Account
	err := s.db.QueryRow(ctx,
		"SELECT email, online_balance, reserved_balance FROM accounts WHERE email = $1",
		email).Scan(&acct.Email, &acct.OnlineBalance, &acct.ReservedBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrUnknownAccount
	}
	if err != nil {
		return Account{}, fmt.Errorf("query account: %w", err)
	}
	return acct, nil
}

func (s *PgStore) Deposit(ctx context.Context, email string, amount decimal.Decimal) (Account, error) {
	if !amount.IsPositive() {
		return Account{}, ErrInvalidAmount
	}
	var acct Account
	err := s.db.QueryRow(ctx, `
		INSERT INTO accounts (email, online_balance) VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET online_balance = accounts.online_balance + $2
		RETURNING email, online_balance, reserved_balance`,
		email, amount).Scan(&acct.Email, &acct.OnlineBalance, &acct.ReservedBalance)
	if err != nil {
		return Account{}, fmt.Errorf("deposit: %w", err)
	}
	return acct, nil
}

// Reserve moves funds online -> reserved inside one transaction, with the
// row locked so concurrent reservations cannot both pass the balance check.
func (s *PgStore) Reserve(ctx context.Context, email string, amount decimal.Decimal) (Account, error) {
	return s.move(ctx, email, amount, true)
}

func (s *PgStore) Release(ctx context.Context, email string, amount decimal.Decimal) (Account, error) {
	return s.move(ctx, email, amount, false)
}

func (s *PgStore) move(ctx context.Context, email string, amount decimal.Decimal, toReserved bool) (Account, error) {
	if !amount.IsPositive() {
		return Account{}, ErrInvalidAmount
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var acct Account
	err = tx.QueryRow(ctx,
		"SELECT email, online_balance, reserved_balance FROM accounts WHERE email = $1 FOR UPDATE",
		email).Scan(&acct.Email, &acct.OnlineBalance, &acct.ReservedBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrUnknownAccount
	}
	if err != nil {
		return Account{}, fmt.Errorf("lock account: %w", err)
	}

	if toReserved {
		if acct.OnlineBalance.LessThan(amount) {
			return Account{}, ErrInsufficientFunds
		}
		acct.OnlineBalance = acct.OnlineBalance.Sub(amount)
		acct.ReservedBalance = acct.ReservedBalance.Add(amount)
	} else {
		if acct.ReservedBalance.LessThan(amount) {
			return Account{}, ErrInsufficientFunds
		}
		acct.ReservedBalance = acct.ReservedBalance.Sub(amount)
		acct.OnlineBalance = acct.OnlineBalance.Add(amount)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE accounts SET online_balance = $2, reserved_balance = $3 WHERE email = $1",
		email, acct.OnlineBalance, acct.ReservedBalance); err != nil {
		return Account{}, fmt.Errorf("update account: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("commit: %w", err)
	}
	return acct, nil
}

func (s *PgStore) RecordSynced(ctx context.Context, email string, syncTx protocol.SyncTransaction) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO synced_transactions
			(email, transaction_id, direction, amount, counterparty_id, timestamp_ms, receipt_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email, transaction_id) DO NOTHING`,
		email, syncTx.TransactionID, syncTx.Direction, syncTx.Amount,
		syncTx.CounterpartyID, syncTx.TimestampMs, syncTx.ReceiptID)
	if err != nil {
		return false, fmt.Errorf("record synced transaction: %w", err)
	}
	return tag.RowsAffected() == 0, nil
}

func (s *PgStore) Close() {
	s.db.Close()
}
