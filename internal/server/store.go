// Package server implements the online wallet server: reserve/release RPCs,
// balance queries, and the device sync socket.
package server

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/driftpay/driftpay/pkg/protocol"
)

var (
	ErrUnknownAccount    = errors.New("unknown account")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Account is one wallet account's server-side balance split.
type Account struct {
	Email           string
	OnlineBalance   decimal.Decimal
	ReservedBalance decimal.Decimal
}

// Store persists accounts and synced offline transactions.
type Store interface {
	// GetAccount returns the account, or ErrUnknownAccount.
	GetAccount(ctx context.Context, email string) (Account, error)

	// Deposit adds amount to the account's online balance, creating the
	// account on first use.
	Deposit(ctx context.Context, email string, amount decimal.Decimal) (Account, error)

	// Reserve moves amount from online to reserved. Fails with
	// ErrInsufficientFunds when the online balance cannot cover it.
	Reserve(ctx context.Context, email string, amount decimal.Decimal) (Account, error)

	// Release moves amount from reserved back to online. Fails with
	// ErrInsufficientFunds when the reserved balance cannot cover it.
	Release(ctx context.Context, email string, amount decimal.Decimal) (Account, error)

	// RecordSynced stores one offline transaction reported by a device.
	// Recording the same transaction id twice is not an error; the second
	// write reports duplicate=true and changes nothing.
	RecordSynced(ctx context.Context, email string, tx protocol.SyncTransaction) (duplicate bool, err error)

	Close()
}
