package server

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/driftpay/driftpay/pkg/protocol"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store for tests and single-node dev runs.
type MemStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	synced   map[string]protocol.SyncTransaction
}

func NewMemStore() *MemStore {
	return &MemStore{
		accounts: make(map[string]Account),
		synced:   make(map[string]protocol.SyncTransaction),
	}
}

func (s *MemStore) GetAccount(_ context.Context, email string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[email]
	if !ok {
		return Account{}, ErrUnknownAccount
	}
	return acct, nil
}

func (s *MemStore) Deposit(_ context.Context, email string, amount decimal.Decimal) (Account, error) {
	if !amount.IsPositive() {
		return Account{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[email]
	if !ok {
		acct = Account{Email: email}
	}
	acct.OnlineBalance = acct.OnlineBalance.Add(amount)
	s.accounts[email] = acct
	return acct, nil
}

func (s *MemStore) Reserve(_ context.Context, email string, amount decimal.Decimal) (Account, error) {
	if !amount.IsPositive() {
		return Account{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[email]
	if !ok {
		return Account{}, ErrUnknownAccount
	}
	if acct.OnlineBalance.LessThan(amount) {
		return Account{}, ErrInsufficientFunds
	}
	acct.OnlineBalance = acct.OnlineBalance.Sub(amount)
	acct.ReservedBalance = acct.ReservedBalance.Add(amount)
	s.accounts[email] = acct
	return acct, nil
}

func (s *MemStore) Release(_ context.Context, email string, amount decimal.Decimal) (Account, error) {
	if !amount.IsPositive() {
		return Account{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[email]
	if !ok {
		return Account{}, ErrUnknownAccount
	}
	if acct.ReservedBalance.LessThan(amount) {
		return Account{}, ErrInsufficientFunds
	}
	acct.ReservedBalance = acct.ReservedBalance.Sub(amount)
	acct.OnlineBalance = acct.OnlineBalance.Add(amount)
	s.accounts[email] = acct
	return acct, nil
}

func (s *MemStore) RecordSynced(_ context.Context, email string, tx protocol.SyncTransaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := email + "/" + tx.TransactionID
	if _, ok := s.synced[key]; ok {
		return true, nil
	}
	s.synced[key] = tx
	return false, nil
}

func (s *MemStore) Close() {}
