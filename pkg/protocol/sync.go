package protocol

import "github.com/shopspring/decimal"

// Message type constants for sync envelopes.
const (
	TypeSyncTransaction = "sync_transaction"
	TypeSyncAck         = "sync_ack"
	TypeBalanceUpdate   = "balance_update"
	TypeError           = "error"
)

// SyncTransaction uploads one completed offline transaction to the server
// for reconciliation.
type SyncTransaction struct {
	TransactionID  string          `json:"transaction_id"`
	Direction      string          `json:"direction"`
	Amount         decimal.Decimal `json:"amount"`
	CounterpartyID string          `json:"counterparty_id"`
	TimestampMs    int64           `json:"timestamp_ms"`
	ReceiptID      string          `json:"receipt_id,omitempty"`
}

// SyncAck confirms the server durably recorded a synced transaction.
type SyncAck struct {
	TransactionID string `json:"transaction_id"`
	Duplicate     bool   `json:"duplicate,omitempty"`
}

// BalanceUpdate notifies connected devices of the account's server-side split.
type BalanceUpdate struct {
	Email           string          `json:"email"`
	OnlineBalance   decimal.Decimal `json:"online_balance"`
	ReservedBalance decimal.Decimal `json:"reserved_balance"`
}

// Error codes shared between HTTP and sync error payloads.
const (
	ErrCodeInsufficientFunds = "insufficient_funds"
	ErrCodeInvalidAmount     = "invalid_amount"
	ErrCodeUnknownAccount    = "unknown_account"
	ErrCodeBadRequest        = "bad_request"
)

// Error represents an error message in the sync protocol.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
