package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MessageType tags every frame exchanged over the payment channel.
type MessageType string

const (
	MessageTypePayment MessageType = "payment"
	MessageTypeReceipt MessageType = "receipt"
)

// Message is the closed set of frames a peer may send over the payment
// channel. Handlers dispatch exhaustively on the concrete type.
type Message interface {
	Kind() MessageType
}

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrEmptyMessage       = errors.New("empty message")
)

// Payment asks the peer to credit the given amount. Created once by the
// sender and immutable in transit.
type Payment struct {
	Type          MessageType     `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	SenderID      string          `json:"sender_id"`
	RecipientID   string          `json:"recipient_id"`
	TimestampMs   int64           `json:"timestamp_ms"`
	Note          string          `json:"note,omitempty"`
	TransactionID string          `json:"transaction_id"`
}

func (Payment) Kind() MessageType { return MessageTypePayment }

// NewPayment builds a payment frame with a fresh transaction ID and the
// current wall-clock timestamp.
func NewPayment(amount decimal.Decimal, senderID, recipientID, note string) Payment {
	return Payment{
		Type:          MessageTypePayment,
		Amount:        amount,
		SenderID:      senderID,
		RecipientID:   recipientID,
		TimestampMs:   time.Now().UnixMilli(),
		Note:          note,
		TransactionID: NewTransactionID(),
	}
}

// ValidateBasic performs basic validation on the payment.
// Returns an error if validation fails.
func (p Payment) ValidateBasic() error {
	if !p.Amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	if p.SenderID == "" {
		return errors.New("sender_id is required")
	}
	if p.TransactionID == "" {
		return errors.New("transaction_id is required")
	}
	return nil
}

// ReceiptStatus reports the outcome a receiver recorded for a payment.
type ReceiptStatus string

const (
	ReceiptSuccess ReceiptStatus = "success"
	ReceiptFailed  ReceiptStatus = "failed"
)

// Receipt is the receiver's acknowledgment for exactly one Payment,
// correlated by TransactionID.
type Receipt struct {
	Type          MessageType   `json:"type"`
	TransactionID string        `json:"transaction_id"`
	ReceiptID     string        `json:"receipt_id"`
	Status        ReceiptStatus `json:"status"`
	Error         string        `json:"error,omitempty"`
}

func (Receipt) Kind() MessageType { return MessageTypeReceipt }

// NewReceipt builds a receipt frame for the given transaction.
func NewReceipt(transactionID string, status ReceiptStatus, errMsg string) Receipt {
	return Receipt{
		Type:          MessageTypeReceipt,
		TransactionID: transactionID,
		ReceiptID:     NewReceiptID(),
		Status:        status,
		Error:         errMsg,
	}
}

// EncodeMessage serializes a channel frame to its JSON wire form.
func EncodeMessage(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s message: %w", m.Kind(), err)
	}
	return data, nil
}

// DecodeMessage parses a channel frame and returns the concrete message.
// Frames with an unrecognized type tag are rejected so the caller never
// has to guess at partially decoded payloads.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}

	var tag struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("decode message tag: %w", err)
	}

	switch tag.Type {
	case MessageTypePayment:
		var p Payment
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode payment: %w", err)
		}
		return p, nil
	case MessageTypeReceipt:
		var r Receipt
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode receipt: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, tag.Type)
	}
}
