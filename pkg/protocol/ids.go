package protocol

import "github.com/google/uuid"

// NewTransactionID generates a unique transaction identifier.
func NewTransactionID() string {
	return uuid.NewString()
}

// NewReceiptID generates a unique receipt identifier.
func NewReceiptID() string {
	return uuid.NewString()
}
