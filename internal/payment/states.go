// Package payment drives the end-to-end exchange between two devices: from
// handshake through payment message to receipt, including timeout handling.
// The sender and receiver roles each run an explicit state machine whose
// terminal statuses are sticky: once a flow completes, fails, or times out,
// no late network event can rewrite the outcome.
package payment

import "errors"

// SenderState is the sender role's position in the exchange.
type SenderState int

const (
	SenderInput SenderState = iota
	SenderOfferCreated
	SenderAwaitingAnswer
	SenderConnected
	SenderPaymentSent
	SenderAwaitingReceipt
	SenderCompleted
	SenderFailed
	SenderTimedOut
)

func (s SenderState) String() string {
	switch s {
	case SenderInput:
		return "input"
	case SenderOfferCreated:
		return "offerCreated"
	case SenderAwaitingAnswer:
		return "awaitingAnswer"
	case SenderConnected:
		return "connected"
	case SenderPaymentSent:
		return "paymentSent"
	case SenderAwaitingReceipt:
		return "awaitingReceipt"
	case SenderCompleted:
		return "completed"
	case SenderFailed:
		return "failed"
	case SenderTimedOut:
		return "timedOut"
	default:
		return "unknown"
	}
}

// Terminal reports whether the sender flow is finished.
func (s SenderState) Terminal() bool {
	return s == SenderCompleted || s == SenderFailed || s == SenderTimedOut
}

// ReceiverState is the receiver role's position in the exchange.
type ReceiverState int

const (
	ReceiverAwaitingOffer ReceiverState = iota
	ReceiverAnswerCreated
	ReceiverConnected
	ReceiverAwaitingPayment
	ReceiverPaymentReceived
	ReceiverCompleted
	ReceiverFailed
)

func (s ReceiverState) String() string {
	switch s {
	case ReceiverAwaitingOffer:
		return "awaitingOffer"
	case ReceiverAnswerCreated:
		return "answerCreated"
	case ReceiverConnected:
		return "connected"
	case ReceiverAwaitingPayment:
		return "awaitingPayment"
	case ReceiverPaymentReceived:
		return "paymentReceived"
	case ReceiverCompleted:
		return "completed"
	case ReceiverFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the receiver flow is finished.
func (s ReceiverState) Terminal() bool {
	return s == ReceiverCompleted || s == ReceiverFailed
}

var (
	ErrFlowInProgress  = errors.New("another payment flow is already in progress")
	ErrInvalidStep     = errors.New("operation not valid in current flow state")
	ErrConnectTimeout  = errors.New("timed out waiting for peer connection")
	ErrConnectionLost  = errors.New("peer connection lost")
	ErrReceiptTimeout  = errors.New("timed out waiting for receipt")
	ErrPaymentTimeout  = errors.New("timed out waiting for payment")
	ErrPaymentRejected = errors.New("payment rejected by receiver")
)
