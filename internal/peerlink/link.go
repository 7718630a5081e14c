// Package peerlink owns one real-time transport session between two devices
// and its ordered, reliable bidirectional message channel.
package peerlink

import (
	"context"
	"errors"

	"github.com/driftpay/driftpay/pkg/protocol"
)

// State tracks the lifecycle of a peer link. Exactly one instance exists per
// active session, mutated only by transport-level events.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the link can never become usable again. Callers
// build a fresh link instead of reusing one that reached a terminal state.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

var (
	ErrChannelNotOpen = errors.New("data channel not open")
	ErrLinkClosed     = errors.New("link closed")
	ErrBadSignalRole  = errors.New("signal has wrong role for this step")
	ErrHandshakeOrder = errors.New("handshake step out of order")
)

// Link is one peer-to-peer session. A Link is single-use: it carries exactly
// one handshake and one payment exchange, then gets closed.
type Link interface {
	// CreateOffer allocates the session, opens the local data channel, and
	// gathers connectivity candidates, bounded by a fixed timeout.
	CreateOffer(ctx context.Context) (protocol.Signal, error)

	// CreateAnswer applies the peer's offer as the remote description and
	// produces the reciprocal answer, again bounded by the gather timeout.
	CreateAnswer(ctx context.Context, offer protocol.Signal) (protocol.Signal, error)

	// CompleteHandshake applies the peer's answer on the offering side.
	// After this call the transport may independently become connected.
	CompleteHandshake(answer protocol.Signal) error

	// Send transmits one message over the ordered channel. Fails with
	// ErrChannelNotOpen unless the link is connected.
	Send(data []byte) error

	// OnMessage registers the inbound message handler.
	OnMessage(fn func(data []byte))

	// OnStateChange registers the state transition handler. A transition to
	// a terminal state is never silently retried.
	OnStateChange(fn func(state State))

	// Close releases the channel and transport regardless of state.
	// Safe to call multiple times.
	Close() error
}

// Factory builds a fresh Link. The payment layer calls it only after its
// entry validation passes, so a rejected payment never allocates transport
// resources.
type Factory func() (Link, error)
