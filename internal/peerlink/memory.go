package peerlink

import (
	"context"
	"sync"

	"github.com/driftpay/driftpay/pkg/protocol"
)

var _ Link = (*MemoryLink)(nil)

// MemoryLink is an in-memory Link implementation for testing the payment
// flows without real transport or hardware. Two linked instances deliver
// messages to each other in order through a buffered inbox.
type MemoryLink struct {
	id   string
	peer *MemoryLink

	mu           sync.Mutex
	state        State
	inbox        chan []byte
	onMessage    func([]byte)
	onState      func(State)
	offered      bool
	answered     bool
	closed       bool
	dropOutbound bool
}

// NewMemoryLinkPair creates two connected-to-be links. The first is the
// offering side, the second the answering side.
func NewMemoryLinkPair(offerID, answerID string) (*MemoryLink, *MemoryLink) {
	a := &MemoryLink{id: offerID, state: StateNew, inbox: make(chan []byte, 16)}
	b := &MemoryLink{id: answerID, state: StateNew, inbox: make(chan []byte, 16)}
	a.peer = b
	b.peer = a
	go a.dispatch()
	go b.dispatch()
	return a, b
}

func (l *MemoryLink) dispatch() {
	for data := range l.inbox {
		l.mu.Lock()
		fn := l.onMessage
		l.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	}
}

func (l *MemoryLink) CreateOffer(ctx context.Context) (protocol.Signal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return protocol.Signal{}, ErrLinkClosed
	}
	if l.offered || l.answered {
		return protocol.Signal{}, ErrHandshakeOrder
	}
	l.offered = true
	return protocol.Signal{Role: protocol.RoleOffer, SDP: "memory:" + l.id, OriginatorID: l.id}, nil
}

func (l *MemoryLink) CreateAnswer(ctx context.Context, offer protocol.Signal) (protocol.Signal, error) {
	if offer.Role != protocol.RoleOffer {
		return protocol.Signal{}, ErrBadSignalRole
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return protocol.Signal{}, ErrLinkClosed
	}
	if l.offered || l.answered {
		return protocol.Signal{}, ErrHandshakeOrder
	}
	l.answered = true
	return protocol.Signal{Role: protocol.RoleAnswer, SDP: "memory:" + l.id, OriginatorID: l.id}, nil
}

func (l *MemoryLink) CompleteHandshake(answer protocol.Signal) error {
	if answer.Role != protocol.RoleAnswer {
		return ErrBadSignalRole
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLinkClosed
	}
	if !l.offered {
		l.mu.Unlock()
		return ErrHandshakeOrder
	}
	l.mu.Unlock()

	l.setState(StateConnected)
	l.peer.setState(StateConnected)
	return nil
}

func (l *MemoryLink) Send(data []byte) error {
	l.mu.Lock()
	if l.closed || l.state != StateConnected {
		l.mu.Unlock()
		return ErrChannelNotOpen
	}
	drop := l.dropOutbound
	l.mu.Unlock()

	if drop {
		return nil
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	l.peer.mu.Lock()
	peerClosed := l.peer.closed
	l.peer.mu.Unlock()
	if peerClosed {
		return ErrChannelNotOpen
	}
	l.peer.inbox <- buf
	return nil
}

func (l *MemoryLink) OnMessage(fn func(data []byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onMessage = fn
}

func (l *MemoryLink) OnStateChange(fn func(state State)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = fn
}

func (l *MemoryLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.inbox)
	l.mu.Unlock()

	l.setState(StateClosed)
	l.peer.setState(StateDisconnected)
	return nil
}

// DropOutbound makes Send silently discard messages. Test hook for
// simulating a channel that accepts writes the peer never sees.
func (l *MemoryLink) DropOutbound(drop bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropOutbound = drop
}

// FailNow forces both sides into the failed state. Test hook for simulating
// a transport failure mid-flow.
func (l *MemoryLink) FailNow() {
	l.setState(StateFailed)
	l.peer.setState(StateFailed)
}

// State returns the current link state.
func (l *MemoryLink) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *MemoryLink) setState(next State) {
	l.mu.Lock()
	if l.state == StateClosed || l.state == next {
		l.mu.Unlock()
		return
	}
	l.state = next
	fn := l.onState
	l.mu.Unlock()

	if fn != nil {
		fn(next)
	}
}
