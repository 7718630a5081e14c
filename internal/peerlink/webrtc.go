package peerlink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/driftpay/driftpay/pkg/protocol"
)

var _ Link = (*WebRTCLink)(nil)

const channelLabel = "payments"

// Config holds WebRTC link configuration.
type Config struct {
	// OriginatorID identifies this device in handshake signals.
	OriginatorID string

	// STUNServers lists STUN URLs for candidate gathering.
	STUNServers []string

	// GatherTimeout bounds candidate gathering. When it elapses the link
	// resolves with whatever local description is available rather than
	// hanging. Default: 10s.
	GatherTimeout time.Duration

	// Logger for debug output.
	Logger *slog.Logger
}

// DefaultSTUNServers returns the default STUN server list.
func DefaultSTUNServers() []string {
	return []string{
		"stun:stun.l.google.com:19302",
		"stun:stun.cloudflare.com:3478",
	}
}

// WebRTCLink wraps a PeerConnection and a single ordered, reliable data
// channel labeled "payments".
type WebRTCLink struct {
	pc     *webrtc.PeerConnection
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	dc        *webrtc.DataChannel
	dcOpen    bool
	offered   bool
	answered  bool
	closed    bool
	onMessage func([]byte)
	onState   func(State)
}

// NewWebRTCLink creates a link backed by a fresh PeerConnection.
func NewWebRTCLink(cfg Config) (*WebRTCLink, error) {
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = 10 * time.Second
	}
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = DefaultSTUNServers()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: cfg.STUNServers}},
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	l := &WebRTCLink{
		pc:     pc,
		cfg:    cfg,
		logger: logger,
		state:  StateNew,
	}

	pc.OnConnectionStateChange(func(cs webrtc.PeerConnectionState) {
		l.setState(mapConnectionState(cs))
	})

	// Inbound channel shows up on the answering side only.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != channelLabel {
			logger.Warn("ignoring unexpected data channel", "label", dc.Label())
			return
		}
		l.adoptChannel(dc)
	})

	return l, nil
}

// CreateOffer opens the local data channel, generates an offer, and waits
// for candidate gathering to finish or time out.
func (l *WebRTCLink) CreateOffer(ctx context.Context) (protocol.Signal, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return protocol.Signal{}, ErrLinkClosed
	}
	if l.offered || l.answered {
		l.mu.Unlock()
		return protocol.Signal{}, ErrHandshakeOrder
	}
	l.offered = true
	l.mu.Unlock()

	ordered := true
	dc, err := l.pc.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return protocol.Signal{}, fmt.Errorf("create data channel: %w", err)
	}
	l.adoptChannel(dc)

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return protocol.Signal{}, fmt.Errorf("create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return protocol.Signal{}, fmt.Errorf("set local description: %w", err)
	}
	l.waitGather(ctx, gatherComplete)

	local := l.pc.LocalDescription()
	if local == nil {
		return protocol.Signal{}, fmt.Errorf("no local description after gathering")
	}
	return protocol.Signal{
		Role:         protocol.RoleOffer,
		SDP:          local.SDP,
		OriginatorID: l.cfg.OriginatorID,
	}, nil
}

// CreateAnswer applies the peer's offer, generates the answer, and waits for
// candidate gathering to finish or time out. The inbound data channel is
// signaled by the transport layer once connected.
func (l *WebRTCLink) CreateAnswer(ctx context.Context, offer protocol.Signal) (protocol.Signal, error) {
	if offer.Role != protocol.RoleOffer {
		return protocol.Signal{}, ErrBadSignalRole
	}
	if err := offer.ValidateBasic(); err != nil {
		return protocol.Signal{}, fmt.Errorf("invalid offer: %w", err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return protocol.Signal{}, ErrLinkClosed
	}
	if l.offered || l.answered {
		l.mu.Unlock()
		return protocol.Signal{}, ErrHandshakeOrder
	}
	l.answered = true
	l.mu.Unlock()

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		return protocol.Signal{}, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.Signal{}, fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return protocol.Signal{}, fmt.Errorf("set local description: %w", err)
	}
	l.waitGather(ctx, gatherComplete)

	local := l.pc.LocalDescription()
	if local == nil {
		return protocol.Signal{}, fmt.Errorf("no local description after gathering")
	}
	return protocol.Signal{
		Role:         protocol.RoleAnswer,
		SDP:          local.SDP,
		OriginatorID: l.cfg.OriginatorID,
	}, nil
}

// CompleteHandshake applies the peer's answer on the offering side.
func (l *WebRTCLink) CompleteHandshake(answer protocol.Signal) error {
	if answer.Role != protocol.RoleAnswer {
		return ErrBadSignalRole
	}
	if err := answer.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid answer: %w", err)
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

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// Send transmits one message over the data channel.
func (l *WebRTCLink) Send(data []byte) error {
	l.mu.Lock()
	dc := l.dc
	open := l.dcOpen && l.state == StateConnected && !l.closed
	l.mu.Unlock()

	if !open || dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	if err := dc.Send(data); err != nil {
		return fmt.Errorf("send on data channel: %w", err)
	}
	return nil
}

// OnMessage registers the inbound message handler.
func (l *WebRTCLink) OnMessage(fn func(data []byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onMessage = fn
}

// OnStateChange registers the state transition handler.
func (l *WebRTCLink) OnStateChange(fn func(state State)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = fn
}

// Close tears down the channel and peer connection. Idempotent.
func (l *WebRTCLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	dc := l.dc
	l.mu.Unlock()

	if dc != nil {
		_ = dc.Close()
	}
	err := l.pc.Close()
	l.setState(StateClosed)
	return err
}

func (l *WebRTCLink) adoptChannel(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()

	dc.OnOpen(func() {
		l.mu.Lock()
		l.dcOpen = true
		l.mu.Unlock()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		l.mu.Lock()
		fn := l.onMessage
		l.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
	dc.OnClose(func() {
		l.mu.Lock()
		l.dcOpen = false
		l.mu.Unlock()
	})
	dc.OnError(func(err error) {
		l.logger.Warn("data channel error", "error", err)
	})
}

func (l *WebRTCLink) waitGather(ctx context.Context, gatherComplete <-chan struct{}) {
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		l.logger.Debug("candidate gathering cancelled", "error", ctx.Err())
	case <-time.After(l.cfg.GatherTimeout):
		l.logger.Debug("candidate gathering timed out, using partial description")
	}
}

// setState records a transport state transition. Once the link is closed no
// further transitions are reported, so a stray ICE event can never resurrect
// a finished session.
func (l *WebRTCLink) setState(next State) {
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

func mapConnectionState(cs webrtc.PeerConnectionState) State {
	switch cs {
	case webrtc.PeerConnectionStateNew:
		return StateNew
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		return StateFailed
	}
}
