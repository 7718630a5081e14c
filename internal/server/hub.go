package server

import (
	"sync"
	"time"

	"github.com/driftpay/driftpay/pkg/protocol"
)

// deviceConnection holds one connected device and its send channel.
type deviceConnection struct {
	connID string
	send   chan protocol.Envelope
}

// DeviceHub tracks connected sync sockets per account, so balance updates
// can be pushed to every device an account has online.
type DeviceHub struct {
	mu       sync.RWMutex
	accounts map[string]map[string]*deviceConnection // email -> connID -> conn
}

func NewDeviceHub() *DeviceHub {
	return &DeviceHub{accounts: make(map[string]map[string]*deviceConnection)}
}

// Add registers a device connection and returns its remove function. The
// send function performs the actual socket write; a failing write stops the
// connection's writer goroutine.
func (h *DeviceHub) Add(email, connID string, send func(env protocol.Envelope) error) (remove func()) {
	ch := make(chan protocol.Envelope, 256)
	dc := &deviceConnection{connID: connID, send: ch}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for env := range ch {
			if err := send(env); err != nil {
				return
			}
		}
	}()

	h.mu.Lock()
	if h.accounts[email] == nil {
		h.accounts[email] = make(map[string]*deviceConnection)
	}
	h.accounts[email][connID] = dc
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		devices, exists := h.accounts[email]
		if !exists {
			h.mu.Unlock()
			return
		}
		if _, stillThere := devices[connID]; !stillThere {
			h.mu.Unlock()
			return
		}
		delete(devices, connID)
		if len(devices) == 0 {
			delete(h.accounts, email)
		}
		h.mu.Unlock()

		close(ch)
		select {
		case <-done:
		case <-time.After(1 * time.Second):
		}
	}
}

// Count returns the number of devices currently connected for the account.
func (h *DeviceHub) Count(email string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.accounts[email])
}

// Broadcast queues an envelope for every device of the account. Sends are
// non-blocking; a device with a full queue misses the update.
func (h *DeviceHub) Broadcast(email string, env protocol.Envelope) {
	h.mu.RLock()
	devices := make([]*deviceConnection, 0, len(h.accounts[email]))
	for _, dc := range h.accounts[email] {
		devices = append(devices, dc)
	}
	h.mu.RUnlock()

	for _, dc := range devices {
		select {
		case dc.send <- env:
		default:
		}
	}
}
