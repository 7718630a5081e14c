package payment

import "sync"

// FlowGuard enforces the at-most-one-active-payment-flow-per-device
// constraint. The transport does not enforce it, so the orchestration layer
// acquires the guard before building either role and releases it when the
// flow reaches a terminal state.
type FlowGuard struct {
	mu       sync.Mutex
	inFlight bool
}

// Acquire claims the device's single flow slot.
func (g *FlowGuard) Acquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight {
		return ErrFlowInProgress
	}
	g.inFlight = true
	return nil
}

// Release frees the flow slot. Safe to call when not held.
func (g *FlowGuard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = false
}
