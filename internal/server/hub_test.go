package server

import (
	"sync"
	"testing"
	"time"

	"github.com/driftpay/driftpay/pkg/protocol"
)

type envelopeSink struct {
	mu   sync.Mutex
	envs []protocol.Envelope
}

func (s *envelopeSink) send(env protocol.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
	return nil
}

func (s *envelopeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs)
}

func waitForCount(t *testing.T, sink *envelopeSink, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sink.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sink has %d envelopes, want %d", sink.count(), n)
}

func TestDeviceHubBroadcastReachesAllDevices(t *testing.T) {
	hub := NewDeviceHub()

	var a, b envelopeSink
	removeA := hub.Add("alice@driftpay.dev", "conn-1", a.send)
	removeB := hub.Add("alice@driftpay.dev", "conn-2", b.send)
	defer removeA()
	defer removeB()

	if hub.Count("alice@driftpay.dev") != 2 {
		t.Fatalf("count = %d, want 2", hub.Count("alice@driftpay.dev"))
	}

	env, err := protocol.NewEnvelope(protocol.TypeBalanceUpdate, protocol.NewMsgID(), nil)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	hub.Broadcast("alice@driftpay.dev", env)

	waitForCount(t, &a, 1)
	waitForCount(t, &b, 1)
}

func TestDeviceHubBroadcastScopedToAccount(t *testing.T) {
	hub := NewDeviceHub()

	var alice, bob envelopeSink
	defer hub.Add("alice@driftpay.dev", "conn-1", alice.send)()
	defer hub.Add("bob@driftpay.dev", "conn-2", bob.send)()

	env, err := protocol.NewEnvelope(protocol.TypeBalanceUpdate, protocol.NewMsgID(), nil)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	hub.Broadcast("alice@driftpay.dev", env)

	waitForCount(t, &alice, 1)
	time.Sleep(50 * time.Millisecond)
	if bob.count() != 0 {
		t.Fatalf("bob received %d envelopes, want 0", bob.count())
	}
}

func TestDeviceHubRemoveIsIdempotent(t *testing.T) {
	hub := NewDeviceHub()

	var sink envelopeSink
	remove := hub.Add("alice@driftpay.dev", "conn-1", sink.send)
	remove()
	remove()

	if hub.Count("alice@driftpay.dev") != 0 {
		t.Fatalf("count = %d, want 0", hub.Count("alice@driftpay.dev"))
	}
}
