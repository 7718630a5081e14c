package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftpay/driftpay/internal/ledger"
	"github.com/driftpay/driftpay/internal/peerlink"
	"github.com/driftpay/driftpay/pkg/protocol"
)

// frameSink collects the frames the receiver pushes back over the link.
type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *frameSink) add(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, data)
}

func (s *frameSink) receipts(t *testing.T) []protocol.Receipt {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Receipt
	for _, f := range s.frames {
		msg, err := protocol.DecodeMessage(f)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		rcpt, ok := msg.(protocol.Receipt)
		if !ok {
			t.Fatalf("frame is %T, want Receipt", msg)
		}
		out = append(out, rcpt)
	}
	return out
}

func waitForReceipts(t *testing.T, sink *frameSink, n int) []protocol.Receipt {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rs := sink.receipts(t); len(rs) >= n {
			return rs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("did not observe %d receipts", n)
	return nil
}

// connectedReceiver wires a receiver to a live memory pair and returns the
// sender-side sink receiving its frames.
func connectedReceiver(t *testing.T, store TransactionStore, balances BalanceLedger) (*Receiver, *frameSink) {
	t.Helper()
	ctx := context.Background()

	offerLink, answerLink := peerlink.NewMemoryLinkPair("alice@driftpay.dev", "bob@driftpay.dev")
	sink := &frameSink{}
	offerLink.OnMessage(sink.add)

	offer, err := offerLink.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}

	rcv := NewReceiver(ReceiverConfig{UserID: "bob@driftpay.dev"},
		factoryFor(answerLink), store, balances)
	answer, err := rcv.Answer(ctx, offer)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := offerLink.CompleteHandshake(answer); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	return rcv, sink
}

// A replayed transaction id acknowledges the recorded outcome without
// crediting a second time.
func TestReceiverReplaysDuplicatePayment(t *testing.T) {
	store := newMemStore()
	balances := newMemBalance("0")

	pay := protocol.NewPayment(decimal.RequireFromString("20"),
		"alice@driftpay.dev", "bob@driftpay.dev", "")
	prior := ledger.Transaction{
		ID:             pay.TransactionID,
		Direction:      ledger.DirectionReceive,
		Amount:         pay.Amount,
		CounterpartyID: pay.SenderID,
		TimestampMs:    pay.TimestampMs,
		Status:         ledger.StatusCompleted,
		ReceiptID:      protocol.NewReceiptID(),
	}
	if err := store.Save(prior); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	rcv, sink := connectedReceiver(t, store, balances)
	tx, err := rcv.process(pay)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if tx.ReceiptID != prior.ReceiptID {
		t.Fatalf("receipt id = %q, want replayed %q", tx.ReceiptID, prior.ReceiptID)
	}
	if !balances.current().Equal(decimal.Zero) {
		t.Fatalf("balance = %s, duplicate must not credit", balances.current())
	}

	rs := waitForReceipts(t, sink, 1)
	if rs[0].ReceiptID != prior.ReceiptID || rs[0].Status != protocol.ReceiptSuccess {
		t.Fatalf("receipt = %+v, want replayed success %s", rs[0], prior.ReceiptID)
	}
}

// An invalid payment gets a failed receipt and leaves no trace in the
// ledger or balance.
func TestReceiverRejectsInvalidPayment(t *testing.T) {
	store := newMemStore()
	balances := newMemBalance("0")
	rcv, sink := connectedReceiver(t, store, balances)

	pay := protocol.Payment{
		Type:          protocol.MessageTypePayment,
		Amount:        decimal.RequireFromString("-5"),
		SenderID:      "alice@driftpay.dev",
		RecipientID:   "bob@driftpay.dev",
		TimestampMs:   time.Now().UnixMilli(),
		TransactionID: protocol.NewTransactionID(),
	}

	if _, err := rcv.process(pay); err == nil {
		t.Fatal("process accepted a negative amount")
	}
	if rcv.State() != ReceiverFailed {
		t.Fatalf("state = %s, want %s", rcv.State(), ReceiverFailed)
	}
	if _, err := store.Get(pay.TransactionID); err != ledger.ErrNotFound {
		t.Fatalf("ledger get err = %v, invalid payment must not be recorded", err)
	}
	if !balances.current().Equal(decimal.Zero) {
		t.Fatalf("balance = %s, want 0", balances.current())
	}

	rs := waitForReceipts(t, sink, 1)
	if rs[0].Status != protocol.ReceiptFailed {
		t.Fatalf("receipt status = %s, want failed", rs[0].Status)
	}
	if rs[0].TransactionID != pay.TransactionID {
		t.Fatalf("receipt transaction id = %s, want %s", rs[0].TransactionID, pay.TransactionID)
	}
}

// rejectCompletedStore accepts the pending write but refuses the completed
// record, modeling a storage failure between credit and persist.
type rejectCompletedStore struct {
	*memStore
}

func (s *rejectCompletedStore) Save(t ledger.Transaction) error {
	if t.Status == ledger.StatusCompleted {
		return errors.New("disk full")
	}
	return s.memStore.Save(t)
}

// Losing the completed record after the credit landed undoes the credit and
// rejects the payment, so balance and ledger never drift apart.
func TestReceiverRollsBackCreditOnPersistFailure(t *testing.T) {
	store := &rejectCompletedStore{memStore: newMemStore()}
	balances := newMemBalance("0")
	rcv, sink := connectedReceiver(t, store, balances)

	pay := protocol.NewPayment(decimal.RequireFromString("20"),
		"alice@driftpay.dev", "bob@driftpay.dev", "")
	if _, err := rcv.process(pay); err == nil {
		t.Fatal("process succeeded despite losing the completed record")
	}
	if rcv.State() != ReceiverFailed {
		t.Fatalf("state = %s, want %s", rcv.State(), ReceiverFailed)
	}
	if !balances.current().Equal(decimal.Zero) {
		t.Fatalf("balance = %s, credit must be rolled back", balances.current())
	}

	rs := waitForReceipts(t, sink, 1)
	if rs[0].Status != protocol.ReceiptFailed {
		t.Fatalf("receipt status = %s, want failed", rs[0].Status)
	}

	stored, err := store.Get(pay.TransactionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != ledger.StatusFailed {
		t.Fatalf("stored status = %s, want failed", stored.Status)
	}
	if stored.ReceiptID != rs[0].ReceiptID {
		t.Fatalf("stored receipt id %q != wire %q", stored.ReceiptID, rs[0].ReceiptID)
	}
}

// The success receipt carries the same receipt id the completed ledger row
// stores, so both sides can match records later.
func TestReceiverReceiptMatchesLedger(t *testing.T) {
	store := newMemStore()
	balances := newMemBalance("0")
	rcv, sink := connectedReceiver(t, store, balances)

	pay := protocol.NewPayment(decimal.RequireFromString("12.50"),
		"alice@driftpay.dev", "bob@driftpay.dev", "coffee")
	tx, err := rcv.process(pay)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if tx.Status != ledger.StatusCompleted {
		t.Fatalf("status = %s, want completed", tx.Status)
	}
	if !balances.current().Equal(pay.Amount) {
		t.Fatalf("balance = %s, want %s", balances.current(), pay.Amount)
	}

	rs := waitForReceipts(t, sink, 1)
	if rs[0].ReceiptID != tx.ReceiptID {
		t.Fatalf("wire receipt id %q != ledger receipt id %q", rs[0].ReceiptID, tx.ReceiptID)
	}

	stored, err := store.Get(pay.TransactionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.ReceiptID != rs[0].ReceiptID {
		t.Fatalf("stored receipt id %q != wire %q", stored.ReceiptID, rs[0].ReceiptID)
	}
}
