package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/driftpay/driftpay/internal/ledger"
	"github.com/driftpay/driftpay/internal/peerlink"
	"github.com/driftpay/driftpay/pkg/protocol"
)

// ReceiverConfig holds one inbound payment's parameters.
type ReceiverConfig struct {
	UserID string

	// ConnectTimeout bounds the wait for the transport to report connected
	// after the answer is produced. Default: 30s.
	ConnectTimeout time.Duration

	// PaymentTimeout bounds the wait for the payment message once the
	// channel is up. Default: 60s.
	PaymentTimeout time.Duration

	Logger *slog.Logger
}

// Receiver drives one inbound payment:
// awaitingOffer -> answerCreated -> connected -> awaitingPayment ->
// paymentReceived -> {completed | failed}.
type Receiver struct {
	cfg      ReceiverConfig
	newLink  peerlink.Factory
	store    TransactionStore
	balances BalanceLedger
	logger   *slog.Logger

	mu       sync.Mutex
	state    ReceiverState
	link     peerlink.Link
	senderID string
	done     bool

	connectedOnce sync.Once
	connectedCh   chan struct{}
	paymentCh     chan protocol.Payment
	linkFailCh    chan peerlink.State
}

func NewReceiver(cfg ReceiverConfig, newLink peerlink.Factory, store TransactionStore, balances BalanceLedger) *Receiver {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		cfg:         cfg,
		newLink:     newLink,
		store:       store,
		balances:    balances,
		logger:      logger,
		state:       ReceiverAwaitingOffer,
		connectedCh: make(chan struct{}),
		paymentCh:   make(chan protocol.Payment, 1),
		linkFailCh:  make(chan peerlink.State, 1),
	}
}

// Answer consumes the sender's scanned offer and produces the answer to
// relay back.
func (r *Receiver) Answer(ctx context.Context, offer protocol.Signal) (protocol.Signal, error) {
	r.mu.Lock()
	if r.state != ReceiverAwaitingOffer {
		r.mu.Unlock()
		return protocol.Signal{}, fmt.Errorf("%w: state %s", ErrInvalidStep, r.state)
	}
	r.senderID = offer.OriginatorID
	r.mu.Unlock()

	link, err := r.newLink()
	if err != nil {
		r.finish(ReceiverFailed)
		return protocol.Signal{}, fmt.Errorf("create peer link: %w", err)
	}

	r.mu.Lock()
	r.link = link
	r.mu.Unlock()

	link.OnMessage(r.handleMessage)
	link.OnStateChange(r.handleLinkState)

	answer, err := link.CreateAnswer(ctx, offer)
	if err != nil {
		r.finish(ReceiverFailed)
		return protocol.Signal{}, fmt.Errorf("create answer: %w", err)
	}

	r.setState(ReceiverAnswerCreated)
	return answer, nil
}

// AwaitPayment blocks until a payment arrives on the channel, credits it,
// and acknowledges with a receipt. The credit is persisted before the
// receipt leaves the device, so a crash between the two leaves the money
// recorded on the receiving side.
func (r *Receiver) AwaitPayment(ctx context.Context) (ledger.Transaction, error) {
	r.mu.Lock()
	if r.state != ReceiverAnswerCreated {
		r.mu.Unlock()
		return ledger.Transaction{}, fmt.Errorf("%w: state %s", ErrInvalidStep, r.state)
	}
	r.mu.Unlock()

	if err := r.waitConnected(ctx); err != nil {
		r.finish(ReceiverFailed)
		return ledger.Transaction{}, err
	}
	r.setState(ReceiverConnected)
	r.setState(ReceiverAwaitingPayment)

	timer := time.NewTimer(r.cfg.PaymentTimeout)
	defer timer.Stop()

	select {
	case pay := <-r.paymentCh:
		r.setState(ReceiverPaymentReceived)
		return r.process(pay)

	case <-timer.C:
		r.finish(ReceiverFailed)
		return ledger.Transaction{}, ErrPaymentTimeout

	case st := <-r.linkFailCh:
		r.finish(ReceiverFailed)
		return ledger.Transaction{}, fmt.Errorf("%w: transport %s while awaiting payment", ErrConnectionLost, st)

	case <-ctx.Done():
		r.finish(ReceiverFailed)
		return ledger.Transaction{}, ctx.Err()
	}
}

func (r *Receiver) process(pay protocol.Payment) (ledger.Transaction, error) {
	// Replays acknowledge the recorded outcome instead of re-crediting.
	if existing, err := r.store.Get(pay.TransactionID); err == nil {
		r.logger.Info("duplicate payment, replaying receipt",
			"transaction_id", pay.TransactionID, "status", existing.Status)
		rcpt := r.receiptFor(existing)
		if err := r.sendReceipt(rcpt); err != nil {
			r.finish(ReceiverFailed)
			return existing, err
		}
		r.finish(ReceiverCompleted)
		return existing, nil
	} else if !errors.Is(err, ledger.ErrNotFound) {
		r.finish(ReceiverFailed)
		return ledger.Transaction{}, fmt.Errorf("check transaction ledger: %w", err)
	}

	if err := pay.ValidateBasic(); err != nil {
		r.logger.Warn("rejecting invalid payment",
			"transaction_id", pay.TransactionID, "error", err)
		rcpt := protocol.NewReceipt(pay.TransactionID, protocol.ReceiptFailed, err.Error())
		if sendErr := r.sendReceipt(rcpt); sendErr != nil {
			r.finish(ReceiverFailed)
			return ledger.Transaction{}, sendErr
		}
		r.finish(ReceiverFailed)
		return ledger.Transaction{}, fmt.Errorf("invalid payment: %w", err)
	}

	tx := ledger.Transaction{
		ID:             pay.TransactionID,
		Direction:      ledger.DirectionReceive,
		Amount:         pay.Amount,
		CounterpartyID: pay.SenderID,
		TimestampMs:    pay.TimestampMs,
		Note:           pay.Note,
		Status:         ledger.StatusPending,
	}
	if err := r.store.Save(tx); err != nil {
		r.finish(ReceiverFailed)
		return tx, fmt.Errorf("persist pending transaction: %w", err)
	}

	if _, err := r.balances.CreditOffline(pay.Amount); err != nil {
		r.failAndReject(&tx, fmt.Sprintf("credit failed: %v", err))
		return tx, fmt.Errorf("credit offline balance: %w", err)
	}

	rcpt := protocol.NewReceipt(pay.TransactionID, protocol.ReceiptSuccess, "")
	tx.Status = ledger.StatusCompleted
	tx.ReceiptID = rcpt.ReceiptID
	if err := r.store.Save(tx); err != nil {
		// A credit without a completed record would drift from the
		// ledger, so the credit is undone before rejecting.
		if _, debitErr := r.balances.DebitOffline(pay.Amount); debitErr != nil {
			r.logger.Error("rollback credit after ledger failure",
				"transaction_id", tx.ID, "error", debitErr)
		}
		r.failAndReject(&tx, "ledger write failed")
		return tx, fmt.Errorf("persist completed transaction: %w", err)
	}

	if err := r.sendReceipt(rcpt); err != nil {
		// The money is credited and recorded; only the acknowledgement
		// was lost. The sender reconciles through its own ledger.
		r.finish(ReceiverCompleted)
		return tx, err
	}

	r.finish(ReceiverCompleted)
	return tx, nil
}

func (r *Receiver) receiptFor(tx ledger.Transaction) protocol.Receipt {
	rcpt := protocol.NewReceipt(tx.ID, protocol.ReceiptSuccess, "")
	if tx.Status != ledger.StatusCompleted {
		rcpt = protocol.NewReceipt(tx.ID, protocol.ReceiptFailed, "previously failed")
	}
	if tx.ReceiptID != "" {
		rcpt.ReceiptID = tx.ReceiptID
	}
	return rcpt
}

func (r *Receiver) failAndReject(tx *ledger.Transaction, reason string) {
	rcpt := protocol.NewReceipt(tx.ID, protocol.ReceiptFailed, reason)
	tx.Status = ledger.StatusFailed
	// The failed row carries the receipt the sender actually saw.
	tx.ReceiptID = rcpt.ReceiptID
	if err := r.store.Save(*tx); err != nil && !errors.Is(err, ledger.ErrStatusRegression) {
		r.logger.Error("persist failed transaction", "transaction_id", tx.ID, "error", err)
	}
	if err := r.sendReceipt(rcpt); err != nil {
		r.logger.Error("send failure receipt", "transaction_id", tx.ID, "error", err)
	}
	r.finish(ReceiverFailed)
}

func (r *Receiver) sendReceipt(rcpt protocol.Receipt) error {
	frame, err := protocol.EncodeMessage(rcpt)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	r.mu.Lock()
	link := r.link
	r.mu.Unlock()
	if err := link.Send(frame); err != nil {
		return fmt.Errorf("send receipt: %w", err)
	}
	return nil
}

func (r *Receiver) waitConnected(ctx context.Context) error {
	timer := time.NewTimer(r.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-r.connectedCh:
		return nil
	case <-timer.C:
		return ErrConnectTimeout
	case st := <-r.linkFailCh:
		return fmt.Errorf("%w: transport %s during handshake", ErrConnectionLost, st)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Receiver) handleMessage(data []byte) {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		r.logger.Warn("dropping undecodable frame", "error", err)
		return
	}

	switch m := msg.(type) {
	case protocol.Payment:
		select {
		case r.paymentCh <- m:
		default:
			r.logger.Warn("dropping extra payment frame", "transaction_id", m.TransactionID)
		}
	case protocol.Receipt:
		r.logger.Warn("receiver received receipt frame, ignoring", "transaction_id", m.TransactionID)
	}
}

func (r *Receiver) handleLinkState(st peerlink.State) {
	if st == peerlink.StateConnected {
		r.connectedOnce.Do(func() { close(r.connectedCh) })
		return
	}
	if st == peerlink.StateFailed || st == peerlink.StateDisconnected || st == peerlink.StateClosed {
		r.mu.Lock()
		done := r.done
		r.mu.Unlock()
		if done {
			return
		}
		select {
		case r.linkFailCh <- st:
		default:
		}
	}
}

// State returns the receiver's current flow state.
func (r *Receiver) State() ReceiverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SenderID returns the counterparty id learned from the offer.
func (r *Receiver) SenderID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.senderID
}

// Close tears down the link without rewriting a terminal flow state.
func (r *Receiver) Close() error {
	r.mu.Lock()
	link := r.link
	r.mu.Unlock()
	if link != nil {
		return link.Close()
	}
	return nil
}

func (r *Receiver) setState(next ReceiverState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.state = next
}

func (r *Receiver) finish(final ReceiverState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.state = final
	r.done = true
}
