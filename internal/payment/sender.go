package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftpay/driftpay/internal/balance"
	"github.com/driftpay/driftpay/internal/ledger"
	"github.com/driftpay/driftpay/internal/peerlink"
	"github.com/driftpay/driftpay/pkg/protocol"
)

// TransactionStore is the slice of the local transaction ledger the payment
// flows need.
type TransactionStore interface {
	Save(t ledger.Transaction) error
	Get(id string) (ledger.Transaction, error)
}

// BalanceLedger is the slice of the offline balance ledger the payment flows
// need. Credit and debit are purely local mutations.
type BalanceLedger interface {
	Spendable() (decimal.Decimal, error)
	CreditOffline(amount decimal.Decimal) (balance.Record, error)
	DebitOffline(amount decimal.Decimal) (balance.Record, error)
}

// SenderConfig holds one outbound payment's parameters.
type SenderConfig struct {
	UserID string
	Amount decimal.Decimal
	Note   string

	// ConnectTimeout bounds the wait for the transport to report connected
	// after the handshake completes. Default: 30s.
	ConnectTimeout time.Duration

	// ReceiptTimeout bounds the wait for the receiver's receipt after the
	// payment message is sent. Default: 30s.
	ReceiptTimeout time.Duration

	Logger *slog.Logger
}

// Sender drives one outbound payment:
// input -> offerCreated -> awaitingAnswer -> connected -> paymentSent ->
// awaitingReceipt -> {completed | failed | timedOut}.
type Sender struct {
	cfg      SenderConfig
	newLink  peerlink.Factory
	store    TransactionStore
	balances BalanceLedger
	logger   *slog.Logger

	mu          sync.Mutex
	state       SenderState
	link        peerlink.Link
	recipientID string
	txID        string
	done        bool

	connectedOnce sync.Once
	connectedCh   chan struct{}
	receiptCh     chan protocol.Receipt
	linkFailCh    chan peerlink.State
}

// NewSender validates the payment before anything else. Amount must be
// positive and within the current offline balance; rejection happens here,
// before the link factory ever runs, so no transport resources are
// allocated for a payment that cannot complete.
func NewSender(cfg SenderConfig, newLink peerlink.Factory, store TransactionStore, balances BalanceLedger) (*Sender, error) {
	if !cfg.Amount.IsPositive() {
		return nil, balance.ErrInvalidAmount
	}
	spendable, err := balances.Spendable()
	if err != nil {
		return nil, fmt.Errorf("read offline balance: %w", err)
	}
	if spendable.LessThan(cfg.Amount) {
		return nil, fmt.Errorf("%w: have %s, need %s", balance.ErrInsufficientOffline, spendable, cfg.Amount)
	}

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sender{
		cfg:         cfg,
		newLink:     newLink,
		store:       store,
		balances:    balances,
		logger:      logger,
		state:       SenderInput,
		connectedCh: make(chan struct{}),
		receiptCh:   make(chan protocol.Receipt, 1),
		linkFailCh:  make(chan peerlink.State, 1),
	}, nil
}

// Offer allocates the peer link and produces the connection offer to relay
// to the receiver.
func (s *Sender) Offer(ctx context.Context) (protocol.Signal, error) {
	s.mu.Lock()
	if s.state != SenderInput {
		s.mu.Unlock()
		return protocol.Signal{}, fmt.Errorf("%w: state %s", ErrInvalidStep, s.state)
	}
	s.mu.Unlock()

	link, err := s.newLink()
	if err != nil {
		s.finish(SenderFailed)
		return protocol.Signal{}, fmt.Errorf("create peer link: %w", err)
	}

	s.mu.Lock()
	s.link = link
	s.mu.Unlock()

	link.OnMessage(s.handleMessage)
	link.OnStateChange(s.handleLinkState)

	offer, err := link.CreateOffer(ctx)
	if err != nil {
		s.finish(SenderFailed)
		return protocol.Signal{}, fmt.Errorf("create offer: %w", err)
	}

	s.setState(SenderOfferCreated)
	s.setState(SenderAwaitingAnswer)
	return offer, nil
}

// Complete runs the rest of the flow once the receiver's answer has been
// scanned: finish the handshake, wait for the channel, send the payment,
// and wait for the receipt. It returns the final ledger record.
func (s *Sender) Complete(ctx context.Context, answer protocol.Signal) (ledger.Transaction, error) {
	s.mu.Lock()
	if s.state != SenderAwaitingAnswer {
		s.mu.Unlock()
		return ledger.Transaction{}, fmt.Errorf("%w: state %s", ErrInvalidStep, s.state)
	}
	link := s.link
	s.recipientID = answer.OriginatorID
	s.mu.Unlock()

	if err := link.CompleteHandshake(answer); err != nil {
		s.finish(SenderFailed)
		return ledger.Transaction{}, fmt.Errorf("complete handshake: %w", err)
	}

	if err := s.waitConnected(ctx); err != nil {
		s.finish(SenderFailed)
		return ledger.Transaction{}, err
	}
	s.setState(SenderConnected)

	pay := protocol.NewPayment(s.cfg.Amount, s.cfg.UserID, s.recipientID, s.cfg.Note)
	s.mu.Lock()
	s.txID = pay.TransactionID
	s.mu.Unlock()

	// The pending record goes to disk before the message leaves the
	// device: if anything fails from here on, the ledger entry remains
	// inspectable for manual reconciliation.
	tx := ledger.Transaction{
		ID:             pay.TransactionID,
		Direction:      ledger.DirectionSend,
		Amount:         pay.Amount,
		CounterpartyID: s.recipientID,
		TimestampMs:    pay.TimestampMs,
		Note:           pay.Note,
		Status:         ledger.StatusPending,
	}
	if err := s.store.Save(tx); err != nil {
		s.finish(SenderFailed)
		return tx, fmt.Errorf("persist pending transaction: %w", err)
	}

	frame, err := protocol.EncodeMessage(pay)
	if err != nil {
		s.failTransaction(&tx)
		s.finish(SenderFailed)
		return tx, fmt.Errorf("encode payment: %w", err)
	}
	if err := link.Send(frame); err != nil {
		s.failTransaction(&tx)
		s.finish(SenderFailed)
		return tx, fmt.Errorf("send payment: %w", err)
	}

	s.setState(SenderPaymentSent)
	s.setState(SenderAwaitingReceipt)
	return s.awaitReceipt(ctx, tx)
}

func (s *Sender) awaitReceipt(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	timer := time.NewTimer(s.cfg.ReceiptTimeout)
	defer timer.Stop()

	select {
	case rcpt := <-s.receiptCh:
		return s.settle(tx, rcpt)

	case <-timer.C:
		// Funds status is ambiguous until reconciled: the debit never
		// happened and the failed entry stays visible.
		s.failTransaction(&tx)
		s.finish(SenderTimedOut)
		return tx, ErrReceiptTimeout

	case st := <-s.linkFailCh:
		s.failTransaction(&tx)
		s.finish(SenderFailed)
		return tx, fmt.Errorf("%w: transport %s while awaiting receipt", ErrConnectionLost, st)

	case <-ctx.Done():
		s.failTransaction(&tx)
		s.finish(SenderFailed)
		return tx, ctx.Err()
	}
}

func (s *Sender) settle(tx ledger.Transaction, rcpt protocol.Receipt) (ledger.Transaction, error) {
	if rcpt.Status == protocol.ReceiptSuccess {
		tx.Status = ledger.StatusCompleted
		tx.ReceiptID = rcpt.ReceiptID
		if err := s.store.Save(tx); err != nil {
			s.finish(SenderFailed)
			return tx, fmt.Errorf("persist completed transaction: %w", err)
		}
		if _, err := s.balances.DebitOffline(tx.Amount); err != nil {
			// The completed record stands; the balance discrepancy is
			// resolved through the ledger, never by rolling back.
			s.finish(SenderCompleted)
			return tx, fmt.Errorf("debit offline balance: %w", err)
		}
		s.finish(SenderCompleted)
		return tx, nil
	}

	tx.Status = ledger.StatusFailed
	tx.ReceiptID = rcpt.ReceiptID
	if err := s.store.Save(tx); err != nil {
		s.logger.Error("persist failed transaction", "transaction_id", tx.ID, "error", err)
	}
	s.finish(SenderFailed)
	if rcpt.Error != "" {
		return tx, fmt.Errorf("%w: %s", ErrPaymentRejected, rcpt.Error)
	}
	return tx, ErrPaymentRejected
}

// failTransaction marks the ledger entry failed unless it already reached a
// terminal status, which guards against a late receipt racing the timeout.
func (s *Sender) failTransaction(tx *ledger.Transaction) {
	tx.Status = ledger.StatusFailed
	if err := s.store.Save(*tx); err != nil && !errors.Is(err, ledger.ErrStatusRegression) {
		s.logger.Error("persist failed transaction", "transaction_id", tx.ID, "error", err)
	}
}

func (s *Sender) waitConnected(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-s.connectedCh:
		return nil
	case <-timer.C:
		return ErrConnectTimeout
	case st := <-s.linkFailCh:
		return fmt.Errorf("%w: transport %s during handshake", ErrConnectionLost, st)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sender) handleMessage(data []byte) {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		s.logger.Warn("dropping undecodable frame", "error", err)
		return
	}

	switch m := msg.(type) {
	case protocol.Receipt:
		s.mu.Lock()
		match := m.TransactionID == s.txID && !s.done
		s.mu.Unlock()
		if !match {
			s.logger.Warn("dropping unmatched receipt", "transaction_id", m.TransactionID)
			return
		}
		select {
		case s.receiptCh <- m:
		default:
		}
	case protocol.Payment:
		s.logger.Warn("sender received payment frame, ignoring", "transaction_id", m.TransactionID)
	}
}

func (s *Sender) handleLinkState(st peerlink.State) {
	if st == peerlink.StateConnected {
		s.connectedOnce.Do(func() { close(s.connectedCh) })
		return
	}
	if st == peerlink.StateFailed || st == peerlink.StateDisconnected || st == peerlink.StateClosed {
		s.mu.Lock()
		done := s.done
		s.mu.Unlock()
		if done {
			// Terminal status wins over any stray disconnect.
			return
		}
		select {
		case s.linkFailCh <- st:
		default:
		}
	}
}

// State returns the sender's current flow state.
func (s *Sender) State() SenderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TransactionID returns the id of the payment in flight, if any.
func (s *Sender) TransactionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txID
}

// Close tears down the link. The flow state is left as-is: closing never
// rewrites a terminal outcome.
func (s *Sender) Close() error {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link != nil {
		return link.Close()
	}
	return nil
}

func (s *Sender) setState(next SenderState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.state = next
}

func (s *Sender) finish(final SenderState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.state = final
	s.done = true
}
