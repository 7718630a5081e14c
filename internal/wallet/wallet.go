// Package wallet wires the device's stores, the server client, and the
// payment flows into one service. It is the serialization point for the
// one-flow-at-a-time rule.
package wallet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/driftpay/driftpay/internal/balance"
	"github.com/driftpay/driftpay/internal/devicedb"
	"github.com/driftpay/driftpay/internal/ledger"
	"github.com/driftpay/driftpay/internal/payment"
	"github.com/driftpay/driftpay/internal/peerlink"
	"github.com/driftpay/driftpay/internal/walletclient"
	"github.com/driftpay/driftpay/pkg/protocol"
)

// Config holds the service's wiring parameters.
type Config struct {
	Email       string
	ServerURL   string
	DataDir     string
	STUNServers []string
	Logger      *slog.Logger

	// LinkFactory overrides the transport; nil means WebRTC.
	LinkFactory peerlink.Factory
}

// Service owns the device-side wallet state.
type Service struct {
	cfg      Config
	db       *devicedb.DB
	ledger   *ledger.Store
	balances *balance.Ledger
	client   *walletclient.Client
	guard    payment.FlowGuard
	newLink  peerlink.Factory
	logger   *slog.Logger
}

func New(cfg Config) (*Service, error) {
	if cfg.Email == "" {
		return nil, fmt.Errorf("email is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, dbPath, err := devicedb.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open device database: %w", err)
	}
	logger.Debug("device database ready", "path", dbPath)

	client := walletclient.New(cfg.ServerURL, logger)

	s := &Service{
		cfg:      cfg,
		db:       db,
		ledger:   ledger.NewStore(db),
		balances: balance.NewLedger(balance.NewStore(db), client, cfg.Email),
		client:   client,
		logger:   logger,
	}

	s.newLink = cfg.LinkFactory
	if s.newLink == nil {
		s.newLink = func() (peerlink.Link, error) {
			return peerlink.NewWebRTCLink(peerlink.Config{
				OriginatorID: cfg.Email,
				STUNServers:  cfg.STUNServers,
				Logger:       logger,
			})
		}
	}
	return s, nil
}

// Close releases the device database.
func (s *Service) Close() error {
	return s.db.Close()
}

// NewSender claims the device's flow slot and builds the sender role.
// The returned release function must be called when the flow ends.
func (s *Service) NewSender(amount decimal.Decimal, note string) (*payment.Sender, func(), error) {
	if err := s.guard.Acquire(); err != nil {
		return nil, nil, err
	}
	snd, err := payment.NewSender(payment.SenderConfig{
		UserID: s.cfg.Email,
		Amount: amount,
		Note:   note,
		Logger: s.logger,
	}, s.newLink, s.ledger, s.balances)
	if err != nil {
		s.guard.Release()
		return nil, nil, err
	}
	return snd, s.guard.Release, nil
}

// NewReceiver claims the device's flow slot and builds the receiver role.
func (s *Service) NewReceiver() (*payment.Receiver, func(), error) {
	if err := s.guard.Acquire(); err != nil {
		return nil, nil, err
	}
	rcv := payment.NewReceiver(payment.ReceiverConfig{
		UserID: s.cfg.Email,
		Logger: s.logger,
	}, s.newLink, s.ledger, s.balances)
	return rcv, s.guard.Release, nil
}

// Reserve moves online funds into the offline balance.
func (s *Service) Reserve(ctx context.Context, amount decimal.Decimal) (balance.Record, error) {
	return s.balances.Reserve(ctx, amount)
}

// Release returns offline funds to the online balance.
func (s *Service) Release(ctx context.Context, amount decimal.Decimal) (balance.Record, error) {
	return s.balances.Release(ctx, amount)
}

// Balances is the device's combined balance view. Online figures are only
// present when the server was reachable.
type Balances struct {
	Offline decimal.Decimal
	Online  *walletclient.BalanceInfo
}

func (s *Service) Balances(ctx context.Context) (Balances, error) {
	offline, err := s.balances.Spendable()
	if err != nil {
		return Balances{}, fmt.Errorf("read offline balance: %w", err)
	}
	out := Balances{Offline: offline}

	info, err := s.client.Balance(ctx, s.cfg.Email)
	if err != nil {
		s.logger.Warn("server balance unavailable", "error", err)
		return out, nil
	}
	out.Online = &info
	return out, nil
}

// History lists the device's transactions, newest first.
func (s *Service) History(ctx context.Context) ([]ledger.Transaction, error) {
	return s.ledger.List()
}

// SyncReport describes one sync run.
type SyncReport struct {
	Pushed int
	Synced int
}

// Sync pushes completed unsynced transactions to the server and marks the
// acked ones. Requires connectivity.
func (s *Service) Sync(ctx context.Context) (SyncReport, error) {
	pending, err := s.ledger.UnsyncedCompleted()
	if err != nil {
		return SyncReport{}, fmt.Errorf("list unsynced transactions: %w", err)
	}
	if len(pending) == 0 {
		return SyncReport{}, nil
	}

	txs := make([]protocol.SyncTransaction, 0, len(pending))
	for _, t := range pending {
		txs = append(txs, protocol.SyncTransaction{
			TransactionID:  t.ID,
			Direction:      string(t.Direction),
			Amount:         t.Amount,
			CounterpartyID: t.CounterpartyID,
			TimestampMs:    t.TimestampMs,
			ReceiptID:      t.ReceiptID,
		})
	}

	conn, err := walletclient.DialSync(ctx, s.cfg.ServerURL, s.cfg.Email, s.logger)
	if err != nil {
		return SyncReport{Pushed: len(txs)}, fmt.Errorf("connect sync socket: %w", err)
	}
	defer conn.Close()

	acked, err := conn.SyncTransactions(ctx, txs)
	report := SyncReport{Pushed: len(txs)}
	for _, id := range acked {
		if markErr := s.ledger.MarkSynced(id); markErr != nil {
			s.logger.Error("mark transaction synced", "transaction_id", id, "error", markErr)
			continue
		}
		report.Synced++
	}
	if err != nil {
		return report, fmt.Errorf("sync transactions: %w", err)
	}
	return report, nil
}
