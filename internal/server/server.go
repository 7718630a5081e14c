package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/driftpay/driftpay/pkg/protocol"
)

// Server exposes the wallet HTTP API and the device sync socket.
type Server struct {
	store  Store
	hub    *DeviceHub
	logger *slog.Logger
	router chi.Router
}

func New(store Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	registerMetrics()

	s := &Server{
		store:  store,
		hub:    NewDeviceHub(),
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metricsHandler())
	r.Post("/deposit", s.handleDeposit)
	r.Post("/reserve", s.handleReserve)
	r.Post("/release", s.handleRelease)
	r.Get("/balance", s.handleBalance)
	r.Get("/ws", s.handleWS)

	s.router = r
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

type amountRequest struct {
	Email  string          `json:"email"`
	Amount decimal.Decimal `json:"amount"`
}

type balanceResponse struct {
	Email           string          `json:"email"`
	OnlineBalance   decimal.Decimal `json:"online_balance"`
	ReservedBalance decimal.Decimal `json:"reserved_balance"`
}

type reserveResponse struct {
	ReservedBalance decimal.Decimal `json:"reserved_balance"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAmountRequest(w, r)
	if !ok {
		return
	}
	acct, err := s.store.Deposit(r.Context(), req.Email, req.Amount)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.broadcastBalance(acct)
	writeJSON(w, http.StatusOK, balanceResponse{
		Email:           acct.Email,
		OnlineBalance:   acct.OnlineBalance,
		ReservedBalance: acct.ReservedBalance,
	})
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	s.handleMove(w, r, "reserve", s.store.Reserve)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	s.handleMove(w, r, "release", s.store.Release)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request, op string,
	move func(ctx context.Context, email string, amount decimal.Decimal) (Account, error)) {

	req, ok := decodeAmountRequest(w, r)
	if !ok {
		reservationsTotal.WithLabelValues(op, "rejected").Inc()
		return
	}

	acct, err := move(r.Context(), req.Email, req.Amount)
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrUnknownAccount) {
			reservationsTotal.WithLabelValues(op, "rejected").Inc()
		} else {
			reservationsTotal.WithLabelValues(op, "error").Inc()
		}
		s.writeStoreError(w, err)
		return
	}

	reservationsTotal.WithLabelValues(op, "ok").Inc()
	s.logger.Info("balance moved", "op", op, "email", acct.Email,
		"online", acct.OnlineBalance, "reserved", acct.ReservedBalance)
	s.broadcastBalance(acct)
	writeJSON(w, http.StatusOK, reserveResponse{ReservedBalance: acct.ReservedBalance})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest, "missing email")
		return
	}
	acct, err := s.store.GetAccount(r.Context(), email)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Email:           acct.Email,
		OnlineBalance:   acct.OnlineBalance,
		ReservedBalance: acct.ReservedBalance,
	})
}

// broadcastBalance pushes the account's new split to every connected device.
func (s *Server) broadcastBalance(acct Account) {
	env, err := protocol.NewEnvelope(protocol.TypeBalanceUpdate, protocol.NewMsgID(), protocol.BalanceUpdate{
		Email:           acct.Email,
		OnlineBalance:   acct.OnlineBalance,
		ReservedBalance: acct.ReservedBalance,
	})
	if err != nil {
		s.logger.Error("build balance update", "error", err)
		return
	}
	env.Email = acct.Email
	s.hub.Broadcast(acct.Email, env)
}

func decodeAmountRequest(w http.ResponseWriter, r *http.Request) (amountRequest, bool) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest, "invalid JSON body")
		return amountRequest{}, false
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest, "missing email")
		return amountRequest{}, false
	}
	return req, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownAccount):
		writeError(w, http.StatusNotFound, protocol.ErrCodeUnknownAccount, err.Error())
	case errors.Is(err, ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidAmount, err.Error())
	case errors.Is(err, ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, protocol.ErrCodeInsufficientFunds, err.Error())
	default:
		s.logger.Error("store operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, protocol.Error{Code: code, Message: msg})
}
