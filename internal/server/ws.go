package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/driftpay/driftpay/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsIdleTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleWS upgrades the connection and serves the wallet sync protocol:
// devices push sync_transaction envelopes, the server acks each by id and
// pushes balance_update envelopes whenever the account's split changes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest, "missing email")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	wsConnections.Inc()
	defer wsConnections.Dec()

	conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

	var writeMu sync.Mutex
	writeEnv := func(env protocol.Envelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(env)
	}

	connID := uuid.NewString()
	removeDevice := s.hub.Add(email, connID, writeEnv)
	defer removeDevice()

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	s.logger.Info("device connected", "email", email, "conn_id", connID)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "email", email, "error", err)
			}
			s.logger.Info("device disconnected", "email", email, "conn_id", connID)
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if messageType != websocket.TextMessage {
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.sendWSError(writeEnv, protocol.ErrCodeBadRequest, "invalid JSON envelope")
			continue
		}
		if err := env.ValidateBasic(); err != nil {
			s.sendWSError(writeEnv, protocol.ErrCodeBadRequest, err.Error())
			continue
		}

		switch env.Type {
		case protocol.TypeSyncTransaction:
			s.handleSyncTransaction(r, email, env, writeEnv)
		default:
			s.sendWSError(writeEnv, protocol.ErrCodeBadRequest, "unsupported message type: "+env.Type)
		}
	}
}

func (s *Server) handleSyncTransaction(r *http.Request, email string, env protocol.Envelope,
	writeEnv func(protocol.Envelope) error) {

	var syncTx protocol.SyncTransaction
	if err := env.DecodePayload(&syncTx); err != nil {
		syncedTransactionsTotal.WithLabelValues("error").Inc()
		s.sendWSError(writeEnv, protocol.ErrCodeBadRequest, "invalid sync_transaction payload")
		return
	}
	if syncTx.TransactionID == "" {
		syncedTransactionsTotal.WithLabelValues("error").Inc()
		s.sendWSError(writeEnv, protocol.ErrCodeBadRequest, "missing transaction_id")
		return
	}

	duplicate, err := s.store.RecordSynced(r.Context(), email, syncTx)
	if err != nil {
		syncedTransactionsTotal.WithLabelValues("error").Inc()
		s.logger.Error("record synced transaction", "email", email,
			"transaction_id", syncTx.TransactionID, "error", err)
		s.sendWSError(writeEnv, "internal", "could not record transaction")
		return
	}

	if duplicate {
		syncedTransactionsTotal.WithLabelValues("duplicate").Inc()
	} else {
		syncedTransactionsTotal.WithLabelValues("recorded").Inc()
		s.logger.Info("transaction synced", "email", email,
			"transaction_id", syncTx.TransactionID, "direction", syncTx.Direction)
	}

	ack, err := protocol.NewEnvelope(protocol.TypeSyncAck, protocol.NewMsgID(), protocol.SyncAck{
		TransactionID: syncTx.TransactionID,
		Duplicate:     duplicate,
	})
	if err != nil {
		s.logger.Error("build sync ack", "error", err)
		return
	}
	ack.Email = email
	if err := writeEnv(ack); err != nil {
		s.logger.Warn("send sync ack", "email", email, "error", err)
	}
}

func (s *Server) sendWSError(writeEnv func(protocol.Envelope) error, code, msg string) {
	env, err := protocol.NewEnvelope(protocol.TypeError, protocol.NewMsgID(), protocol.Error{
		Code:    code,
		Message: msg,
	})
	if err != nil {
		return
	}
	if err := writeEnv(env); err != nil {
		s.logger.Warn("send ws error", "error", err)
	}
}
