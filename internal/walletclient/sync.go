package walletclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftpay/driftpay/pkg/protocol"
)

// SyncConn is a WebSocket connection to the server's wallet sync endpoint.
type SyncConn struct {
	conn     *websocket.Conn
	email    string
	logger   *slog.Logger
	sendChan chan protocol.Envelope
	done     chan struct{}
	writeMu  sync.Mutex
}

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

// DialSync connects to the server's /ws endpoint for the given account.
// serverURL accepts http(s) or ws(s) schemes; http is rewritten to ws.
func DialSync(ctx context.Context, serverURL, email string, logger *slog.Logger) (*SyncConn, error) {
	if logger == nil {
		logger = slog.Default()
	}

	wsURL, err := syncURL(serverURL, email)
	if err != nil {
		return nil, err
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
		}
		return nil, err
	}

	c := &SyncConn{
		conn:     conn,
		email:    email,
		logger:   logger,
		sendChan: make(chan protocol.Envelope, 256),
		done:     make(chan struct{}),
	}
	go c.writeLoop()
	return c, nil
}

func syncURL(serverURL, email string) (string, error) {
	switch {
	case strings.HasPrefix(serverURL, "http://"):
		serverURL = "ws://" + strings.TrimPrefix(serverURL, "http://")
	case strings.HasPrefix(serverURL, "https://"):
		serverURL = "wss://" + strings.TrimPrefix(serverURL, "https://")
	case !strings.HasPrefix(serverURL, "ws"):
		serverURL = "ws://" + serverURL
	}
	u, err := url.Parse(strings.TrimRight(serverURL, "/") + "/ws")
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("email", email)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SyncTransactions pushes the given transactions and waits for the server's
// ack on each. It returns the ids the server durably recorded; a duplicate
// ack still counts as recorded.
func (c *SyncConn) SyncTransactions(ctx context.Context, txs []protocol.SyncTransaction) ([]string, error) {
	if len(txs) == 0 {
		return nil, nil
	}

	pending := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		env, err := protocol.NewEnvelope(protocol.TypeSyncTransaction, protocol.NewMsgID(), tx)
		if err != nil {
			return nil, fmt.Errorf("build sync envelope: %w", err)
		}
		env.Email = c.email
		if err := c.Send(env); err != nil {
			return nil, err
		}
		pending[tx.TransactionID] = struct{}{}
	}

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		acked []string
	)
	err := c.ReadLoop(readCtx, func(env protocol.Envelope) {
		switch env.Type {
		case protocol.TypeSyncAck:
			var ack protocol.SyncAck
			if err := env.DecodePayload(&ack); err != nil {
				c.logger.Warn("invalid sync ack payload", "error", err)
				return
			}
			mu.Lock()
			if _, ok := pending[ack.TransactionID]; ok {
				delete(pending, ack.TransactionID)
				acked = append(acked, ack.TransactionID)
			}
			remaining := len(pending)
			mu.Unlock()
			if remaining == 0 {
				cancel()
			}
		case protocol.TypeError:
			var se protocol.Error
			if decErr := env.DecodePayload(&se); decErr == nil {
				c.logger.Warn("server sync error", "code", se.Code, "message", se.Message)
			}
		}
	})

	mu.Lock()
	defer mu.Unlock()
	if len(pending) > 0 {
		if err == nil || errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%d transactions not acknowledged", len(pending))
		}
		return acked, err
	}
	return acked, nil
}

// ReadLoop reads envelopes until the connection drops or ctx is cancelled.
func (c *SyncConn) ReadLoop(ctx context.Context, onEnv func(env protocol.Envelope)) error {
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.writeMu.Lock()
				c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				err := c.conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Forces ReadMessage to unblock.
			c.conn.Close()
		case <-stop:
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", "error", err)
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Warn("invalid JSON envelope", "error", err)
			continue
		}
		if err := env.ValidateBasic(); err != nil {
			c.logger.Warn("invalid envelope", "error", err)
			continue
		}
		onEnv(env)
	}
}

// Send queues an envelope for the writer goroutine.
func (c *SyncConn) Send(env protocol.Envelope) error {
	select {
	case c.sendChan <- env:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	}
}

func (c *SyncConn) writeLoop() {
	defer close(c.done)
	for env := range c.sendChan {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := c.conn.WriteJSON(env)
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Error("websocket write error", "error", err)
			return
		}
	}
}

// Close shuts down the writer and the underlying connection.
func (c *SyncConn) Close() error {
	close(c.sendChan)
	<-c.done
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Close()
}
