// Package walletclient talks to the online wallet server: reserve/release
// RPCs over HTTP and transaction sync over a WebSocket.
package walletclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftpay/driftpay/internal/balance"
	"github.com/driftpay/driftpay/pkg/protocol"
)

// Client calls the wallet server's HTTP endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

var _ balance.ServerClient = (*Client)(nil)

// New builds a client for the given server URL. A bare host:port gets an
// http scheme prepended.
func New(serverURL string, logger *slog.Logger) *Client {
	if !strings.HasPrefix(serverURL, "http") {
		serverURL = "http://" + serverURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
		logger:  logger,
	}
}

type amountRequest struct {
	Email  string          `json:"email"`
	Amount decimal.Decimal `json:"amount"`
}

type reserveResponse struct {
	ReservedBalance decimal.Decimal `json:"reserved_balance"`
}

// BalanceInfo is the server's view of one account's balance split.
type BalanceInfo struct {
	Email           string          `json:"email"`
	OnlineBalance   decimal.Decimal `json:"online_balance"`
	ReservedBalance decimal.Decimal `json:"reserved_balance"`
}

// Reserve moves amount from the account's online balance into the
// reserved-for-offline side and returns the new reserved balance.
func (c *Client) Reserve(ctx context.Context, email string, amount decimal.Decimal) (decimal.Decimal, error) {
	return c.postAmount(ctx, "/reserve", email, amount)
}

// Release moves amount back from the reserved side to the online balance
// and returns the new reserved balance.
func (c *Client) Release(ctx context.Context, email string, amount decimal.Decimal) (decimal.Decimal, error) {
	return c.postAmount(ctx, "/release", email, amount)
}

func (c *Client) postAmount(ctx context.Context, path, email string, amount decimal.Decimal) (decimal.Decimal, error) {
	body, err := json.Marshal(amountRequest{Email: email, Amount: amount})
	if err != nil {
		return decimal.Zero, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decimal.Zero, decodeError(resp.StatusCode, respBody)
	}

	var out reserveResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return decimal.Zero, fmt.Errorf("parse response: %w", err)
	}
	return out.ReservedBalance, nil
}

// Balance fetches the account's online/reserved balance split.
func (c *Client) Balance(ctx context.Context, email string) (BalanceInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/balance?email="+email, nil)
	if err != nil {
		return BalanceInfo{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return BalanceInfo{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return BalanceInfo{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return BalanceInfo{}, decodeError(resp.StatusCode, body)
	}

	var out BalanceInfo
	if err := json.Unmarshal(body, &out); err != nil {
		return BalanceInfo{}, fmt.Errorf("parse response: %w", err)
	}
	return out, nil
}

// decodeError maps the server's error codes back onto the client-side
// sentinels so callers can branch without string matching.
func decodeError(status int, body []byte) error {
	var e protocol.Error
	if err := json.Unmarshal(body, &e); err == nil && e.Code != "" {
		switch e.Code {
		case protocol.ErrCodeInsufficientFunds:
			return fmt.Errorf("%w: %s", balance.ErrInsufficientOnline, e.Message)
		case protocol.ErrCodeInvalidAmount:
			return fmt.Errorf("%w: %s", balance.ErrInvalidAmount, e.Message)
		}
		return fmt.Errorf("server error %s: %s", e.Code, e.Message)
	}
	return fmt.Errorf("server returned %d: %s", status, string(body))
}
