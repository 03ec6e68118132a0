package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rental-settlement/internal/status"
	"rental-settlement/monitoring"
	"rental-settlement/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ClientConfig struct {
	BaseURL    string
	MerchantID string
	APIKey     string
	HMACKey    string
	Timeout    time.Duration
}

// Client talks to the gateway's JSON API. Request bodies are signed with HMAC-SHA256 in the
// SignedHash header.
type Client struct {
	baseURL    string
	merchantID string
	apiKey     string
	hmacKey    string

	breaker *utils.CircuitBreaker
	hc      *http.Client
}

var _ Gateway = (*Client)(nil)

func NewClient(c ClientConfig) *Client {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(c.BaseURL, "/"),
		merchantID: c.MerchantID,
		apiKey:     c.APIKey,
		hmacKey:    c.HMACKey,
		breaker:    utils.NewCircuitBreakerWithSettings("payment-gateway", utils.BreakerSettings{MaxRequests: 20, Timeout: 30 * time.Second}),
		hc:         &http.Client{Timeout: timeout},
	}
}

// Sign returns the hex HMAC-SHA256 of body under key.
func Sign(body, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type reply struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type transactionData struct {
	OrderID       string `json:"orderId"`
	TransactionID string `json:"transactionId"`
	State         string `json:"state"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

func (c *Client) Charge(ctx context.Context, req ChargeRequest) (*Transaction, error) {
	body := map[string]any{
		"requestId":       uuid.NewString(),
		"merchantId":      c.merchantID,
		"orderId":         req.OrderID,
		"amount":          req.Amount.StringFixed(2),
		"currency":        req.Currency,
		"customerId":      req.CustomerID,
		"paymentMethodId": req.PaymentMethodID,
	}
	tx, err := c.call(ctx, "charge", "/v1/charges", body)
	if err != nil {
		return nil, err
	}
	if tx.Status != StatusCompleted {
		return tx, fmt.Errorf("charge order %s: declined with state %s: %w", req.OrderID, tx.Status, status.ErrPaymentGateway)
	}
	return tx, nil
}

func (c *Client) QueryStatus(ctx context.Context, orderID string) (*Transaction, error) {
	body := map[string]any{
		"requestId":  uuid.NewString(),
		"merchantId": c.merchantID,
		"orderId":    orderID,
	}
	return c.call(ctx, "query", "/v1/charges/status", body)
}

func (c *Client) call(ctx context.Context, op, path string, body map[string]any) (*Transaction, error) {
	result, err := c.breaker.Execute(ctx, func() (any, error) {
		return c.do(ctx, path, body)
	})
	if err != nil {
		monitoring.TrackGatewayCall(op, "error")
		return nil, fmt.Errorf("gateway %s: %w: %w", op, status.ErrPaymentGateway, err)
	}
	tx := result.(*Transaction)
	monitoring.TrackGatewayCall(op, string(tx.Status))
	return tx, nil
}

func (c *Client) do(ctx context.Context, path string, body map[string]any) (*Transaction, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("http.NewReq: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("SignedHash", Sign(payload, []byte(c.hmacKey)))
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Transaction{OrderID: fmt.Sprint(body["orderId"]), Status: StatusUnknown}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected http status %d", resp.StatusCode)
	}

	var r reply
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("json.Decode: %w", err)
	}
	if r.Status != "SUCCESS" {
		return nil, fmt.Errorf("reply.Status: %s, reply.Message: %s", r.Status, r.Message)
	}

	var data transactionData
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return nil, fmt.Errorf("reply.Data: %w", err)
	}
	tx := &Transaction{
		OrderID:       data.OrderID,
		TransactionID: data.TransactionID,
		Status:        parseState(data.State),
		Currency:      data.Currency,
	}
	if data.Amount != "" {
		if tx.Amount, err = decimal.NewFromString(data.Amount); err != nil {
			return nil, fmt.Errorf("reply.Data.amount: %w", err)
		}
	}
	return tx, nil
}

func parseState(s string) Status {
	switch strings.ToUpper(s) {
	case "COMPLETED", "SUCCESS", "PAID":
		return StatusCompleted
	case "PENDING", "PROCESSING":
		return StatusPending
	case "FAILED", "DECLINED", "CANCELLED":
		return StatusFailed
	}
	return StatusUnknown
}
