// Package gateway is the payment-gateway contract used by the reservation engine:
// a charge and a status query by order id.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type ChargeRequest struct {
	OrderID         string          `json:"orderId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	CustomerID      string          `json:"customerId"`
	PaymentMethodID string          `json:"paymentMethodId,omitempty"`
}

type Transaction struct {
	OrderID       string          `json:"orderId"`
	TransactionID string          `json:"transactionId"`
	Status        Status          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

// Gateway charges tenants. Every error returned wraps status.ErrPaymentGateway.
type Gateway interface {
	// Charge collects the amount for orderID. A declined charge is an error.
	Charge(ctx context.Context, req ChargeRequest) (*Transaction, error)
	// QueryStatus reports what the gateway knows about orderID. Unknown orders return
	// StatusUnknown without error.
	QueryStatus(ctx context.Context, orderID string) (*Transaction, error)
}
