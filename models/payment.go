package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type AdvertiserStatus string

const (
	AdvertiserPending   AdvertiserStatus = "pending"
	AdvertiserCompleted AdvertiserStatus = "completed"
)

// Payment records the tenant's charge for a reservation. A pending payment has been captured
// by the gateway but its reservation has not been confirmed paid yet.
type Payment struct {
	ID               string           `json:"id"`
	ReservationID    string           `json:"reservationId"`
	PropertyID       string           `json:"propertyId"`
	UserID           string           `json:"userId"`
	AdvertiserID     string           `json:"advertiserId"`
	Amount           decimal.Decimal  `json:"amount"`
	Currency         string           `json:"currency"`
	Status           PaymentStatus    `json:"status"`
	AdvertiserStatus AdvertiserStatus `json:"advertiserStatus"`
	TransactionID    string           `json:"transactionId"`
	OrderID          string           `json:"orderId"`
	PaymentDate      time.Time        `json:"paymentDate"`
	Version          int64            `json:"version"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}
