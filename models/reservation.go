package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	StatusPending                 ReservationStatus = "pending"
	StatusAccepted                ReservationStatus = "accepted"
	StatusRejected                ReservationStatus = "rejected"
	StatusPaid                    ReservationStatus = "paid"
	StatusMovedIn                 ReservationStatus = "movedIn"
	StatusCancellationUnderReview ReservationStatus = "cancellationUnderReview"
	StatusCancelled               ReservationStatus = "cancelled"
	StatusRefundProcessing        ReservationStatus = "refundProcessing"
	StatusRefundCompleted         ReservationStatus = "refundCompleted"
	StatusRefundFailed            ReservationStatus = "refundFailed"
	StatusExpired                 ReservationStatus = "expired"
)

// AllReservationStatuses lists every status in lifecycle order.
var AllReservationStatuses = []ReservationStatus{
	StatusPending,
	StatusAccepted,
	StatusRejected,
	StatusPaid,
	StatusMovedIn,
	StatusCancellationUnderReview,
	StatusCancelled,
	StatusRefundProcessing,
	StatusRefundCompleted,
	StatusRefundFailed,
	StatusExpired,
}

// IsTerminal reports whether no further transition leaves the status.
func (s ReservationStatus) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusRefundCompleted, StatusRefundFailed, StatusExpired:
		return true
	}
	return false
}

// EndsReservation reports whether entering the status releases the property.
func (s ReservationStatus) EndsReservation() bool {
	switch s {
	case StatusCancelled, StatusRefundCompleted, StatusExpired, StatusRejected:
		return true
	}
	return false
}

type CancellationPolicy string

const (
	PolicyFlexible CancellationPolicy = "flexible"
	PolicyModerate CancellationPolicy = "moderate"
	PolicyStrict   CancellationPolicy = "strict"
)

// Reservation is a tenant's booking of a property. Price is optional: when nil the rent is
// derived from TotalPrice minus ServiceFee.
type Reservation struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"userId"`
	PropertyID         string             `json:"propertyId"`
	AdvertiserID       string             `json:"advertiserId"`
	Status             ReservationStatus  `json:"status"`
	PreviousStatus     ReservationStatus  `json:"previousStatus,omitempty"`
	TotalPrice         decimal.Decimal    `json:"totalPrice"`
	Price              *decimal.Decimal   `json:"price,omitempty"`
	ServiceFee         decimal.Decimal    `json:"serviceFee"`
	Currency           string             `json:"currency"`
	PaymentMethodID    string             `json:"paymentMethodId,omitempty"`
	PaymentOrderID     string             `json:"paymentOrderId,omitempty"`
	CancellationPolicy CancellationPolicy `json:"cancellationPolicy,omitempty"`
	ScheduledDate      *time.Time         `json:"scheduledDate,omitempty"`
	AcceptedAt         *time.Time         `json:"acceptedAt,omitempty"`
	PaidAt             *time.Time         `json:"paidAt,omitempty"`
	MovedInAt          *time.Time         `json:"movedInAt,omitempty"`
	ClosedAt           *time.Time         `json:"closedAt,omitempty"`
	PayoutPending      bool               `json:"payoutPending"`
	PayoutScheduledFor *time.Time         `json:"payoutScheduledFor,omitempty"`
	PayoutProcessed    bool               `json:"payoutProcessed"`
	PayoutProcessedAt  *time.Time         `json:"payoutProcessedAt,omitempty"`
	Note               string             `json:"note,omitempty"`
	Version            int64              `json:"version"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	if r.Price != nil {
		p := *r.Price
		c.Price = &p
	}
	c.ScheduledDate = cloneTime(r.ScheduledDate)
	c.AcceptedAt = cloneTime(r.AcceptedAt)
	c.PaidAt = cloneTime(r.PaidAt)
	c.MovedInAt = cloneTime(r.MovedInAt)
	c.ClosedAt = cloneTime(r.ClosedAt)
	c.PayoutScheduledFor = cloneTime(r.PayoutScheduledFor)
	c.PayoutProcessedAt = cloneTime(r.PayoutProcessedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
