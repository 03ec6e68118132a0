package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

// IsActive reports whether the payout may still move money.
func (s PayoutStatus) IsActive() bool {
	return s == PayoutPending || s == PayoutProcessing
}

// PendingPayout is a deferred release of settled funds to an advertiser.
// Status processing means a worker holds the claim identified by ClaimToken.
type PendingPayout struct {
	ID                   string          `json:"id"`
	AdvertiserID         string          `json:"advertiserId"`
	ReservationID        string          `json:"reservationId"`
	PropertyID           string          `json:"propertyId"`
	PaymentID            string          `json:"paymentId,omitempty"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Status               PayoutStatus    `json:"status"`
	ScheduledReleaseDate time.Time       `json:"scheduledReleaseDate"`
	ClaimToken           string          `json:"claimToken,omitempty"`
	ClaimedAt            *time.Time      `json:"claimedAt,omitempty"`
	Attempts             int             `json:"attempts"`
	LastError            string          `json:"lastError,omitempty"`
	FailureReason        string          `json:"failureReason,omitempty"`
	CompletedAt          *time.Time      `json:"completedAt,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy.
func (p *PendingPayout) Clone() *PendingPayout {
	if p == nil {
		return nil
	}
	c := *p
	c.ClaimedAt = cloneTime(p.ClaimedAt)
	c.CompletedAt = cloneTime(p.CompletedAt)
	return &c
}

type LedgerKind string

const (
	LedgerPayout   LedgerKind = "payout"
	LedgerReversal LedgerKind = "reversal"
)

// LedgerEntry is one append-only movement on an advertiser's account. At most one entry
// exists per (PayoutID, Kind). Reversals carry a negative amount.
type LedgerEntry struct {
	ID            string          `json:"id"`
	AdvertiserID  string          `json:"advertiserId"`
	PayoutID      string          `json:"payoutId"`
	ReservationID string          `json:"reservationId"`
	Kind          LedgerKind      `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// AdvertiserTotals aggregates an advertiser's ledger.
type AdvertiserTotals struct {
	AdvertiserID   string          `json:"advertiserId"`
	TotalCollected decimal.Decimal `json:"totalCollected"`
	PaymentCount   int             `json:"paymentCount"`
}

// SettlementComputation is the money split for one reservation. Never persisted.
type SettlementComputation struct {
	RentAmount       decimal.Decimal `json:"rentAmount"`
	TenantCommission decimal.Decimal `json:"tenantCommission"`
	AdvertiserFee    decimal.Decimal `json:"advertiserFee"`
	PayoutAmount     decimal.Decimal `json:"payoutAmount"`
	Currency         string          `json:"currency"`
	Notes            []string        `json:"notes,omitempty"`
}
