// Package store defines the document store contract used by the settlement engine.
// Implementations provide per-document atomic compare-and-swap but no cross-document
// transactions; callers keep multi-document work idempotent and order tolerant.
package store

import (
	"context"
	"time"

	"rental-settlement/models"
)

type ReservationQuery struct {
	Statuses []models.ReservationStatus
	// PayoutPending filters on the flag when non-nil.
	PayoutPending *bool
	// PayoutProcessed filters on the flag when non-nil.
	PayoutProcessed *bool
	// PayoutDueBy matches payoutScheduledFor <= PayoutDueBy when non-zero.
	PayoutDueBy time.Time
	// AcceptedBefore matches acceptedAt < AcceptedBefore when non-zero. Records without
	// acceptedAt are matched on updatedAt instead.
	AcceptedBefore time.Time
	AdvertiserID   string
	Limit          int
	Offset         int
}

type PayoutQuery struct {
	Statuses     []models.PayoutStatus
	AdvertiserID string
	Limit        int
	Offset       int
}

// Store is the single source of truth. Every method reads current state; nothing is cached.
type Store interface {
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	// UpdateReservation writes r if the stored version still equals r.Version, then
	// increments r.Version. Returns status.ErrConflict otherwise.
	UpdateReservation(ctx context.Context, r *models.Reservation) error
	ListReservations(ctx context.Context, q ReservationQuery) ([]*models.Reservation, error)

	GetProperty(ctx context.Context, id string) (*models.Property, error)
	SetPropertyStatus(ctx context.Context, id string, s models.PropertyStatus) error
	GetAdvertiser(ctx context.Context, id string) (*models.Advertiser, error)
	FindAdvertiserByUser(ctx context.Context, userID string) (*models.Advertiser, error)

	GetPaymentByReservation(ctx context.Context, reservationID string) (*models.Payment, error)
	// CreatePayment inserts p unless a payment already exists for the reservation, in which
	// case it returns the existing one and created=false.
	CreatePayment(ctx context.Context, p *models.Payment) (existing *models.Payment, created bool, err error)
	// UpdatePayment writes p if the stored version still equals p.Version, then increments
	// p.Version. Returns status.ErrConflict otherwise.
	UpdatePayment(ctx context.Context, p *models.Payment) error

	GetPayout(ctx context.Context, id string) (*models.PendingPayout, error)
	// LatestPayoutForReservation returns the active payout if one exists, else the most
	// recently created one.
	LatestPayoutForReservation(ctx context.Context, reservationID string) (*models.PendingPayout, error)
	// CreatePayout inserts p. It returns status.ErrConflict if an active payout already
	// exists for the same reservation.
	CreatePayout(ctx context.Context, p *models.PendingPayout) error
	// UpdatePayout writes p if the stored status equals expected and, for processing
	// payouts, the stored claim token equals p.ClaimToken.
	UpdatePayout(ctx context.Context, p *models.PendingPayout, expected models.PayoutStatus) error
	// ClaimPayout moves a payout to processing under token. A pending payout is always
	// claimable; a processing one only if it was claimed before staleBefore.
	ClaimPayout(ctx context.Context, id, token string, now, staleBefore time.Time) (*models.PendingPayout, error)
	ListPayouts(ctx context.Context, q PayoutQuery) ([]*models.PendingPayout, error)

	// AppendLedgerEntry inserts e unless an entry with the same (PayoutID, Kind) exists.
	AppendLedgerEntry(ctx context.Context, e *models.LedgerEntry) (created bool, err error)
	AdvertiserTotals(ctx context.Context, advertiserID string) (models.AdvertiserTotals, error)
}

// Bool returns a pointer to b, for query filters.
func Bool(b bool) *bool {
	return &b
}
