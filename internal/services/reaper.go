package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"rental-settlement/internal/status"
	"rental-settlement/internal/store"
	"rental-settlement/models"
)

// Reaper expires accepted reservations whose payment window passed without payment.
type Reaper struct {
	store        store.Store
	reservations *ReservationService
	policy       Policy
	batchLimit   int
	logger       *slog.Logger
	nowFn        func() time.Time
}

func NewReaper(s store.Store, reservations *ReservationService, policy Policy, batchLimit int) *Reaper {
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &Reaper{
		store:        s,
		reservations: reservations,
		policy:       policy,
		batchLimit:   batchLimit,
		logger:       slog.Default(),
		nowFn:        time.Now,
	}
}

// ExpireStaleReservations moves every overdue accepted reservation to expired and returns how
// many it expired. Reservations paid concurrently lose nothing: their expiry fails the version
// check and is skipped.
func (rp *Reaper) ExpireStaleReservations(ctx context.Context) (int, error) {
	cutoff := rp.nowFn().Add(-rp.policy.PaymentWindow)

	var stale []*models.Reservation
	for offset := 0; ; offset += rp.batchLimit {
		page, err := rp.store.ListReservations(ctx, store.ReservationQuery{
			Statuses:       []models.ReservationStatus{models.StatusAccepted},
			AcceptedBefore: cutoff,
			Limit:          rp.batchLimit,
			Offset:         offset,
		})
		if err != nil {
			return 0, err
		}
		stale = append(stale, page...)
		if len(page) < rp.batchLimit {
			break
		}
	}

	expired := 0
	for _, r := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		_, err := rp.reservations.Transition(ctx, r.ID, SystemActor, models.StatusExpired, "payment window closed")
		switch {
		case err == nil:
			expired++
		case errors.Is(err, status.ErrConflict), errors.Is(err, status.ErrInvalidTransition):
			rp.logger.Info("Skipped expiring reservation", "reservation_id", r.ID, "reason", err)
		default:
			rp.logger.Error("Failed to expire reservation", "reservation_id", r.ID, "error", err)
		}
	}
	if expired > 0 {
		rp.logger.Info("Expired stale reservations", "count", expired)
	}
	return expired, nil
}
