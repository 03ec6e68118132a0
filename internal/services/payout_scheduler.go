package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rental-settlement/internal/status"
	"rental-settlement/internal/store"
	"rental-settlement/models"
)

const (
	maxConflictRetries = 5
	// FailureRefunded is the failure reason of payouts cancelled by an approved refund.
	FailureRefunded = "refunded"
)

// PayoutScheduler owns the payoutPending and payoutScheduledFor flags and creates payouts.
type PayoutScheduler struct {
	store  store.Store
	calc   SettlementCalculator
	policy Policy
	logger *slog.Logger
	nowFn  func() time.Time
}

func NewPayoutScheduler(s store.Store, calc SettlementCalculator, policy Policy) *PayoutScheduler {
	return &PayoutScheduler{
		store:  s,
		calc:   calc,
		policy: policy,
		logger: slog.Default(),
		nowFn:  time.Now,
	}
}

// SchedulePendingPayout creates the reservation's pending payout released at releaseAt. It is
// idempotent: when an active payout exists it is returned and no second one is inserted.
func (s *PayoutScheduler) SchedulePendingPayout(ctx context.Context, reservationID string, releaseAt time.Time) (*models.PendingPayout, error) {
	now := s.nowFn()

	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.PropertyID == "" {
		return nil, fmt.Errorf("reservation %s has no property: %w", r.ID, status.ErrNotFound)
	}
	property, err := s.store.GetProperty(ctx, r.PropertyID)
	if err != nil {
		return nil, err
	}
	advertiserID := r.AdvertiserID
	if advertiserID == "" {
		advertiserID = property.AdvertiserID
	}
	advertiser, err := s.store.GetAdvertiser(ctx, advertiserID)
	if err != nil {
		return nil, err
	}

	settlement := s.calc.Compute(r, advertiser.Type)

	payout, err := s.activePayout(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		payout = &models.PendingPayout{
			AdvertiserID:         advertiser.ID,
			ReservationID:        r.ID,
			PropertyID:           property.ID,
			Amount:               settlement.PayoutAmount,
			Currency:             settlement.Currency,
			Status:               models.PayoutPending,
			ScheduledReleaseDate: releaseAt.UTC(),
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		payment, err := s.store.GetPaymentByReservation(ctx, r.ID)
		switch {
		case err == nil:
			payout.PaymentID = payment.ID
		case !errors.Is(err, status.ErrNotFound):
			return nil, err
		}

		err = s.store.CreatePayout(ctx, payout)
		if errors.Is(err, status.ErrConflict) {
			// lost the race to another scheduler; theirs is the payout
			if payout, err = s.activePayout(ctx, r.ID); err != nil {
				return nil, err
			}
			if payout == nil {
				return nil, fmt.Errorf("payout for reservation %s vanished: %w", r.ID, status.ErrConflict)
			}
		} else if err != nil {
			return nil, fmt.Errorf("create payout for reservation %s: %w", r.ID, err)
		} else {
			s.logger.Info("Scheduled payout",
				"reservation_id", r.ID,
				"payout_id", payout.ID,
				"amount", payout.Amount.String(),
				"release_at", payout.ScheduledReleaseDate,
			)
		}
	}

	release := payout.ScheduledReleaseDate
	err = updateReservation(ctx, s.store, r.ID, func(r *models.Reservation) bool {
		if r.PayoutPending && r.PayoutScheduledFor != nil && r.PayoutScheduledFor.Equal(release) {
			return false
		}
		r.PayoutPending = true
		r.PayoutScheduledFor = models.TimePtr(release)
		r.UpdatedAt = now
		return true
	})
	if err != nil {
		return payout, fmt.Errorf("flag reservation %s as payout pending: %w", r.ID, err)
	}

	if err := s.markPaymentPending(ctx, r.ID, now); err != nil {
		return payout, err
	}
	return payout, nil
}

func (s *PayoutScheduler) activePayout(ctx context.Context, reservationID string) (*models.PendingPayout, error) {
	p, err := s.store.LatestPayoutForReservation(ctx, reservationID)
	if errors.Is(err, status.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !p.Status.IsActive() {
		return nil, nil
	}
	return p, nil
}

func (s *PayoutScheduler) markPaymentPending(ctx context.Context, reservationID string, now time.Time) error {
	err := updatePayment(ctx, s.store, reservationID, func(p *models.Payment) bool {
		if p.AdvertiserStatus == models.AdvertiserPending || p.AdvertiserStatus == models.AdvertiserCompleted {
			return false
		}
		p.AdvertiserStatus = models.AdvertiserPending
		p.UpdatedAt = now
		return true
	})
	if errors.Is(err, status.ErrNotFound) {
		s.logger.Warn("No payment recorded for scheduled payout", "reservation_id", reservationID)
		return nil
	}
	return err
}

// CancelPendingPayout stops the reservation's payout. An active payout is marked failed with
// reason; a payout that already completed is reversed in the ledger.
func (s *PayoutScheduler) CancelPendingPayout(ctx context.Context, reservationID, reason string) error {
	now := s.nowFn()

	payout, err := s.store.LatestPayoutForReservation(ctx, reservationID)
	if errors.Is(err, status.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	switch {
	case payout.Status.IsActive():
		expected := payout.Status
		payout.Status = models.PayoutFailed
		payout.FailureReason = reason
		payout.UpdatedAt = now
		if err := s.store.UpdatePayout(ctx, payout, expected); err != nil {
			return fmt.Errorf("cancel payout %s: %w", payout.ID, err)
		}
		s.logger.Info("Cancelled payout", "payout_id", payout.ID, "reservation_id", reservationID, "reason", reason)

	case payout.Status == models.PayoutCompleted:
		if _, err := reverseCredit(ctx, s.store, payout, now); err != nil {
			return err
		}
		s.logger.Warn("Reversed completed payout", "payout_id", payout.ID, "reservation_id", reservationID, "reason", reason)
	}

	return updateReservation(ctx, s.store, reservationID, func(r *models.Reservation) bool {
		if !r.PayoutPending && r.PayoutScheduledFor == nil {
			return false
		}
		r.PayoutPending = false
		r.PayoutScheduledFor = nil
		r.UpdatedAt = now
		return true
	})
}

// ReconcileUnscheduled schedules payouts for moved-in reservations that have neither a pending
// nor a processed payout, which happens when the side effect of move-in was interrupted.
func (s *PayoutScheduler) ReconcileUnscheduled(ctx context.Context) (int, error) {
	reservations, err := s.store.ListReservations(ctx, store.ReservationQuery{
		Statuses:        []models.ReservationStatus{models.StatusMovedIn},
		PayoutPending:   store.Bool(false),
		PayoutProcessed: store.Bool(false),
	})
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for _, r := range reservations {
		if r.MovedInAt == nil {
			s.logger.Warn("Moved-in reservation without movedInAt", "reservation_id", r.ID)
			continue
		}
		if _, err := s.SchedulePendingPayout(ctx, r.ID, s.policy.PayoutReleaseAt(*r.MovedInAt)); err != nil {
			s.logger.Error("Failed to reconcile payout", "reservation_id", r.ID, "error", err)
			continue
		}
		scheduled++
	}
	return scheduled, nil
}

// updateReservation reloads, applies mutate and writes with version check, retrying on
// conflict. mutate returns false when no write is needed.
func updateReservation(ctx context.Context, s store.Store, id string, mutate func(r *models.Reservation) bool) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		var r *models.Reservation
		if r, err = s.GetReservation(ctx, id); err != nil {
			return err
		}
		if !mutate(r) {
			return nil
		}
		if err = s.UpdateReservation(ctx, r); !errors.Is(err, status.ErrConflict) {
			return err
		}
	}
	return err
}

// updatePayment applies mutate to the reservation's freshly loaded payment and writes it
// with a version check, retrying on conflict. mutate returns false when there is nothing to do.
func updatePayment(ctx context.Context, s store.Store, reservationID string, mutate func(p *models.Payment) bool) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		var p *models.Payment
		if p, err = s.GetPaymentByReservation(ctx, reservationID); err != nil {
			return err
		}
		if !mutate(p) {
			return nil
		}
		if err = s.UpdatePayment(ctx, p); !errors.Is(err, status.ErrConflict) {
			return err
		}
	}
	return err
}

// reverseCredit appends the reversal of a payout's ledger credit. It is a no-op when the
// reversal already exists.
func reverseCredit(ctx context.Context, s store.Store, payout *models.PendingPayout, now time.Time) (bool, error) {
	created, err := s.AppendLedgerEntry(ctx, &models.LedgerEntry{
		AdvertiserID:  payout.AdvertiserID,
		PayoutID:      payout.ID,
		ReservationID: payout.ReservationID,
		Kind:          models.LedgerReversal,
		Amount:        payout.Amount.Neg(),
		Currency:      payout.Currency,
		CreatedAt:     now,
	})
	if err != nil {
		return false, fmt.Errorf("reverse payout %s: %w", payout.ID, err)
	}
	return created, nil
}
