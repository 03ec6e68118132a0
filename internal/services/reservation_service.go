package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rental-settlement/internal/services/gateway"
	"rental-settlement/internal/status"
	"rental-settlement/internal/store"
	"rental-settlement/models"
	"rental-settlement/monitoring"
)

// ReservationService is the only writer of a reservation's status. Every transition loads the
// current document, checks the edge, the actor and the edge's guard, then writes with a version
// check so a concurrent writer fails with status.ErrConflict instead of overwriting.
type ReservationService struct {
	store     store.Store
	gateway   gateway.Gateway
	scheduler *PayoutScheduler
	notifier  Notifier
	calc      SettlementCalculator
	policy    Policy
	logger    *slog.Logger
	nowFn     func() time.Time

	reviewPromptDelay time.Duration
	afterFunc         func(d time.Duration, f func())
}

type ReservationServiceConfig struct {
	Policy            Policy
	DefaultCurrency   string
	ReviewPromptDelay time.Duration
}

func NewReservationService(s store.Store, gw gateway.Gateway, scheduler *PayoutScheduler, notifier Notifier, cfg ReservationServiceConfig) *ReservationService {
	currency := cfg.DefaultCurrency
	if currency == "" {
		currency = DefaultCurrency
	}
	return &ReservationService{
		store:             s,
		gateway:           gw,
		scheduler:         scheduler,
		notifier:          notifier,
		calc:              SettlementCalculator{DefaultCurrency: currency},
		policy:            cfg.Policy,
		logger:            slog.Default(),
		nowFn:             time.Now,
		reviewPromptDelay: cfg.ReviewPromptDelay,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

func (s *ReservationService) Get(ctx context.Context, id string, actor Actor) (*models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, r) {
		return nil, fmt.Errorf("view reservation %s: %w", id, status.ErrUnauthorized)
	}
	return r, nil
}

// Settlement previews the money split of a reservation with its advertiser's current type.
func (s *ReservationService) Settlement(ctx context.Context, id string, actor Actor) (*models.SettlementComputation, error) {
	r, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	advertiser, err := s.advertiserOf(ctx, r)
	if err != nil {
		return nil, err
	}
	settlement := s.calc.Compute(r, advertiser.Type)
	return &settlement, nil
}

func (s *ReservationService) Accept(ctx context.Context, id string, actor Actor) (*models.Reservation, error) {
	return s.Transition(ctx, id, actor, models.StatusAccepted, "")
}

func (s *ReservationService) Reject(ctx context.Context, id string, actor Actor, note string) (*models.Reservation, error) {
	return s.Transition(ctx, id, actor, models.StatusRejected, note)
}

func (s *ReservationService) CancelPending(ctx context.Context, id string, actor Actor, note string) (*models.Reservation, error) {
	return s.Transition(ctx, id, actor, models.StatusCancelled, note)
}

// Pay charges the tenant and moves accepted → paid. The charge happens only after the edge,
// actor and payment deadline are validated; a gateway failure changes nothing.
func (s *ReservationService) Pay(ctx context.Context, id string, actor Actor) (*models.Reservation, error) {
	return s.Transition(ctx, id, actor, models.StatusPaid, "")
}

func (s *ReservationService) MoveIn(ctx context.Context, id string, actor Actor) (*models.Reservation, error) {
	return s.Transition(ctx, id, actor, models.StatusMovedIn, "")
}

// RequestRefund opens a refund within the refund window after move-in.
func (s *ReservationService) RequestRefund(ctx context.Context, id string, actor Actor, note string) (*models.Reservation, error) {
	return s.Transition(ctx, id, actor, models.StatusRefundProcessing, note)
}

func (s *ReservationService) ResolveRefund(ctx context.Context, id string, actor Actor, approve bool, note string) (*models.Reservation, error) {
	target := models.StatusRefundFailed
	if approve {
		target = models.StatusRefundCompleted
	}
	return s.Transition(ctx, id, actor, target, note)
}

// ProcessStandardCancellation cancels without manual review: pending and accepted reservations
// are cancelled outright, paid ones go to refund processing if the policy tier's notice is met.
func (s *ReservationService) ProcessStandardCancellation(ctx context.Context, id string, actor Actor, note string) (*models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	target := models.StatusCancelled
	if r.Status == models.StatusPaid {
		target = models.StatusRefundProcessing
	}
	return s.Transition(ctx, id, actor, target, note)
}

// RequestExceptionCancellation puts the reservation under review by the advertiser or an admin.
func (s *ReservationService) RequestExceptionCancellation(ctx context.Context, id string, actor Actor, note string) (*models.Reservation, error) {
	return s.Transition(ctx, id, actor, models.StatusCancellationUnderReview, note)
}

// ReviewCancellation decides a cancellation under review: approve cancels, reject restores
// the status the reservation had before the review.
func (s *ReservationService) ReviewCancellation(ctx context.Context, id string, actor Actor, approve bool, note string) (*models.Reservation, error) {
	if approve {
		return s.Transition(ctx, id, actor, models.StatusCancelled, note)
	}
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusCancellationUnderReview {
		return nil, fmt.Errorf("reservation %s is %s, not under review: %w", id, r.Status, status.ErrInvalidTransition)
	}
	return s.Transition(ctx, id, actor, priorStatus(r), note)
}

// Transition moves reservation id to target on behalf of actor.
func (s *ReservationService) Transition(ctx context.Context, id string, actor Actor, target models.ReservationStatus, note string) (*models.Reservation, error) {
	now := s.nowFn().UTC()

	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	from := r.Status

	r, err = s.apply(ctx, r, actor, target, note, now)
	if err != nil {
		monitoring.TrackTransition(from, target, errorClass(err))
		s.logger.Warn("Transition rejected",
			"reservation_id", id,
			"from", from,
			"to", target,
			"actor", actor.ID,
			"role", actor.Role,
			"error", err,
		)
		return nil, err
	}
	monitoring.TrackTransition(from, target, "ok")
	s.logger.Info("Reservation transitioned", "reservation_id", id, "from", from, "to", target, "actor", actor.ID)

	s.afterTransition(ctx, r, from, now)
	return r, nil
}

func (s *ReservationService) apply(ctx context.Context, r *models.Reservation, actor Actor, target models.ReservationStatus, note string, now time.Time) (*models.Reservation, error) {
	from := r.Status

	roles, ok := transitions[edge{from, target}]
	if !ok {
		return nil, fmt.Errorf("reservation %s cannot go from %s to %s: %w", r.ID, from, target, status.ErrInvalidTransition)
	}
	if !authorized(actor, r, roles) {
		return nil, fmt.Errorf("%s %s may not move reservation %s to %s: %w", actor.Role, actor.ID, r.ID, target, status.ErrUnauthorized)
	}
	if err := s.guard(r, target, now); err != nil {
		return nil, err
	}

	charging := from == models.StatusAccepted && target == models.StatusPaid
	if charging {
		if err := s.charge(ctx, r, now); err != nil {
			return nil, err
		}
	}

	r.Status = target
	switch {
	case target == models.StatusAccepted && from == models.StatusPending:
		r.AcceptedAt = models.TimePtr(now)
	case target == models.StatusPaid && from == models.StatusAccepted:
		r.PaidAt = models.TimePtr(now)
	case target == models.StatusMovedIn:
		r.MovedInAt = models.TimePtr(now)
	case target == models.StatusCancellationUnderReview:
		r.PreviousStatus = from
	}
	if from == models.StatusCancellationUnderReview {
		r.PreviousStatus = ""
	}
	if target.IsTerminal() {
		r.ClosedAt = models.TimePtr(now)
	}
	if note != "" {
		r.Note = note
	}
	r.UpdatedAt = now

	if err := s.store.UpdateReservation(ctx, r); err != nil {
		if charging {
			s.releaseCharge(ctx, r.ID, now)
		}
		return nil, err
	}
	if charging {
		s.confirmCharge(ctx, r.ID, now)
	}
	return r, nil
}

// guard checks the time and state conditions of an edge.
func (s *ReservationService) guard(r *models.Reservation, target models.ReservationStatus, now time.Time) error {
	switch {
	case r.Status == models.StatusAccepted && target == models.StatusPaid:
		if deadline := s.policy.PaymentDeadline(r); !within(now, deadline) {
			return fmt.Errorf("payment window has closed at %s: %w", deadline.Format(time.RFC3339), status.ErrDeadlineExpired)
		}

	case r.Status == models.StatusAccepted && target == models.StatusExpired:
		if deadline := s.policy.PaymentDeadline(r); within(now, deadline) {
			return fmt.Errorf("payment window open until %s: %w", deadline.Format(time.RFC3339), status.ErrInvalidTransition)
		}

	case r.Status == models.StatusMovedIn && target == models.StatusRefundProcessing:
		deadline, ok := s.policy.RefundDeadline(r)
		if !ok || !within(now, deadline) {
			return fmt.Errorf("refund window has closed: %w", status.ErrDeadlineExpired)
		}

	case r.Status == models.StatusPaid && target == models.StatusRefundProcessing:
		if !HasCancellationNotice(r, now) {
			return fmt.Errorf("%s policy needs %d days notice before move-in, request an exception cancellation instead: %w",
				policyOrDefault(r.CancellationPolicy), NoticeDays(r.CancellationPolicy), status.ErrDeadlineExpired)
		}

	case r.Status == models.StatusCancellationUnderReview && target != models.StatusCancelled:
		if prior := priorStatus(r); target != prior {
			return fmt.Errorf("rejected review restores %s, not %s: %w", prior, target, status.ErrInvalidTransition)
		}
	}
	return nil
}

func policyOrDefault(p models.CancellationPolicy) models.CancellationPolicy {
	if p == "" {
		return models.PolicyModerate
	}
	return p
}

// charge collects the reservation's total and records the payment as pending until the
// reservation is written paid. A completed payment or a completed gateway order short-circuits
// the charge, so a retried Pay never charges twice.
func (s *ReservationService) charge(ctx context.Context, r *models.Reservation, now time.Time) error {
	orderID := r.PaymentOrderID
	if orderID == "" {
		orderID = "order-" + r.ID
	}

	existing, err := s.store.GetPaymentByReservation(ctx, r.ID)
	switch {
	case err == nil && existing.Status == models.PaymentCompleted:
		r.PaymentOrderID = existing.OrderID
		return nil
	case err != nil && !errors.Is(err, status.ErrNotFound):
		return err
	}

	tx, err := s.gateway.QueryStatus(ctx, orderID)
	if err != nil {
		return gatewayError(err)
	}
	if tx.Status != gateway.StatusCompleted {
		tx, err = s.gateway.Charge(ctx, gateway.ChargeRequest{
			OrderID:         orderID,
			Amount:          models.Money(r.TotalPrice),
			Currency:        s.calc.Currency(r),
			CustomerID:      r.UserID,
			PaymentMethodID: r.PaymentMethodID,
		})
		if err != nil {
			return gatewayError(err)
		}
	}

	payment := &models.Payment{
		ReservationID:    r.ID,
		PropertyID:       r.PropertyID,
		UserID:           r.UserID,
		AdvertiserID:     r.AdvertiserID,
		Amount:           models.Money(r.TotalPrice),
		Currency:         s.calc.Currency(r),
		Status:           models.PaymentPending,
		AdvertiserStatus: models.AdvertiserPending,
		TransactionID:    tx.TransactionID,
		OrderID:          orderID,
		PaymentDate:      now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if existing != nil {
		err = updatePayment(ctx, s.store, r.ID, func(p *models.Payment) bool {
			if p.Status == models.PaymentCompleted {
				return false
			}
			payment.ID, payment.CreatedAt, payment.Version = p.ID, p.CreatedAt, p.Version
			*p = *payment
			return true
		})
	} else {
		_, _, err = s.store.CreatePayment(ctx, payment)
	}
	if err != nil {
		return fmt.Errorf("record payment for reservation %s: %w", r.ID, err)
	}

	r.PaymentOrderID = orderID
	return nil
}

func gatewayError(err error) error {
	if errors.Is(err, status.ErrPaymentGateway) {
		return err
	}
	return fmt.Errorf("%w: %w", status.ErrPaymentGateway, err)
}

// confirmCharge completes the pending payment once its reservation is written paid. A miss is
// healed when the payout settles the payment.
func (s *ReservationService) confirmCharge(ctx context.Context, reservationID string, now time.Time) {
	err := updatePayment(ctx, s.store, reservationID, func(p *models.Payment) bool {
		if p.Status != models.PaymentPending {
			return false
		}
		p.Status = models.PaymentCompleted
		p.UpdatedAt = now
		return true
	})
	if err != nil {
		s.logger.Error("Failed to confirm payment", "reservation_id", reservationID, "error", err)
	}
}

// releaseCharge handles a charge whose reservation lost the paid write. The payment stays
// pending while the reservation can still be paid or restored to accepted, and a retried Pay
// reuses the captured order. Otherwise the captured amount is refunded.
func (s *ReservationService) releaseCharge(ctx context.Context, reservationID string, now time.Time) {
	ctx = context.WithoutCancel(ctx)
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		s.logger.Error("Failed to reload reservation after lost payment write", "reservation_id", reservationID, "error", err)
		return
	}
	switch r.Status {
	case models.StatusAccepted, models.StatusCancellationUnderReview:
		s.logger.Warn("Payment captured but reservation not paid, keeping it pending", "reservation_id", reservationID, "status", r.Status)
		return
	case models.StatusPaid:
		return
	}
	s.logger.Warn("Payment captured on a closed reservation, refunding", "reservation_id", reservationID, "status", r.Status)
	s.refundPayment(ctx, reservationID, now)
}

// afterTransition runs the side effects of entering r.Status. Failures are logged: the status
// is already written and the reconcile sweep heals missed payout scheduling.
func (s *ReservationService) afterTransition(ctx context.Context, r *models.Reservation, from models.ReservationStatus, now time.Time) {
	switch r.Status {
	case models.StatusPaid:
		if from == models.StatusAccepted {
			s.setProperty(ctx, r, models.PropertyReserved)
		}

	case models.StatusMovedIn:
		s.setProperty(ctx, r, models.PropertyRented)
		if _, err := s.scheduler.SchedulePendingPayout(ctx, r.ID, s.policy.PayoutReleaseAt(*r.MovedInAt)); err != nil {
			s.logger.Error("Failed to schedule payout", "reservation_id", r.ID, "error", err)
		}
		s.scheduleReviewPrompt(r)

	case models.StatusCancelled:
		if from == models.StatusCancellationUnderReview || from == models.StatusAccepted {
			s.refundPayment(ctx, r.ID, now)
		}

	case models.StatusExpired:
		// a charge captured while the reservation expired
		s.refundPayment(ctx, r.ID, now)

	case models.StatusRefundCompleted:
		if err := s.scheduler.CancelPendingPayout(ctx, r.ID, FailureRefunded); err != nil {
			s.logger.Error("Failed to cancel payout after refund", "reservation_id", r.ID, "error", err)
		}
		s.refundPayment(ctx, r.ID, now)
	}

	// only a reservation that reached paid holds the property
	if r.Status.EndsReservation() && r.PaidAt != nil {
		s.setProperty(ctx, r, models.PropertyAvailable)
	}

	s.notifier.Notify(ctx, r.UserID, NotifyReservationStatus, map[string]any{
		"reservationId": r.ID,
		"from":          from,
		"status":        r.Status,
	})
}

func (s *ReservationService) setProperty(ctx context.Context, r *models.Reservation, st models.PropertyStatus) {
	if err := s.store.SetPropertyStatus(ctx, r.PropertyID, st); err != nil {
		s.logger.Error("Failed to update property status", "property_id", r.PropertyID, "status", st, "error", err)
	}
}

func (s *ReservationService) refundPayment(ctx context.Context, reservationID string, now time.Time) {
	err := updatePayment(ctx, s.store, reservationID, func(p *models.Payment) bool {
		if p.Status != models.PaymentCompleted && p.Status != models.PaymentPending {
			return false
		}
		p.Status = models.PaymentRefunded
		p.UpdatedAt = now
		return true
	})
	if err != nil && !errors.Is(err, status.ErrNotFound) {
		s.logger.Error("Failed to mark payment refunded", "reservation_id", reservationID, "error", err)
	}
}

func (s *ReservationService) scheduleReviewPrompt(r *models.Reservation) {
	userID, reservationID, propertyID := r.UserID, r.ID, r.PropertyID
	s.afterFunc(s.reviewPromptDelay, func() {
		s.notifier.Notify(context.Background(), userID, NotifyReviewPrompt, map[string]any{
			"reservationId": reservationID,
			"propertyId":    propertyID,
		})
	})
}

func (s *ReservationService) advertiserOf(ctx context.Context, r *models.Reservation) (*models.Advertiser, error) {
	advertiserID := r.AdvertiserID
	if advertiserID == "" {
		property, err := s.store.GetProperty(ctx, r.PropertyID)
		if err != nil {
			return nil, err
		}
		advertiserID = property.AdvertiserID
	}
	return s.store.GetAdvertiser(ctx, advertiserID)
}

// errorClass is the metrics label of a transition error.
func errorClass(err error) string {
	switch {
	case errors.Is(err, status.ErrNotFound):
		return "not_found"
	case errors.Is(err, status.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, status.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, status.ErrDeadlineExpired):
		return "deadline_expired"
	case errors.Is(err, status.ErrConflict):
		return "conflict"
	case errors.Is(err, status.ErrPaymentGateway):
		return "gateway"
	}
	return "error"
}
