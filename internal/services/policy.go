package services

import (
	"time"

	"rental-settlement/models"
)

const (
	DefaultPaymentWindow = 24 * time.Hour
	DefaultRefundWindow  = 24 * time.Hour
	DefaultSafetyWindow  = 24 * time.Hour
	DefaultCurrency      = "MAD"
)

// Policy holds the deadline offsets. Every deadline is a stored anchor plus a fixed offset
// and is inclusive: an action exactly at the deadline is still allowed.
type Policy struct {
	PaymentWindow time.Duration
	RefundWindow  time.Duration
	SafetyWindow  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		PaymentWindow: DefaultPaymentWindow,
		RefundWindow:  DefaultRefundWindow,
		SafetyWindow:  DefaultSafetyWindow,
	}
}

// PaymentDeadline is acceptedAt + PaymentWindow. Records accepted before acceptedAt was
// stored fall back to updatedAt.
func (p Policy) PaymentDeadline(r *models.Reservation) time.Time {
	anchor := r.UpdatedAt
	if r.AcceptedAt != nil {
		anchor = *r.AcceptedAt
	}
	return anchor.Add(p.PaymentWindow)
}

// RefundDeadline is movedInAt + RefundWindow. ok is false when the reservation never moved in.
func (p Policy) RefundDeadline(r *models.Reservation) (deadline time.Time, ok bool) {
	if r.MovedInAt == nil {
		return time.Time{}, false
	}
	return r.MovedInAt.Add(p.RefundWindow), true
}

func (p Policy) PayoutReleaseAt(movedInAt time.Time) time.Time {
	return movedInAt.Add(p.SafetyWindow)
}

func within(now, deadline time.Time) bool {
	return !now.After(deadline)
}

// NoticeDays is the notice, in days before the scheduled move-in, a standard cancellation
// of a paid reservation needs under the policy tier.
func NoticeDays(policy models.CancellationPolicy) int {
	switch policy {
	case models.PolicyFlexible:
		return 1
	case models.PolicyStrict:
		return 14
	}
	return 5
}

// HasCancellationNotice reports whether a standard cancellation at now gives enough notice.
// Reservations without a scheduled date are not constrained.
func HasCancellationNotice(r *models.Reservation, now time.Time) bool {
	if r.ScheduledDate == nil {
		return true
	}
	required := time.Duration(NoticeDays(r.CancellationPolicy)) * 24 * time.Hour
	return r.ScheduledDate.Sub(now) >= required
}
