package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"rental-settlement/internal/status"
	"rental-settlement/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acceptedAt(at time.Time) func(r *models.Reservation) {
	return func(r *models.Reservation) {
		r.AcceptedAt = models.TimePtr(at)
		r.PaymentMethodID = "pm-1"
	}
}

func TestPay_WithinDeadline(t *testing.T) {
	f := newFixture(t)
	f.seedReservation(t, "res-1", models.StatusAccepted, acceptedAt(baseTime))
	f.clock.Set(baseTime.Add(23*time.Hour + 59*time.Minute))

	r, err := f.svc.Pay(context.Background(), "res-1", tenant)
	require.NoError(t, err)

	assert.Equal(t, models.StatusPaid, r.Status)
	assert.NotNil(t, r.PaidAt)
	assert.Equal(t, "order-res-1", r.PaymentOrderID)
	assert.Equal(t, 1, f.gateway.Charges())
	assert.Equal(t, models.PropertyReserved, f.property(t))

	payment, err := f.store.GetPaymentByReservation(context.Background(), "res-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, payment.Status)
	assert.True(t, payment.Amount.Equal(models.MustMoney("1200")))
	assert.NotEmpty(t, payment.TransactionID)
	assert.Equal(t, 1, f.notifier.count("tenant-1", NotifyReservationStatus))
}

func TestPay_AfterDeadline(t *testing.T) {
	f := newFixture(t)
	f.seedReservation(t, "res-1", models.StatusAccepted, acceptedAt(baseTime))
	f.clock.Set(baseTime.Add(24*time.Hour + time.Second))

	_, err := f.svc.Pay(context.Background(), "res-1", tenant)
	require.ErrorIs(t, err, status.ErrDeadlineExpired)

	assert.Equal(t, 0, f.gateway.Charges(), "no charge after the deadline")
	assert.Equal(t, models.StatusAccepted, f.reservation(t, "res-1").Status)
	assert.Equal(t, models.PropertyAvailable, f.property(t))
}

func TestPay_ChargesOnce(t *testing.T) {
	f := newFixture(t)
	f.seedReservation(t, "res-1", models.StatusAccepted, acceptedAt(baseTime))

	_, err := f.svc.Pay(context.Background(), "res-1", tenant)
	require.NoError(t, err)

	_, err = f.svc.Pay(context.Background(), "res-1", tenant)
	require.ErrorIs(t, err, status.ErrInvalidTransition)
	assert.Equal(t, 1, f.gateway.Charges())
}

func TestPay_GatewayDecline(t *testing.T) {
	f := newFixture(t)
	f.seedReservation(t, "res-1", models.StatusAccepted, acceptedAt(baseTime))
	f.gateway.Decline("order-res-1")

	_, err := f.svc.Pay(context.Background(), "res-1", tenant)
	require.ErrorIs(t, err, status.ErrPaymentGateway)

	r := f.reservation(t, "res-1")
	assert.Equal(t, models.StatusAccepted, r.Status)
	assert.Nil(t, r.PaidAt)
	_, err = f.store.GetPaymentByReservation(context.Background(), "res-1")
	assert.ErrorIs(t, err, status.ErrNotFound)
	assert.Equal(t, 0, f.notifier.count("tenant-1", NotifyReservationStatus))
}

func TestPay_WrongTenant(t *testing.T) {
	f := newFixture(t)
	f.seedReservation(t, "res-1", models.StatusAccepted, acceptedAt(baseTime))

	_, err := f.svc.Pay(context.Background(), "res-1", otherUser)
	require.ErrorIs(t, err, status.ErrUnauthorized)
	assert.Equal(t, 0, f.gateway.Charges())
}

func TestTransition_InvalidEdge(t *testing.T) {
	f := newFixture(t)
	f.seedReservation(t, "res-1", models.StatusPending, nil)

	_, err := f.svc.MoveIn(context.Background(), "res-1", tenant)
	require.ErrorIs(t, err, status.ErrInvalidTransition)
	assert.Equal(t, models.StatusPending, f.reservation(t, "res-1").Status)

	_, err = f.svc.Transition(context.Background(), "missing", admin, models.StatusAccepted, "")
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestAcceptThenPay(t *testing.T) {
	f := newFixture(t)
	f.seedReservation(t, "res-1", models.StatusPending, func(r *models.Reservation) {
		r.PaymentMethodID = "pm-1"
	})

	r, err := f.svc.Accept(context.Background(), "res-1", advertiser)
	require.NoError(t, err)
	require.NotNil(t, r.AcceptedAt)
	assert.Equal(t, baseTime, *r.AcceptedAt)

	f.clock.Set(baseTime.Add(2 * time.Hour))
	r, err = f.svc.Pay(context.Background(), "res-1", tenant)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, r.Status)
	assert.Equal(t, int64(2), r.Version)
}

func TestAccept_OtherAdvertiser(t *testing.T) {
	f := newFixture(t)
	f.seedReservation(t, "res-1", models.StatusPending, nil)

	_, err := f.svc.Accept(context.Background(), "res-1", Actor{ID: "adv-2", Role: RoleAdvertiser})
	require.ErrorIs(t, err, status.ErrUnauthorized)

	_, err = f.svc.Accept(context.Background(), "res-1", tenant)
	require.ErrorIs(t, err, status.ErrUnauthorized)
}

func TestMoveIn_SchedulesPayout(t *testing.T) {
	f := newFixture(t)
	f.seedReservation(t, "res-1", models.StatusPaid, func(r *models.Reservation) {
		r.PaidAt = models.TimePtr(baseTime.Add(-time.Hour))
	})

	r, err := f.svc.MoveIn(context.Background(), "res-1", tenant)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMovedIn, r.Status)
	assert.Equal(t, models.PropertyRented, f.property(t))

	payout, err := f.store.LatestPayoutForReservation(context.Background(), "res-1")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutPending, payout.Status)
	assert.True(t, payout.Amount.Equal(models.MustMoney("500")), "payout %s", payout.Amount)
	assert.Equal(t, "adv-1", payout.AdvertiserID)
	assert.Equal(t, baseTime.Add(24*time.Hour), payout.ScheduledReleaseDate)

	stored := f.reservation(t, "res-1")
	assert.True(t, stored.PayoutPending)
	require.NotNil(t, stored.PayoutScheduledFor)
	assert.Equal(t, payout.ScheduledReleaseDate, *stored.PayoutScheduledFor)

	assert.Equal(t, 1, f.notifier.count("tenant-1", NotifyReviewPrompt))
}

func TestRequestRefund_Window(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{"one second before deadline", 24*time.Hour - time.Second, nil},
		{"exactly at deadline", 24 * time.Hour, nil},
		{"one second after deadline", 24*time.Hour + time.Second, status.ErrDeadlineExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedReservation(t, "res-1", models.StatusMovedIn, func(r *models.Reservation) {
				r.PaidAt = models.TimePtr(baseTime.Add(-time.Hour))
				r.MovedInAt = models.TimePtr(baseTime)
			})
			f.clock.Set(baseTime.Add(tt.elapsed))

			_, err := f.svc.RequestRefund(context.Background(), "res-1", tenant, "leaking roof")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, models.StatusMovedIn, f.reservation(t, "res-1").Status)
				return
			}
			require.NoError(t, err)
			r := f.reservation(t, "res-1")
			assert.Equal(t, models.StatusRefundProcessing, r.Status)
			assert.Equal(t, "leaking roof", r.Note)
		})
	}
}

func TestApprovedRefund_CancelsPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedReservation(t, "res-1", models.StatusAccepted, acceptedAt(baseTime))

	_, err := f.svc.Pay(ctx, "res-1", tenant)
	require.NoError(t, err)
	_, err = f.svc.MoveIn(ctx, "res-1", tenant)
	require.NoError(t, err)

	f.clock.Set(baseTime.Add(3 * time.Hour))
	_, err = f.svc.RequestRefund(ctx, "res-1", tenant, "")
	require.NoError(t, err)
	r, err := f.svc.ResolveRefund(ctx, "res-1", advertiser, true, "approved")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefundCompleted, r.Status)
	assert.NotNil(t, r.ClosedAt)

	payout, err := f.store.LatestPayoutForReservation(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutFailed, payout.Status)
	assert.Equal(t, FailureRefunded, payout.FailureReason)

	payment, err := f.store.GetPaymentByReservation(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, payment.Status)

	stored := f.reservation(t, "res-1")
	assert.False(t, stored.PayoutPending)
	assert.Nil(t, stored.PayoutScheduledFor)
	assert.Equal(t, models.PropertyAvailable, f.property(t))

	// a run after the safety window releases nothing
	f.clock.Set(baseTime.Add(48 * time.Hour))
	result, err := f.processor.RunDuePayouts(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Empty(t, f.store.LedgerEntries())
}

func TestRefusedRefund_KeepsPayoutDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedReservation(t, "res-1", models.StatusPaid, func(r *models.Reservation) {
		r.PaidAt = models.TimePtr(baseTime.Add(-time.Hour))
	})
	_, err := f.svc.MoveIn(ctx, "res-1", tenant)
	require.NoError(t, err)
	_, err = f.svc.RequestRefund(ctx, "res-1", tenant, "")
	require.NoError(t, err)
	_, err = f.svc.ResolveRefund(ctx, "res-1", advertiser, false, "no grounds")
	require.NoError(t, err)

	f.clock.Set(baseTime.Add(25 * time.Hour))
	result, err := f.processor.RunDuePayouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
}

func TestReviewCancellation_RestoresPriorStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// a payment method is on file, so only the persisted prior status tells accepted apart
	f.seedReservation(t, "res-1", models.StatusAccepted, acceptedAt(baseTime))

	r, err := f.svc.RequestExceptionCancellation(ctx, "res-1", tenant, "family emergency")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancellationUnderReview, r.Status)
	assert.Equal(t, models.StatusAccepted, r.PreviousStatus)

	r, err = f.svc.ReviewCancellation(ctx, "res-1", advertiser, false, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, r.Status)
	assert.Empty(t, r.PreviousStatus)
}

func TestReviewCancellation_LegacyRecord(t *testing.T) {
	f := newFixture(t)
	f.seedReservation(t, "res-1", models.StatusCancellationUnderReview, func(r *models.Reservation) {
		r.PaymentMethodID = "pm-1"
	})

	r, err := f.svc.ReviewCancellation(context.Background(), "res-1", admin, false, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, r.Status)
}

func TestReviewCancellation_WrongRevertTarget(t *testing.T) {
	f := newFixture(t)
	f.seedReservation(t, "res-1", models.StatusCancellationUnderReview, func(r *models.Reservation) {
		r.PreviousStatus = models.StatusAccepted
	})

	_, err := f.svc.Transition(context.Background(), "res-1", advertiser, models.StatusPaid, "")
	require.ErrorIs(t, err, status.ErrInvalidTransition)

	_, err = f.svc.ReviewCancellation(context.Background(), "res-1", tenant, false, "")
	require.ErrorIs(t, err, status.ErrUnauthorized)
}

func TestReviewCancellation_Approved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedReservation(t, "res-1", models.StatusAccepted, acceptedAt(baseTime))
	_, err := f.svc.Pay(ctx, "res-1", tenant)
	require.NoError(t, err)
	_, err = f.svc.RequestExceptionCancellation(ctx, "res-1", tenant, "")
	require.NoError(t, err)

	r, err := f.svc.ReviewCancellation(ctx, "res-1", advertiser, true, "granted")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, r.Status)

	payment, err := f.store.GetPaymentByReservation(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, payment.Status)
	assert.Equal(t, models.PropertyAvailable, f.property(t))
}

func TestProcessStandardCancellation(t *testing.T) {
	tests := []struct {
		name      string
		status    models.ReservationStatus
		policy    models.CancellationPolicy
		scheduled time.Duration
		expected  models.ReservationStatus
		wantErr   error
	}{
		{"pending is cancelled", models.StatusPending, models.PolicyStrict, time.Hour, models.StatusCancelled, nil},
		{"accepted is cancelled", models.StatusAccepted, models.PolicyStrict, time.Hour, models.StatusCancelled, nil},
		{"paid flexible with notice", models.StatusPaid, models.PolicyFlexible, 3 * 24 * time.Hour, models.StatusRefundProcessing, nil},
		{"paid moderate without notice", models.StatusPaid, models.PolicyModerate, 3 * 24 * time.Hour, "", status.ErrDeadlineExpired},
		{"paid strict without notice", models.StatusPaid, models.PolicyStrict, 10 * 24 * time.Hour, "", status.ErrDeadlineExpired},
		{"moved in is not a standard cancellation", models.StatusMovedIn, models.PolicyFlexible, 0, "", status.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedReservation(t, "res-1", tt.status, func(r *models.Reservation) {
				r.CancellationPolicy = tt.policy
				r.ScheduledDate = models.TimePtr(baseTime.Add(tt.scheduled))
				r.AcceptedAt = models.TimePtr(baseTime)
			})

			r, err := f.svc.ProcessStandardCancellation(context.Background(), "res-1", tenant, "")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.status, f.reservation(t, "res-1").Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, r.Status)
		})
	}
}

func TestConcurrentAcceptReject(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		f.seedReservation(t, "res-1", models.StatusPending, nil)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = f.svc.Accept(context.Background(), "res-1", advertiser)
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = f.svc.Reject(context.Background(), "res-1", advertiser, "")
		}()
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, isConflictOrInvalid(err), "unexpected error %v", err)
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, int64(1), f.reservation(t, "res-1").Version)
	}
}

func isConflictOrInvalid(err error) bool {
	return errorClass(err) == "conflict" || errorClass(err) == "invalid_transition"
}

func TestExpire_BeforeDeadline(t *testing.T) {
	f := newFixture(t)
	f.seedReservation(t, "res-1", models.StatusAccepted, acceptedAt(baseTime))

	_, err := f.svc.Transition(context.Background(), "res-1", SystemActor, models.StatusExpired, "")
	require.ErrorIs(t, err, status.ErrInvalidTransition)

	_, err = f.svc.Transition(context.Background(), "res-1", tenant, models.StatusExpired, "")
	require.ErrorIs(t, err, status.ErrUnauthorized)
}

func TestGet_Authorization(t *testing.T) {
	f := newFixture(t)
	f.seedReservation(t, "res-1", models.StatusPending, nil)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, "res-1", tenant)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, "res-1", advertiser)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, "res-1", admin)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, "res-1", otherUser)
	assert.ErrorIs(t, err, status.ErrUnauthorized)
}

func TestSettlementPreview(t *testing.T) {
	f := newFixture(t)
	f.seedReservation(t, "res-1", models.StatusPending, nil)

	s, err := f.svc.Settlement(context.Background(), "res-1", advertiser)
	require.NoError(t, err)
	assert.True(t, s.PayoutAmount.Equal(models.MustMoney("500")))

	_, err = f.svc.Settlement(context.Background(), "res-1", otherUser)
	assert.ErrorIs(t, err, status.ErrUnauthorized)
}
