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
	"rental-settlement/monitoring"
	"rental-settlement/utils"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type ItemOutcome string

const (
	OutcomeCompleted ItemOutcome = "completed"
	OutcomeRepaired  ItemOutcome = "repaired"
	OutcomeSkipped   ItemOutcome = "skipped"
	OutcomeFailed    ItemOutcome = "failed"
)

type ItemResult struct {
	ReservationID string      `json:"reservationId"`
	PayoutID      string      `json:"payoutId,omitempty"`
	Outcome       ItemOutcome `json:"outcome"`
	Reason        string      `json:"reason,omitempty"`
}

type BatchResult struct {
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Items      []ItemResult `json:"items"`
	Completed  int          `json:"completed"`
	Repaired   int          `json:"repaired"`
	Skipped    int          `json:"skipped"`
	Failed     int          `json:"failed"`
}

type ProcessorConfig struct {
	BatchLimit int
	Workers    int
	LockTTL    time.Duration
	ClaimTTL   time.Duration
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchLimit: 100,
		Workers:    4,
		LockTTL:    2 * time.Minute,
		ClaimTTL:   10 * time.Minute,
	}
}

// payableStatuses are the reservation statuses whose payouts may be released. A refund that
// was refused leaves the payout due.
var payableStatuses = []models.ReservationStatus{models.StatusMovedIn, models.StatusRefundFailed}

// PayoutProcessor finalizes due payouts. The payout's own status is the source of truth;
// reservation flags are derived from it and repaired when they disagree.
type PayoutProcessor struct {
	store     store.Store
	scheduler *PayoutScheduler
	locker    utils.Locker
	notifier  Notifier
	calc      SettlementCalculator
	cfg       ProcessorConfig
	logger    *slog.Logger
	nowFn     func() time.Time
	tokenFn   func() string
}

func NewPayoutProcessor(s store.Store, scheduler *PayoutScheduler, locker utils.Locker, notifier Notifier, calc SettlementCalculator, cfg ProcessorConfig) *PayoutProcessor {
	def := DefaultProcessorConfig()
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = def.BatchLimit
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = def.ClaimTTL
	}
	return &PayoutProcessor{
		store:     s,
		scheduler: scheduler,
		locker:    locker,
		notifier:  notifier,
		calc:      calc,
		cfg:       cfg,
		logger:    slog.Default(),
		nowFn:     time.Now,
		tokenFn:   uuid.NewString,
	}
}

// RunDuePayouts processes every reservation whose payout is due. Items are independent:
// an error on one is recorded in its result and never aborts the others. The returned error
// is non-nil when the due set could not be loaded, or when ctx ended before every item ran;
// in that case the partial result is returned with it.
func (p *PayoutProcessor) RunDuePayouts(ctx context.Context) (*BatchResult, error) {
	result := &BatchResult{StartedAt: p.nowFn()}

	due, err := p.dueReservations(ctx, result.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("load due payouts: %w", err)
	}

	items := make([]ItemResult, len(due))
	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Workers)
	for i, r := range due {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				items[i] = ItemResult{ReservationID: r.ID, Outcome: OutcomeSkipped, Reason: err.Error()}
				return err
			}
			items[i] = p.processItem(ctx, r)
			return nil
		})
	}
	waitErr := g.Wait()

	result.Items = items
	for _, item := range items {
		switch item.Outcome {
		case OutcomeCompleted:
			result.Completed++
		case OutcomeRepaired:
			result.Repaired++
		case OutcomeSkipped:
			result.Skipped++
		case OutcomeFailed:
			result.Failed++
		}
		monitoring.TrackPayoutOutcome(string(item.Outcome))
	}
	result.FinishedAt = p.nowFn()
	monitoring.TrackBatch(result.FinishedAt.Sub(result.StartedAt))

	p.logger.Info("Payout batch finished",
		"due", len(due),
		"completed", result.Completed,
		"repaired", result.Repaired,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	if waitErr != nil {
		return result, fmt.Errorf("payout run interrupted: %w", waitErr)
	}
	return result, nil
}

func (p *PayoutProcessor) dueReservations(ctx context.Context, now time.Time) ([]*models.Reservation, error) {
	var due []*models.Reservation
	for offset := 0; ; offset += p.cfg.BatchLimit {
		page, err := p.store.ListReservations(ctx, store.ReservationQuery{
			Statuses:      payableStatuses,
			PayoutPending: store.Bool(true),
			PayoutDueBy:   now,
			Limit:         p.cfg.BatchLimit,
			Offset:        offset,
		})
		if err != nil {
			return nil, err
		}
		due = append(due, page...)
		if len(page) < p.cfg.BatchLimit {
			return due, nil
		}
	}
}

func (p *PayoutProcessor) processItem(ctx context.Context, r *models.Reservation) ItemResult {
	item := ItemResult{ReservationID: r.ID}
	now := p.nowFn()

	fail := func(err error) ItemResult {
		item.Outcome = OutcomeFailed
		item.Reason = err.Error()
		p.logger.Error("Payout item failed", "reservation_id", r.ID, "payout_id", item.PayoutID, "error", err)
		return item
	}

	payout, err := p.store.LatestPayoutForReservation(ctx, r.ID)
	if errors.Is(err, status.ErrNotFound) {
		releaseAt := now
		if r.PayoutScheduledFor != nil {
			releaseAt = *r.PayoutScheduledFor
		}
		payout, err = p.scheduler.SchedulePendingPayout(ctx, r.ID, releaseAt)
	}
	if err != nil {
		return fail(err)
	}
	item.PayoutID = payout.ID

	switch payout.Status {
	case models.PayoutCompleted:
		if err := p.markProcessed(ctx, r.ID, payout, now); err != nil {
			return fail(err)
		}
		item.Outcome = OutcomeRepaired
		item.Reason = "payout already completed"
		return item
	case models.PayoutFailed:
		if err := p.clearPending(ctx, r.ID, now); err != nil {
			return fail(err)
		}
		item.Outcome = OutcomeRepaired
		item.Reason = "payout failed: " + payout.FailureReason
		return item
	}
	if payout.ScheduledReleaseDate.After(now) {
		item.Outcome = OutcomeSkipped
		item.Reason = "not yet due"
		return item
	}

	release, ok, err := p.locker.TryLock(ctx, "payout:"+payout.ID, p.cfg.LockTTL)
	if err != nil {
		return fail(err)
	}
	if !ok {
		item.Outcome = OutcomeSkipped
		item.Reason = "locked by another worker"
		return item
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("Failed to release payout lock", "payout_id", payout.ID, "error", err)
		}
	}()

	claimed, err := p.store.ClaimPayout(ctx, payout.ID, p.tokenFn(), now, now.Add(-p.cfg.ClaimTTL))
	if errors.Is(err, status.ErrConflict) {
		item.Outcome = OutcomeSkipped
		item.Reason = "claimed by another worker"
		return item
	}
	if err != nil {
		return fail(err)
	}

	if err := p.finalize(ctx, claimed, now); err != nil {
		if errors.Is(err, errNotPayable) {
			p.releaseClaim(ctx, claimed, "")
			item.Outcome = OutcomeSkipped
			item.Reason = err.Error()
			return item
		}
		p.releaseClaim(ctx, claimed, err.Error())
		return fail(err)
	}

	item.Outcome = OutcomeCompleted
	return item
}

var errNotPayable = errors.New("reservation is no longer payable")

func (p *PayoutProcessor) finalize(ctx context.Context, payout *models.PendingPayout, now time.Time) error {
	r, err := p.store.GetReservation(ctx, payout.ReservationID)
	if err != nil {
		return err
	}
	if !isPayable(r.Status) {
		return fmt.Errorf("%w: status %s", errNotPayable, r.Status)
	}
	advertiser, err := p.store.GetAdvertiser(ctx, payout.AdvertiserID)
	if err != nil {
		return err
	}

	settlement := p.calc.Compute(r, advertiser.Type)
	if !settlement.PayoutAmount.Equal(payout.Amount) {
		p.logger.Warn("Payout amount changed since scheduling",
			"payout_id", payout.ID,
			"scheduled", payout.Amount.String(),
			"recomputed", settlement.PayoutAmount.String(),
		)
	}
	payout.Amount = settlement.PayoutAmount
	payout.Currency = settlement.Currency

	if _, err := p.store.AppendLedgerEntry(ctx, &models.LedgerEntry{
		AdvertiserID:  payout.AdvertiserID,
		PayoutID:      payout.ID,
		ReservationID: payout.ReservationID,
		Kind:          models.LedgerPayout,
		Amount:        payout.Amount,
		Currency:      payout.Currency,
		CreatedAt:     now,
	}); err != nil {
		return fmt.Errorf("credit advertiser %s: %w", payout.AdvertiserID, err)
	}

	if err := p.markPaymentSettled(ctx, r.ID, now); err != nil {
		return err
	}

	payout.Status = models.PayoutCompleted
	payout.CompletedAt = models.TimePtr(now)
	payout.LastError = ""
	payout.UpdatedAt = now
	if err := p.store.UpdatePayout(ctx, payout, models.PayoutProcessing); err != nil {
		p.compensate(ctx, payout, now)
		return fmt.Errorf("complete payout %s: %w", payout.ID, err)
	}

	if err := p.markProcessed(ctx, r.ID, payout, now); err != nil {
		// the payout is completed; the next run repairs the flags
		p.logger.Error("Failed to flag reservation processed", "reservation_id", r.ID, "payout_id", payout.ID, "error", err)
	}

	amount, _ := payout.Amount.Float64()
	monitoring.TrackPayoutAmount(payout.Currency, amount)

	p.notifier.Notify(ctx, advertiser.UserID, NotifyPayoutCompleted, map[string]any{
		"payoutId":      payout.ID,
		"reservationId": payout.ReservationID,
		"amount":        payout.Amount.StringFixed(2),
		"currency":      payout.Currency,
	})
	p.logger.Info("Payout completed", "payout_id", payout.ID, "reservation_id", r.ID, "amount", payout.Amount.String())
	return nil
}

// compensate reverses the credit when the payout was cancelled between credit and completion.
func (p *PayoutProcessor) compensate(ctx context.Context, payout *models.PendingPayout, now time.Time) {
	cur, err := p.store.GetPayout(ctx, payout.ID)
	if err != nil {
		p.logger.Error("Failed to reload payout after lost completion", "payout_id", payout.ID, "error", err)
		return
	}
	if cur.Status != models.PayoutFailed {
		return
	}
	if _, err := reverseCredit(ctx, p.store, payout, now); err != nil {
		p.logger.Error("Failed to reverse credit of cancelled payout", "payout_id", payout.ID, "error", err)
	}
}

func (p *PayoutProcessor) releaseClaim(ctx context.Context, payout *models.PendingPayout, lastError string) {
	payout.Status = models.PayoutPending
	payout.ClaimedAt = nil
	payout.CompletedAt = nil
	if lastError != "" {
		payout.Attempts++
		payout.LastError = lastError
	}
	payout.UpdatedAt = p.nowFn()

	// the claim token must still match for the write to land
	if err := p.store.UpdatePayout(context.WithoutCancel(ctx), payout, models.PayoutProcessing); err != nil {
		p.logger.Warn("Failed to release payout claim", "payout_id", payout.ID, "error", err)
	}
}

// markPaymentSettled records that the advertiser was paid. It only touches the advertiser side,
// so a refund written concurrently keeps its status. A payment still pending on a payable
// reservation was captured, so it is confirmed here.
func (p *PayoutProcessor) markPaymentSettled(ctx context.Context, reservationID string, now time.Time) error {
	err := updatePayment(ctx, p.store, reservationID, func(payment *models.Payment) bool {
		if payment.AdvertiserStatus == models.AdvertiserCompleted && payment.Status != models.PaymentPending {
			return false
		}
		payment.AdvertiserStatus = models.AdvertiserCompleted
		if payment.Status == models.PaymentPending {
			payment.Status = models.PaymentCompleted
		}
		payment.UpdatedAt = now
		return true
	})
	if errors.Is(err, status.ErrNotFound) {
		p.logger.Warn("No payment to settle for payout", "reservation_id", reservationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("settle payment for reservation %s: %w", reservationID, err)
	}
	return nil
}

func (p *PayoutProcessor) markProcessed(ctx context.Context, reservationID string, payout *models.PendingPayout, now time.Time) error {
	processedAt := now
	if payout.CompletedAt != nil {
		processedAt = *payout.CompletedAt
	}
	return updateReservation(ctx, p.store, reservationID, func(r *models.Reservation) bool {
		if !r.PayoutPending && r.PayoutProcessed {
			return false
		}
		r.PayoutPending = false
		r.PayoutScheduledFor = nil
		r.PayoutProcessed = true
		r.PayoutProcessedAt = models.TimePtr(processedAt)
		r.UpdatedAt = now
		return true
	})
}

func (p *PayoutProcessor) clearPending(ctx context.Context, reservationID string, now time.Time) error {
	return updateReservation(ctx, p.store, reservationID, func(r *models.Reservation) bool {
		if !r.PayoutPending && r.PayoutScheduledFor == nil {
			return false
		}
		r.PayoutPending = false
		r.PayoutScheduledFor = nil
		r.UpdatedAt = now
		return true
	})
}

func isPayable(s models.ReservationStatus) bool {
	for _, st := range payableStatuses {
		if s == st {
			return true
		}
	}
	return false
}
