// Package pbstore implements store.Store on top of PocketBase collections.
//
// Single-document compare-and-swap runs inside app.RunInTransaction so the read and the
// conditional write see the same row.
package pbstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rental-settlement/internal/status"
	"rental-settlement/internal/store"
	"rental-settlement/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

type Store struct {
	app core.App
}

var _ store.Store = (*Store)(nil)

func New(app core.App) *Store {
	return &Store{app: app}
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, status.ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func (s *Store) GetReservation(_ context.Context, id string) (*models.Reservation, error) {
	rec, err := s.app.FindRecordById(collectionReservations, id)
	if err != nil {
		return nil, notFound(err, "reservation %s", id)
	}
	return toReservation(rec), nil
}

// CreateReservation inserts r. Used by seeding commands and tests.
func (s *Store) CreateReservation(ctx context.Context, r *models.Reservation) error {
	collection, err := s.app.FindCollectionByNameOrId(collectionReservations)
	if err != nil {
		return err
	}
	rec := core.NewRecord(collection)
	if r.ID != "" {
		rec.Id = r.ID
	}
	fillReservation(rec, r)
	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		return fmt.Errorf("create reservation: %w", err)
	}
	r.ID = rec.Id
	return nil
}

func (s *Store) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		rec, err := txApp.FindRecordById(collectionReservations, r.ID)
		if err != nil {
			return notFound(err, "reservation %s", r.ID)
		}
		if cur := int64(rec.GetInt("version")); cur != r.Version {
			return fmt.Errorf("reservation %s at version %d, have %d: %w", r.ID, cur, r.Version, status.ErrConflict)
		}
		next := r.Clone()
		next.Version++
		fillReservation(rec, next)
		if err := txApp.SaveWithContext(ctx, rec); err != nil {
			return fmt.Errorf("save reservation %s: %w", r.ID, err)
		}
		r.Version = next.Version
		return nil
	})
}

func (s *Store) ListReservations(ctx context.Context, q store.ReservationQuery) ([]*models.Reservation, error) {
	query := s.app.RecordQuery(collectionReservations).WithContext(ctx)
	if len(q.Statuses) > 0 {
		values := make([]any, 0, len(q.Statuses))
		for _, st := range q.Statuses {
			values = append(values, string(st))
		}
		query.AndWhere(dbx.In("status", values...))
	}
	if q.PayoutPending != nil {
		query.AndWhere(dbx.HashExp{"payoutPending": *q.PayoutPending})
	}
	if q.PayoutProcessed != nil {
		query.AndWhere(dbx.HashExp{"payoutProcessed": *q.PayoutProcessed})
	}
	if !q.PayoutDueBy.IsZero() {
		query.AndWhere(dbx.NewExp("payoutScheduledFor != '' AND payoutScheduledFor <= {:dueBy}", dbx.Params{"dueBy": dateParam(q.PayoutDueBy)}))
	}
	if !q.AcceptedBefore.IsZero() {
		query.AndWhere(dbx.NewExp("COALESCE(NULLIF(acceptedAt, ''), updatedAt) < {:acceptedBefore}", dbx.Params{"acceptedBefore": dateParam(q.AcceptedBefore)}))
	}
	if q.AdvertiserID != "" {
		query.AndWhere(dbx.HashExp{"advertiserId": q.AdvertiserID})
	}
	query.OrderBy("createdAt ASC", "id ASC")
	if q.Limit > 0 {
		query.Limit(int64(q.Limit))
	}
	if q.Offset > 0 {
		query.Offset(int64(q.Offset))
	}

	var records []*core.Record
	if err := query.All(&records); err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	out := make([]*models.Reservation, 0, len(records))
	for _, rec := range records {
		out = append(out, toReservation(rec))
	}
	return out, nil
}

func (s *Store) GetProperty(_ context.Context, id string) (*models.Property, error) {
	rec, err := s.app.FindRecordById(collectionProperties, id)
	if err != nil {
		return nil, notFound(err, "property %s", id)
	}
	return toProperty(rec), nil
}

func (s *Store) SetPropertyStatus(ctx context.Context, id string, st models.PropertyStatus) error {
	rec, err := s.app.FindRecordById(collectionProperties, id)
	if err != nil {
		return notFound(err, "property %s", id)
	}
	rec.Set("status", string(st))
	return s.app.SaveWithContext(ctx, rec)
}

func (s *Store) GetAdvertiser(_ context.Context, id string) (*models.Advertiser, error) {
	rec, err := s.app.FindRecordById(collectionAdvertisers, id)
	if err != nil {
		return nil, notFound(err, "advertiser %s", id)
	}
	return toAdvertiser(rec), nil
}

func (s *Store) FindAdvertiserByUser(_ context.Context, userID string) (*models.Advertiser, error) {
	rec, err := s.app.FindFirstRecordByData(collectionAdvertisers, "userId", userID)
	if err != nil {
		return nil, notFound(err, "advertiser for user %s", userID)
	}
	return toAdvertiser(rec), nil
}

func (s *Store) GetPaymentByReservation(_ context.Context, reservationID string) (*models.Payment, error) {
	rec, err := s.app.FindFirstRecordByData(collectionPayments, "reservationId", reservationID)
	if err != nil {
		return nil, notFound(err, "payment for reservation %s", reservationID)
	}
	return toPayment(rec), nil
}

func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) (*models.Payment, bool, error) {
	var (
		existing *models.Payment
		created  bool
	)
	err := s.app.RunInTransaction(func(txApp core.App) error {
		rec, err := txApp.FindFirstRecordByData(collectionPayments, "reservationId", p.ReservationID)
		if err == nil {
			existing = toPayment(rec)
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		collection, err := txApp.FindCollectionByNameOrId(collectionPayments)
		if err != nil {
			return err
		}
		rec = core.NewRecord(collection)
		if p.ID != "" {
			rec.Id = p.ID
		}
		fillPayment(rec, p)
		if err := txApp.SaveWithContext(ctx, rec); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		p.ID = rec.Id
		existing = p
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return existing, created, nil
}

func (s *Store) UpdatePayment(ctx context.Context, p *models.Payment) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		rec, err := txApp.FindFirstRecordByData(collectionPayments, "reservationId", p.ReservationID)
		if err != nil {
			return notFound(err, "payment for reservation %s", p.ReservationID)
		}
		if cur := int64(rec.GetInt("version")); cur != p.Version {
			return fmt.Errorf("payment %s at version %d, have %d: %w", rec.Id, cur, p.Version, status.ErrConflict)
		}
		next := *p
		next.Version++
		fillPayment(rec, &next)
		if err := txApp.SaveWithContext(ctx, rec); err != nil {
			return fmt.Errorf("save payment %s: %w", rec.Id, err)
		}
		p.Version = next.Version
		return nil
	})
}

func (s *Store) GetPayout(_ context.Context, id string) (*models.PendingPayout, error) {
	rec, err := s.app.FindRecordById(collectionPayouts, id)
	if err != nil {
		return nil, notFound(err, "payout %s", id)
	}
	return toPayout(rec), nil
}

func (s *Store) LatestPayoutForReservation(ctx context.Context, reservationID string) (*models.PendingPayout, error) {
	var records []*core.Record
	err := s.app.RecordQuery(collectionPayouts).
		WithContext(ctx).
		AndWhere(dbx.HashExp{"reservationId": reservationID}).
		OrderBy("createdAt DESC").
		All(&records)
	if err != nil {
		return nil, fmt.Errorf("payouts for reservation %s: %w", reservationID, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("payout for reservation %s: %w", reservationID, status.ErrNotFound)
	}
	for _, rec := range records {
		if models.PayoutStatus(rec.GetString("status")).IsActive() {
			return toPayout(rec), nil
		}
	}
	return toPayout(records[0]), nil
}

func (s *Store) CreatePayout(ctx context.Context, p *models.PendingPayout) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		active, err := txApp.FindRecordsByFilter(
			collectionPayouts,
			"reservationId = {:reservationId} && (status = 'pending' || status = 'processing')",
			"",
			1,
			0,
			dbx.Params{"reservationId": p.ReservationID},
		)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return fmt.Errorf("active payout %s exists for reservation %s: %w", active[0].Id, p.ReservationID, status.ErrConflict)
		}
		collection, err := txApp.FindCollectionByNameOrId(collectionPayouts)
		if err != nil {
			return err
		}
		rec := core.NewRecord(collection)
		if p.ID != "" {
			rec.Id = p.ID
		}
		fillPayout(rec, p)
		if err := txApp.SaveWithContext(ctx, rec); err != nil {
			return fmt.Errorf("create payout: %w", err)
		}
		p.ID = rec.Id
		return nil
	})
}

func (s *Store) UpdatePayout(ctx context.Context, p *models.PendingPayout, expected models.PayoutStatus) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		rec, err := txApp.FindRecordById(collectionPayouts, p.ID)
		if err != nil {
			return notFound(err, "payout %s", p.ID)
		}
		cur := models.PayoutStatus(rec.GetString("status"))
		if cur != expected {
			return fmt.Errorf("payout %s is %s, expected %s: %w", p.ID, cur, expected, status.ErrConflict)
		}
		if expected == models.PayoutProcessing && rec.GetString("claimToken") != p.ClaimToken {
			return fmt.Errorf("payout %s claimed by another worker: %w", p.ID, status.ErrConflict)
		}
		fillPayout(rec, p)
		return txApp.SaveWithContext(ctx, rec)
	})
}

func (s *Store) ClaimPayout(ctx context.Context, id, token string, now, staleBefore time.Time) (*models.PendingPayout, error) {
	var claimed *models.PendingPayout
	err := s.app.RunInTransaction(func(txApp core.App) error {
		rec, err := txApp.FindRecordById(collectionPayouts, id)
		if err != nil {
			return notFound(err, "payout %s", id)
		}
		cur := toPayout(rec)
		switch {
		case cur.Status == models.PayoutPending:
		case cur.Status == models.PayoutProcessing && (cur.ClaimedAt == nil || cur.ClaimedAt.Before(staleBefore)):
		default:
			return fmt.Errorf("payout %s is %s: %w", id, cur.Status, status.ErrConflict)
		}
		cur.Status = models.PayoutProcessing
		cur.ClaimToken = token
		cur.ClaimedAt = models.TimePtr(now)
		cur.UpdatedAt = now
		fillPayout(rec, cur)
		if err := txApp.SaveWithContext(ctx, rec); err != nil {
			return err
		}
		claimed = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Store) ListPayouts(ctx context.Context, q store.PayoutQuery) ([]*models.PendingPayout, error) {
	query := s.app.RecordQuery(collectionPayouts).WithContext(ctx)
	if len(q.Statuses) > 0 {
		values := make([]any, 0, len(q.Statuses))
		for _, st := range q.Statuses {
			values = append(values, string(st))
		}
		query.AndWhere(dbx.In("status", values...))
	}
	if q.AdvertiserID != "" {
		query.AndWhere(dbx.HashExp{"advertiserId": q.AdvertiserID})
	}
	query.OrderBy("scheduledReleaseDate ASC")
	if q.Limit > 0 {
		query.Limit(int64(q.Limit))
	}
	if q.Offset > 0 {
		query.Offset(int64(q.Offset))
	}

	var records []*core.Record
	if err := query.All(&records); err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	out := make([]*models.PendingPayout, 0, len(records))
	for _, rec := range records {
		out = append(out, toPayout(rec))
	}
	return out, nil
}

func (s *Store) AppendLedgerEntry(ctx context.Context, e *models.LedgerEntry) (bool, error) {
	var created bool
	err := s.app.RunInTransaction(func(txApp core.App) error {
		existing, err := txApp.FindRecordsByFilter(
			collectionLedger,
			"payoutId = {:payoutId} && kind = {:kind}",
			"",
			1,
			0,
			dbx.Params{"payoutId": e.PayoutID, "kind": string(e.Kind)},
		)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
		collection, err := txApp.FindCollectionByNameOrId(collectionLedger)
		if err != nil {
			return err
		}
		rec := core.NewRecord(collection)
		rec.Set("advertiserId", e.AdvertiserID)
		rec.Set("payoutId", e.PayoutID)
		rec.Set("reservationId", e.ReservationID)
		rec.Set("kind", string(e.Kind))
		rec.Set("amount", e.Amount.String())
		rec.Set("currency", e.Currency)
		setTime(rec, "createdAt", &e.CreatedAt)
		if err := txApp.SaveWithContext(ctx, rec); err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}
		e.ID = rec.Id
		created = true
		return nil
	})
	return created, err
}

func (s *Store) AdvertiserTotals(ctx context.Context, advertiserID string) (models.AdvertiserTotals, error) {
	totals := models.AdvertiserTotals{AdvertiserID: advertiserID, TotalCollected: decimal.Zero}
	var records []*core.Record
	err := s.app.RecordQuery(collectionLedger).
		WithContext(ctx).
		AndWhere(dbx.HashExp{"advertiserId": advertiserID}).
		All(&records)
	if err != nil {
		return totals, fmt.Errorf("ledger for advertiser %s: %w", advertiserID, err)
	}
	for _, rec := range records {
		e := toLedgerEntry(rec)
		totals.TotalCollected = totals.TotalCollected.Add(e.Amount)
		switch e.Kind {
		case models.LedgerPayout:
			totals.PaymentCount++
		case models.LedgerReversal:
			totals.PaymentCount--
		}
	}
	return totals, nil
}

// CreateAdvertiser inserts a. Used by seeding commands and tests.
func (s *Store) CreateAdvertiser(ctx context.Context, a *models.Advertiser) error {
	collection, err := s.app.FindCollectionByNameOrId(collectionAdvertisers)
	if err != nil {
		return err
	}
	rec := core.NewRecord(collection)
	if a.ID != "" {
		rec.Id = a.ID
	}
	rec.Set("userId", a.UserID)
	rec.Set("name", a.Name)
	rec.Set("type", string(a.Type))
	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		return fmt.Errorf("create advertiser: %w", err)
	}
	a.ID = rec.Id
	return nil
}

// CreateProperty inserts p. Used by seeding commands and tests.
func (s *Store) CreateProperty(ctx context.Context, p *models.Property) error {
	collection, err := s.app.FindCollectionByNameOrId(collectionProperties)
	if err != nil {
		return err
	}
	rec := core.NewRecord(collection)
	if p.ID != "" {
		rec.Id = p.ID
	}
	rec.Set("advertiserId", p.AdvertiserID)
	rec.Set("title", p.Title)
	rec.Set("status", string(p.Status))
	if err := s.app.SaveWithContext(ctx, rec); err != nil {
		return fmt.Errorf("create property: %w", err)
	}
	p.ID = rec.Id
	return nil
}
