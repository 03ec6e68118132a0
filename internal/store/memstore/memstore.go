// Package memstore is an in-memory store.Store used for local development and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rental-settlement/internal/status"
	"rental-settlement/internal/store"
	"rental-settlement/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu           sync.RWMutex
	reservations map[string]*models.Reservation
	properties   map[string]*models.Property
	advertisers  map[string]*models.Advertiser
	payments     map[string]*models.Payment // keyed by reservation id
	payouts      map[string]*models.PendingPayout
	ledger       []*models.LedgerEntry
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		reservations: make(map[string]*models.Reservation),
		properties:   make(map[string]*models.Property),
		advertisers:  make(map[string]*models.Advertiser),
		payments:     make(map[string]*models.Payment),
		payouts:      make(map[string]*models.PendingPayout),
	}
}

// PutReservation inserts or replaces a reservation without a version check.
func (s *Store) PutReservation(r *models.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[r.ID] = r.Clone()
}

func (s *Store) PutProperty(p *models.Property) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.properties[p.ID] = &c
}

func (s *Store) PutAdvertiser(a *models.Advertiser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *a
	s.advertisers[a.ID] = &c
}

// PutPayout inserts or replaces a payout without any check.
func (s *Store) PutPayout(p *models.PendingPayout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payouts[p.ID] = p.Clone()
}

// LedgerEntries returns a copy of the ledger in insertion order.
func (s *Store) LedgerEntries() []models.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.LedgerEntry, 0, len(s.ledger))
	for _, e := range s.ledger {
		out = append(out, *e)
	}
	return out
}

func (s *Store) GetReservation(_ context.Context, id string) (*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, status.ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *Store) UpdateReservation(_ context.Context, r *models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.reservations[r.ID]
	if !ok {
		return fmt.Errorf("reservation %s: %w", r.ID, status.ErrNotFound)
	}
	if cur.Version != r.Version {
		return fmt.Errorf("reservation %s at version %d, have %d: %w", r.ID, cur.Version, r.Version, status.ErrConflict)
	}
	r.Version++
	s.reservations[r.ID] = r.Clone()
	return nil
}

func (s *Store) ListReservations(_ context.Context, q store.ReservationQuery) ([]*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Reservation
	for _, r := range s.reservations {
		if !matchReservation(r, q) {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, q.Offset, q.Limit), nil
}

func matchReservation(r *models.Reservation, q store.ReservationQuery) bool {
	if len(q.Statuses) > 0 {
		found := false
		for _, st := range q.Statuses {
			if r.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.PayoutPending != nil && r.PayoutPending != *q.PayoutPending {
		return false
	}
	if q.PayoutProcessed != nil && r.PayoutProcessed != *q.PayoutProcessed {
		return false
	}
	if !q.PayoutDueBy.IsZero() && (r.PayoutScheduledFor == nil || r.PayoutScheduledFor.After(q.PayoutDueBy)) {
		return false
	}
	if !q.AcceptedBefore.IsZero() {
		anchor := r.UpdatedAt
		if r.AcceptedAt != nil {
			anchor = *r.AcceptedAt
		}
		if !anchor.Before(q.AcceptedBefore) {
			return false
		}
	}
	if q.AdvertiserID != "" && r.AdvertiserID != q.AdvertiserID {
		return false
	}
	return true
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (s *Store) GetProperty(_ context.Context, id string) (*models.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.properties[id]
	if !ok {
		return nil, fmt.Errorf("property %s: %w", id, status.ErrNotFound)
	}
	c := *p
	return &c, nil
}

func (s *Store) SetPropertyStatus(_ context.Context, id string, st models.PropertyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.properties[id]
	if !ok {
		return fmt.Errorf("property %s: %w", id, status.ErrNotFound)
	}
	p.Status = st
	return nil
}

func (s *Store) GetAdvertiser(_ context.Context, id string) (*models.Advertiser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.advertisers[id]
	if !ok {
		return nil, fmt.Errorf("advertiser %s: %w", id, status.ErrNotFound)
	}
	c := *a
	return &c, nil
}

func (s *Store) FindAdvertiserByUser(_ context.Context, userID string) (*models.Advertiser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.advertisers {
		if a.UserID == userID {
			c := *a
			return &c, nil
		}
	}
	return nil, fmt.Errorf("advertiser for user %s: %w", userID, status.ErrNotFound)
}

func (s *Store) GetPaymentByReservation(_ context.Context, reservationID string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[reservationID]
	if !ok {
		return nil, fmt.Errorf("payment for reservation %s: %w", reservationID, status.ErrNotFound)
	}
	c := *p
	return &c, nil
}

func (s *Store) CreatePayment(_ context.Context, p *models.Payment) (*models.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.payments[p.ReservationID]; ok {
		c := *cur
		return &c, false, nil
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	c := *p
	s.payments[p.ReservationID] = &c
	return p, true, nil
}

func (s *Store) UpdatePayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.payments[p.ReservationID]
	if !ok {
		return fmt.Errorf("payment for reservation %s: %w", p.ReservationID, status.ErrNotFound)
	}
	if cur.Version != p.Version {
		return fmt.Errorf("payment %s at version %d, have %d: %w", cur.ID, cur.Version, p.Version, status.ErrConflict)
	}
	p.Version++
	c := *p
	s.payments[p.ReservationID] = &c
	return nil
}

func (s *Store) GetPayout(_ context.Context, id string) (*models.PendingPayout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payouts[id]
	if !ok {
		return nil, fmt.Errorf("payout %s: %w", id, status.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *Store) LatestPayoutForReservation(_ context.Context, reservationID string) (*models.PendingPayout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.PendingPayout
	for _, p := range s.payouts {
		if p.ReservationID != reservationID {
			continue
		}
		if p.Status.IsActive() {
			return p.Clone(), nil
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("payout for reservation %s: %w", reservationID, status.ErrNotFound)
	}
	return latest.Clone(), nil
}

func (s *Store) CreatePayout(_ context.Context, p *models.PendingPayout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.payouts {
		if cur.ReservationID == p.ReservationID && cur.Status.IsActive() {
			return fmt.Errorf("active payout %s exists for reservation %s: %w", cur.ID, p.ReservationID, status.ErrConflict)
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.payouts[p.ID] = p.Clone()
	return nil
}

func (s *Store) UpdatePayout(_ context.Context, p *models.PendingPayout, expected models.PayoutStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.payouts[p.ID]
	if !ok {
		return fmt.Errorf("payout %s: %w", p.ID, status.ErrNotFound)
	}
	if cur.Status != expected {
		return fmt.Errorf("payout %s is %s, expected %s: %w", p.ID, cur.Status, expected, status.ErrConflict)
	}
	if expected == models.PayoutProcessing && cur.ClaimToken != p.ClaimToken {
		return fmt.Errorf("payout %s claimed by another worker: %w", p.ID, status.ErrConflict)
	}
	s.payouts[p.ID] = p.Clone()
	return nil
}

func (s *Store) ClaimPayout(_ context.Context, id, token string, now, staleBefore time.Time) (*models.PendingPayout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.payouts[id]
	if !ok {
		return nil, fmt.Errorf("payout %s: %w", id, status.ErrNotFound)
	}
	if !claimable(cur, staleBefore) {
		return nil, fmt.Errorf("payout %s is %s: %w", id, cur.Status, status.ErrConflict)
	}
	cur.Status = models.PayoutProcessing
	cur.ClaimToken = token
	cur.ClaimedAt = models.TimePtr(now)
	cur.UpdatedAt = now
	return cur.Clone(), nil
}

func claimable(p *models.PendingPayout, staleBefore time.Time) bool {
	switch p.Status {
	case models.PayoutPending:
		return true
	case models.PayoutProcessing:
		return p.ClaimedAt == nil || p.ClaimedAt.Before(staleBefore)
	}
	return false
}

func (s *Store) ListPayouts(_ context.Context, q store.PayoutQuery) ([]*models.PendingPayout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PendingPayout
	for _, p := range s.payouts {
		if q.AdvertiserID != "" && p.AdvertiserID != q.AdvertiserID {
			continue
		}
		if len(q.Statuses) > 0 {
			found := false
			for _, st := range q.Statuses {
				if p.Status == st {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledReleaseDate.Before(out[j].ScheduledReleaseDate)
	})
	return page(out, q.Offset, q.Limit), nil
}

func (s *Store) AppendLedgerEntry(_ context.Context, e *models.LedgerEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.ledger {
		if cur.PayoutID == e.PayoutID && cur.Kind == e.Kind {
			return false, nil
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	c := *e
	s.ledger = append(s.ledger, &c)
	return true, nil
}

func (s *Store) AdvertiserTotals(_ context.Context, advertiserID string) (models.AdvertiserTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	totals := models.AdvertiserTotals{AdvertiserID: advertiserID, TotalCollected: decimal.Zero}
	for _, e := range s.ledger {
		if e.AdvertiserID != advertiserID {
			continue
		}
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
