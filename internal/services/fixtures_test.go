package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"rental-settlement/internal/services/gateway"
	"rental-settlement/internal/store"
	"rental-settlement/internal/store/memstore"
	"rental-settlement/models"
	"rental-settlement/utils"

	"github.com/stretchr/testify/require"
)

var (
	tenant     = Actor{ID: "tenant-1", Role: RoleTenant}
	otherUser  = Actor{ID: "tenant-2", Role: RoleTenant}
	advertiser = Actor{ID: "adv-1", Role: RoleAdvertiser}
	admin      = Actor{ID: "admin-1", Role: RoleAdmin}
)

type notification struct {
	userID  string
	kind    string
	payload map[string]any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(_ context.Context, userID, kind string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{userID: userID, kind: kind, payload: payload})
}

func (n *recordingNotifier) count(userID, kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.userID == userID && s.kind == kind {
			c++
		}
	}
	return c
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	store     *memstore.Store
	gateway   *gateway.Simulated
	notifier  *recordingNotifier
	clock     *testClock
	locker    *utils.LocalLock
	scheduler *PayoutScheduler
	processor *PayoutProcessor
	svc       *ReservationService
	reaper    *Reaper
}

var baseTime = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memstore.New(), nil)
}

// newFixtureWithStore wires the services over st. When wrapped is non-nil the services use it
// instead of st, so tests can inject faults while still seeding through st.
func newFixtureWithStore(t *testing.T, st *memstore.Store, wrapped store.Store) *fixture {
	t.Helper()
	f := &fixture{
		store:    st,
		gateway:  gateway.NewSimulated(),
		notifier: &recordingNotifier{},
		clock:    &testClock{now: baseTime},
		locker:   utils.NewLocalLock(),
	}

	var backing store.Store = st
	if wrapped != nil {
		backing = wrapped
	}

	calc := SettlementCalculator{DefaultCurrency: "MAD"}
	policy := DefaultPolicy()

	f.scheduler = NewPayoutScheduler(backing, calc, policy)
	f.scheduler.nowFn = f.clock.Now

	f.processor = NewPayoutProcessor(backing, f.scheduler, f.locker, f.notifier, calc, ProcessorConfig{BatchLimit: 2, Workers: 4})
	f.processor.nowFn = f.clock.Now

	f.svc = NewReservationService(backing, f.gateway, f.scheduler, f.notifier, ReservationServiceConfig{
		Policy:            policy,
		DefaultCurrency:   "MAD",
		ReviewPromptDelay: time.Hour,
	})
	f.svc.nowFn = f.clock.Now
	f.svc.afterFunc = func(_ time.Duration, fn func()) { fn() }

	f.reaper = NewReaper(backing, f.svc, policy, 2)
	f.reaper.nowFn = f.clock.Now

	st.PutAdvertiser(&models.Advertiser{ID: "adv-1", UserID: "user-adv", Name: "Dar Lina", Type: models.AdvertiserLandlord})
	st.PutProperty(&models.Property{ID: "prop-1", AdvertiserID: "adv-1", Title: "Studio Gueliz", Status: models.PropertyAvailable})
	return f
}

func (f *fixture) seedReservation(t *testing.T, id string, st models.ReservationStatus, mutate func(r *models.Reservation)) *models.Reservation {
	t.Helper()
	r := &models.Reservation{
		ID:           id,
		UserID:       "tenant-1",
		PropertyID:   "prop-1",
		AdvertiserID: "adv-1",
		Status:       st,
		TotalPrice:   models.MustMoney("1200"),
		ServiceFee:   models.MustMoney("200"),
		Currency:     "MAD",
		CreatedAt:    baseTime.Add(-72 * time.Hour),
		UpdatedAt:    baseTime.Add(-72 * time.Hour),
	}
	if mutate != nil {
		mutate(r)
	}
	f.store.PutReservation(r)
	return r
}

// seedDuePayout seeds a moved-in, paid reservation whose pending payout is due now.
func (f *fixture) seedDuePayout(t *testing.T, id string) *models.PendingPayout {
	t.Helper()
	movedIn := f.clock.Now().Add(-25 * time.Hour)
	release := movedIn.Add(24 * time.Hour)

	f.seedReservation(t, id, models.StatusMovedIn, func(r *models.Reservation) {
		r.PaidAt = models.TimePtr(movedIn.Add(-48 * time.Hour))
		r.MovedInAt = models.TimePtr(movedIn)
		r.PayoutPending = true
		r.PayoutScheduledFor = models.TimePtr(release)
	})
	_, _, err := f.store.CreatePayment(context.Background(), &models.Payment{
		ReservationID:    id,
		PropertyID:       "prop-1",
		UserID:           "tenant-1",
		AdvertiserID:     "adv-1",
		Amount:           models.MustMoney("1200"),
		Currency:         "MAD",
		Status:           models.PaymentCompleted,
		AdvertiserStatus: models.AdvertiserPending,
	})
	require.NoError(t, err)

	p := &models.PendingPayout{
		ID:                   "payout-" + id,
		AdvertiserID:         "adv-1",
		ReservationID:        id,
		PropertyID:           "prop-1",
		Amount:               models.MustMoney("500"),
		Currency:             "MAD",
		Status:               models.PayoutPending,
		ScheduledReleaseDate: release,
		CreatedAt:            movedIn,
		UpdatedAt:            movedIn,
	}
	f.store.PutPayout(p)
	return p
}

func (f *fixture) reservation(t *testing.T, id string) *models.Reservation {
	t.Helper()
	r, err := f.store.GetReservation(context.Background(), id)
	require.NoError(t, err)
	return r
}

func (f *fixture) payout(t *testing.T, id string) *models.PendingPayout {
	t.Helper()
	p, err := f.store.GetPayout(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) property(t *testing.T) models.PropertyStatus {
	t.Helper()
	p, err := f.store.GetProperty(context.Background(), "prop-1")
	require.NoError(t, err)
	return p.Status
}
