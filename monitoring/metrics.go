package monitoring

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"rental-settlement/internal/store"
	"rental-settlement/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_transitions_total",
			Help: "Reservation transitions attempted, by edge and result",
		},
		[]string{"from", "to", "result"},
	)

	payoutOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_items_total",
			Help: "Payout batch items processed, by outcome",
		},
		[]string{"outcome"},
	)

	payoutAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_amount_total",
			Help: "Amount credited to advertisers, by currency",
		},
		[]string{"currency"},
	)

	payoutBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payout_batch_duration_seconds",
			Help:    "Duration of payout batch runs",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	gatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_calls_total",
			Help: "Payment gateway calls, by operation and status",
		},
		[]string{"operation", "status"},
	)

	payoutsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payouts_current",
			Help: "Current number of payouts per status",
		},
		[]string{"status"},
	)

	overduePayouts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payouts_overdue_current",
			Help: "Pending payouts whose release date has passed",
		},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_goroutines_total",
			Help: "Current number of active goroutines",
		},
	)
)

// TrackTransition records one transition attempt. result is "ok" or the error class.
func TrackTransition(from, to models.ReservationStatus, result string) {
	reservationTransitions.WithLabelValues(string(from), string(to), result).Inc()
}

func TrackPayoutOutcome(outcome string) {
	payoutOutcomes.WithLabelValues(outcome).Inc()
}

func TrackPayoutAmount(currency string, amount float64) {
	payoutAmount.WithLabelValues(currency).Add(amount)
}

func TrackBatch(d time.Duration) {
	payoutBatchDuration.Observe(d.Seconds())
}

func TrackGatewayCall(operation, status string) {
	gatewayCalls.WithLabelValues(operation, status).Inc()
}

// Monitor periodically samples payout backlog gauges from the store.
type Monitor struct {
	store    store.Store
	interval time.Duration
	nowFn    func() time.Time
}

func NewMonitor(s store.Store, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{store: s, interval: interval, nowFn: time.Now}
}

// Run collects until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Collect(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) Collect(ctx context.Context) {
	m.collectPayoutMetrics(ctx)
	m.collectGoroutineMetrics()
}

func (m *Monitor) collectPayoutMetrics(ctx context.Context) {
	now := m.nowFn()
	for _, st := range []models.PayoutStatus{models.PayoutPending, models.PayoutProcessing, models.PayoutCompleted, models.PayoutFailed} {
		payouts, err := m.store.ListPayouts(ctx, store.PayoutQuery{Statuses: []models.PayoutStatus{st}})
		if err != nil {
			slog.Error("Failed to collect payout metrics", "status", st, "error", err)
			return
		}
		payoutsByStatus.WithLabelValues(string(st)).Set(float64(len(payouts)))

		if st == models.PayoutPending {
			overdue := 0
			for _, p := range payouts {
				if !p.ScheduledReleaseDate.After(now) {
					overdue++
				}
			}
			overduePayouts.Set(float64(overdue))
		}
	}
}

func (m *Monitor) collectGoroutineMetrics() {
	goroutineCount.Set(float64(runtime.NumGoroutine()))
}
