package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"rental-settlement/config"
	"rental-settlement/internal/handlers"
	"rental-settlement/internal/services"
	"rental-settlement/internal/services/gateway"
	"rental-settlement/internal/store/pbstore"
	_ "rental-settlement/migrations"
	"rental-settlement/monitoring"
	"rental-settlement/security"
	"rental-settlement/utils"

	"github.com/joho/godotenv"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"
)

// engine bundles the wired settlement services shared by the server and the CLI commands.
type engine struct {
	store        *pbstore.Store
	scheduler    *services.PayoutScheduler
	processor    *services.PayoutProcessor
	reservations *services.ReservationService
	reaper       *services.Reaper
}

func Start() error {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file loaded", "error", err)
	}

	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis; payouts fall back to an in-process lock without it
	var redisClient *redis.Client
	var locker utils.Locker = utils.NewLocalLock()
	if cfg.RedisURL != "" {
		client, err := utils.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("Redis unavailable, using in-process payout lock", "error", err)
		} else {
			redisClient = client
			defer redisClient.Close()
			locker = utils.NewRedisLock(redisClient, "settlement:lock:")
		}
	}

	// Initialize notifications
	var notifier services.Notifier = services.LogNotifier{}
	if cfg.PubNubEnabled() {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey

		pn := services.NewPubNubNotifier(pubnub.NewPubNub(pnConfig))
		defer pn.Wait()
		notifier = pn
	}

	// Initialize payment gateway
	var gw gateway.Gateway
	if cfg.Gateway.BaseURL != "" {
		gw = gateway.NewClient(gateway.ClientConfig{
			BaseURL:    cfg.Gateway.BaseURL,
			MerchantID: cfg.Gateway.MerchantID,
			APIKey:     cfg.Gateway.APIKey,
			HMACKey:    cfg.Gateway.HMACKey,
			Timeout:    cfg.Gateway.Timeout,
		})
	} else {
		slog.Warn("GATEWAY_URL not set, charges are simulated")
		gw = gateway.NewSimulated()
	}

	eng := newEngine(app, cfg, locker, notifier, gw)

	// Initialize handlers
	actors := handlers.NewActorResolver(eng.store)
	reservationHandler := handlers.NewReservationHandler(eng.reservations, actors)
	payoutHandler := handlers.NewPayoutHandler(eng.store, eng.scheduler, eng.processor, eng.reaper, actors)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.Environment == "development",
	})

	app.RootCmd.AddCommand(newPayoutsCommand(eng), newReservationsCommand(eng))

	pbstore.BindHooks(app)

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Reservation endpoints
		reservations := e.Router.Group("/api/v1/reservations")
		if redisClient != nil {
			limiter := security.NewRateLimiter(redisClient, int64(cfg.RateLimitRequests), cfg.RateLimitWindow)
			reservations.BindFunc(limiter.Middleware())
		}
		reservations.GET("/{id}", reservationHandler.GetReservation)
		reservations.GET("/{id}/settlement", reservationHandler.GetSettlement)
		reservations.POST("/{id}/accept", reservationHandler.Accept)
		reservations.POST("/{id}/reject", reservationHandler.Reject)
		reservations.POST("/{id}/cancel", reservationHandler.Cancel)
		reservations.POST("/{id}/pay", reservationHandler.Pay)
		reservations.POST("/{id}/move-in", reservationHandler.MoveIn)
		reservations.POST("/{id}/refund", reservationHandler.RequestRefund)
		reservations.POST("/{id}/refund/resolve", reservationHandler.ResolveRefund)
		reservations.POST("/{id}/cancel/exception", reservationHandler.RequestExceptionCancellation)
		reservations.POST("/{id}/cancel/review", reservationHandler.ReviewCancellation)

		// Advertiser endpoints
		e.Router.GET("/api/v1/advertisers/{id}/totals", payoutHandler.GetAdvertiserTotals)

		// Admin endpoints
		e.Router.GET("/api/v1/admin/payouts", payoutHandler.ListPayouts)
		e.Router.POST("/api/v1/admin/payouts/run", payoutHandler.RunPayouts)
		e.Router.POST("/api/v1/admin/reservations/reap", payoutHandler.ReapReservations)

		if cfg.EnableMetrics {
			e.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
			go monitoring.NewMonitor(eng.store, cfg.MetricsInterval).Run(ctx)
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if redisClient != nil {
				if err := utils.RedisHealthCheck(redisClient); err != nil {
					return e.JSON(503, map[string]string{
						"status": "unhealthy",
						"error":  err.Error(),
					})
				}
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		app.Cron().MustAdd("settlement_payouts", cfg.PayoutCron, func() {
			eng.runPayouts(ctx)
		})
		app.Cron().MustAdd("settlement_reaper", cfg.ReaperCron, func() {
			if _, err := eng.reaper.ExpireStaleReservations(ctx); err != nil {
				slog.Error("Reaper run failed", "error", err)
			}
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	return app.Start()
}

func newEngine(app core.App, cfg *config.Config, locker utils.Locker, notifier services.Notifier, gw gateway.Gateway) *engine {
	st := pbstore.New(app)
	policy := services.Policy{
		PaymentWindow: cfg.PaymentDeadline,
		RefundWindow:  cfg.RefundWindow,
		SafetyWindow:  cfg.PayoutSafetyWindow,
	}
	calc := services.SettlementCalculator{DefaultCurrency: cfg.DefaultCurrency}

	scheduler := services.NewPayoutScheduler(st, calc, policy)
	processor := services.NewPayoutProcessor(st, scheduler, locker, notifier, calc, services.ProcessorConfig{
		BatchLimit: cfg.PayoutBatchLimit,
		Workers:    cfg.PayoutWorkers,
		LockTTL:    cfg.PayoutLockTTL,
		ClaimTTL:   cfg.PayoutClaimTTL,
	})
	reservations := services.NewReservationService(st, gw, scheduler, notifier, services.ReservationServiceConfig{
		Policy:            policy,
		DefaultCurrency:   cfg.DefaultCurrency,
		ReviewPromptDelay: cfg.ReviewPromptDelay,
	})

	return &engine{
		store:        st,
		scheduler:    scheduler,
		processor:    processor,
		reservations: reservations,
		reaper:       services.NewReaper(st, reservations, policy, cfg.PayoutBatchLimit),
	}
}

// runPayouts heals missed scheduling, then releases due payouts.
func (eng *engine) runPayouts(ctx context.Context) (*services.BatchResult, error) {
	if n, err := eng.scheduler.ReconcileUnscheduled(ctx); err != nil {
		slog.Error("Payout reconcile failed", "error", err)
	} else if n > 0 {
		slog.Info("Reconciled unscheduled payouts", "count", n)
	}

	result, err := eng.processor.RunDuePayouts(ctx)
	if err != nil {
		slog.Error("Payout run failed", "error", err)
		return nil, err
	}
	return result, nil
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
