package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ticket-ledger/config"
	"ticket-ledger/handlers"
	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/settle"
	"ticket-ledger/monitoring"
	"ticket-ledger/security"
	"ticket-ledger/services"
	"ticket-ledger/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL)
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize ledger gateway
	ledgerClient := ledger.NewClient(&ledger.Config{
		BaseURL: cfg.LedgerURL,
		APIKey:  cfg.LedgerAPIKey,
		Timeout: cfg.LedgerTimeout,
	})

	// Initialize settlement provider
	var provider settle.Provider
	if cfg.SettleConfig.BaseURL != "" {
		p, err := settle.New(ctx, &cfg.SettleConfig)
		if err != nil {
			return err
		}
		provider = p
	} else {
		slog.Warn("settlement provider not configured, payment endpoints disabled")
	}

	// Initialize services
	lifecycleService := services.NewLifecycleService(ledgerClient)
	permissionService := services.NewPermissionService(ledgerClient, cfg.AdminAddress)
	marketplaceService := services.NewMarketplaceService(ledgerClient, lifecycleService, permissionService, cfg.PlatformAddress)
	checkinService := services.NewCheckinService(redisClient, pn, ledgerClient, lifecycleService, services.HTTPMetadataFetcher(nil))

	timers := services.SessionTimers{
		Deadline:      cfg.SessionDeadline,
		PollInterval:  cfg.PollInterval,
		CountdownTick: cfg.CountdownTick,
	}
	paymentService := services.NewPaymentService(redisClient, pn, provider, lifecycleService, timers)

	if provider != nil {
		notifications := make(chan *settle.Notification, 1)
		provider.SetNotifyChannel(notifications)
		go func() {
			for n := range notifications {
				slog.Info("settle notification", "reference", n.Reference, "state", n.State)
				paymentService.NotifyPayment(ctx, n.Reference)
			}
		}()
	}

	// Initialize handlers
	checkinHandler := handlers.NewCheckinHandler(app, checkinService, redisClient, cfg.JWTSecret, cfg.JWTExpiry)
	marketplaceHandler := handlers.NewMarketplaceHandler(app, marketplaceService)
	paymentHandler := handlers.NewPaymentHandler(app, paymentService)

	rateLimiter := security.NewRateLimiter(redisClient)

	// Start metrics reconciliation
	monitoring.NewMonitor(redisClient)

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Check-in endpoints
		e.Router.POST("/api/v1/checkin/devices", checkinHandler.EnrollDevice)
		e.Router.POST("/api/v1/checkin/token", checkinHandler.RenewToken)
		e.Router.GET("/api/v1/tickets/{code}", checkinHandler.ResolveTicket)
		e.Router.POST("/api/v1/checkin/confirm", checkinHandler.ConfirmCheckin).
			BindFunc(rateLimiter.RedeemRateLimit(int64(cfg.RedeemPerMinute)))
		e.Router.GET("/api/v1/checkin/events/{eventId}/status", checkinHandler.GetValidatorStatus)

		// Marketplace endpoints
		e.Router.POST("/api/v1/market/list", marketplaceHandler.ListTicket)
		e.Router.POST("/api/v1/market/{mint}/cancel", marketplaceHandler.CancelListing)
		e.Router.POST("/api/v1/market/{mint}/buy", marketplaceHandler.BuyTicket)
		e.Router.POST("/api/v1/market/{mint}/refund", marketplaceHandler.RefundTicket)

		// Payment endpoints
		if provider != nil {
			e.Router.POST("/api/v1/payment/session", paymentHandler.CreateSession).
				BindFunc(rateLimiter.SessionRateLimit(int64(cfg.SessionPerMinute)))
			e.Router.GET("/api/v1/payment/{reference}/status", paymentHandler.CheckSessionStatus)
			e.Router.POST("/api/v1/payment/{reference}/cancel", paymentHandler.CancelSession)
		}

		// Prometheus metrics
		if cfg.EnableMetrics {
			e.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
