// Package app wires the service together and runs the HTTP server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/veleda/stemshop/internal/domain/catalog"
	"github.com/veleda/stemshop/internal/domain/checkout"
	"github.com/veleda/stemshop/internal/domain/coupon"
	"github.com/veleda/stemshop/internal/domain/pricing"
	"github.com/veleda/stemshop/internal/fulfillment"
	"github.com/veleda/stemshop/internal/handler"
	"github.com/veleda/stemshop/internal/identity"
	"github.com/veleda/stemshop/internal/notify"
	"github.com/veleda/stemshop/internal/repository"
	"github.com/veleda/stemshop/internal/settings"
	"github.com/veleda/stemshop/pkg/health"
	"github.com/veleda/stemshop/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc-pause", time.Second, health.GCMaxPauseCheck(500*time.Millisecond))
	healthSvc.Start(ctx, 10*time.Second)

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	bookRepo := repository.NewBookRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	identityRepo := repository.NewIdentityRepository(pool)
	settingsStore := repository.NewSettingsStore(pool)

	// Side effect adapters. Both degrade to no-ops when unconfigured so a
	// local instance runs without a broker or delivery service.
	var deliverer fulfillment.Deliverer = fulfillment.Nop{}
	if cfg.FulfillmentURL != "" {
		deliverer = fulfillment.NewHTTPDeliverer(cfg.FulfillmentURL, cfg.SideEffectTimeout)
	}
	var notifier notify.Notifier = notify.Nop{}
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQPURL)
		if err != nil {
			return errors.Wrap(err, "connect to broker")
		}
		defer func() {
			if err := amqpNotifier.Close(); err != nil {
				lg.Warn("Close broker connection", zap.Error(err))
			}
		}()
		notifier = amqpNotifier
	}

	// Domain services.
	provider := settings.NewStoreProvider(settingsStore)
	resolver := catalog.NewResolver(productRepo, bookRepo)
	pricer := pricing.NewEngine(provider)
	validator := coupon.NewRepoValidator(couponRepo)
	checkoutSvc := checkout.NewService(resolver, pricer, validator, orderRepo, deliverer, notifier).
		WithSideEffectTimeout(cfg.SideEffectTimeout)

	// HTTP surface.
	h := handler.New(identity.NewResolver(identityRepo), checkoutSvc, productRepo, bookRepo)

	r := chi.NewRouter()
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.Route("/api", func(r chi.Router) {
		h.Register(r)
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("stemshop-api"),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()

		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
	}()

	lg.Info("Listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "listen and serve")
	}
	<-shutdownDone

	return nil
}
