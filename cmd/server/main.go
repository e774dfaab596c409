package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/billing"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/handler"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/jobs"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/metrics"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/middleware"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/repository"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/service"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/storage"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(pool); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	repo := repository.NewStore(pool)

	// Initialize storage
	store, err := storage.New(storage.Config{
		Provider: cfg.StorageProvider,
		Local: storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		},
		R2: storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	logger.Info("Storage ready", "provider", cfg.StorageProvider)

	// Initialize payment gateways
	cryptoBot, err := newCryptoBot(cfg, logger)
	if err != nil {
		return err
	}
	stripeGateway, err := newStripe(cfg)
	if err != nil {
		return err
	}
	gateways := billing.NewGateways(cryptoBot)
	if stripeGateway != nil {
		gateways[stripeGateway.Name()] = stripeGateway
	} else {
		logger.Warn("Stripe gateway disabled, STRIPE_SECRET_KEY is empty")
	}

	// Initialize services
	uow := service.NewUnitOfWork(repo, time.Now)
	subscriptionService := service.NewSubscriptionService(uow, logger)
	paymentService := service.NewPaymentService(uow, gateways, logger)
	messageService := service.NewMessageService(uow, store, service.MessageConfig{
		RecentCacheSize: cfg.RecentCacheSize,
		MaxMediaSize:    cfg.MediaMaxSize,
		MediaURLExpiry:  cfg.MediaURLExpiry,
	}, logger)
	adminService := service.NewAdminService(uow, logger)

	// Initialize middleware
	isSecure := !cfg.IsDevelopment()
	if cfg.APIToken == "" {
		logger.Warn("API_TOKEN is empty, /v1 routes are unauthenticated")
	}
	apiAuth := middleware.NewAPIAuthMiddleware(cfg.APIToken, logger)
	adminMw := middleware.NewAdminMiddleware(cfg.AdminIDs, logger)
	checkoutLimiter := middleware.NewRateLimiter(cfg.CheckoutRateLimit, cfg.CheckoutRateWindow)
	checkoutLimit := middleware.NewRateLimitMiddleware(checkoutLimiter, middleware.ByPathValue("id"), logger)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	if !metricsAuth.Enabled() {
		logger.Warn("METRICS_USERNAME/METRICS_PASSWORD not set, /metrics is unprotected")
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	// /v1 routes sit behind the API token.
	api := http.NewServeMux()
	handler.NewUserHandler(subscriptionService, paymentService, checkoutLimit.Limit, logger).RegisterRoutes(api)
	handler.NewMessageHandler(messageService, cfg.MediaMaxSize, logger).RegisterRoutes(api)
	handler.NewAdminHandler(adminService, logger).RegisterRoutes(api, adminMw.RequireAdmin)
	api.HandleFunc("/v1/", func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, logger)
	})

	mux := http.NewServeMux()
	mux.Handle("/v1/", apiAuth.Handler(api))
	handler.NewHealthHandler(repo, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	var verifier handler.WebhookVerifier
	if stripeGateway != nil {
		verifier = stripeGateway
	}
	handler.NewWebhookHandler(verifier, paymentService, logger).RegisterRoutes(mux)

	// Local media is served from disk; R2 links point at the bucket.
	if local, ok := store.(*storage.LocalStorage); ok {
		files := http.FileServer(http.Dir(local.Root()))
		mux.Handle("GET /files/", http.StripPrefix("/files/", files))
	}

	logging := middleware.NewRequestLoggingMiddleware(logger)
	security := middleware.NewSecurityHeadersMiddleware(isSecure)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           metrics.Middleware(logging.Handler(security.Handler(mux))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ==========================================================================
	// Start server and background work
	// ==========================================================================

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		checkoutLimiter.Run(gctx)
		return nil
	})

	if cfg.WorkerEnabled {
		w, err := worker.New(repo, worker.Config{
			Concurrency:       cfg.WorkerConcurrency,
			PollInterval:      cfg.WorkerPollInterval,
			JobTimeout:        cfg.WorkerJobTimeout,
			ShutdownTimeout:   worker.DefaultConfig().ShutdownTimeout,
			StaleJobThreshold: cfg.WorkerStaleJobAfter,
		}, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		w.Register(jobs.NewSettleInvoiceHandler(repo, paymentService, gateways, jobs.PollConfig{
			Interval: cfg.CryptoBotPollInterval,
			Timeout:  cfg.CryptoBotPollTimeout,
		}, logger))
		w.Register(jobs.NewPurgeExpiredHandler(repo, store, time.Now, logger))
		w.Register(jobs.NewDeleteMediaHandler(store, logger))

		scheduler := worker.NewScheduler(repo, cfg.PurgeInterval, cfg.PurgeBatchSize, logger)

		g.Go(func() error { return w.Run(gctx) })
		g.Go(func() error { return scheduler.Run(gctx) })
	} else {
		logger.Warn("Worker disabled, invoices settle only through webhooks")
	}

	// Shut the server down once a signal arrives or a component fails.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, initiating graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Graceful shutdown complete")
	return nil
}

// newCryptoBot returns nil when no token is configured.
func newCryptoBot(cfg *internal.Config, logger *slog.Logger) (billing.Gateway, error) {
	gw, err := billing.NewCryptoBot(billing.CryptoBotConfig{
		Token:   cfg.CryptoBotToken,
		Asset:   cfg.CryptoBotAsset,
		BaseURL: cfg.CryptoBotAPIURL,
	}, logger)
	if errors.Is(err, billing.ErrNotConfigured) {
		logger.Warn("CryptoBot gateway disabled, CRYPTOBOT_TOKEN is empty")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cryptobot initialization failed: %w", err)
	}
	return gw, nil
}

// newStripe returns a nil *billing.Stripe when no secret key is configured.
func newStripe(cfg *internal.Config) (*billing.Stripe, error) {
	gw, err := billing.NewStripe(billing.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		SuccessURL:    cfg.StripeSuccessURL,
		CancelURL:     cfg.StripeCancelURL,
	})
	if errors.Is(err, billing.ErrNotConfigured) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stripe initialization failed: %w", err)
	}
	return gw, nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
