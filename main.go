package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"esports-platform/config"
	"esports-platform/handlers"
	"esports-platform/middleware"
	"esports-platform/services"
	"esports-platform/store"
	"esports-platform/utils"
	"esports-platform/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// platformStore is everything the services need from persistence.
type platformStore interface {
	services.TournamentStore
	services.UserStore
	services.TransactionStore
	services.AuditStore
	workers.ProfileSink
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db platformStore
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		db = store.NewMemory()
	default:
		pg, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		db = pg
	}

	clock := clockwork.NewRealClock()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(reg)

	rules := services.NewComplianceRuleSet(cfg.CoinToUSDRate)
	audits := services.NewComplianceAuditLog(db, db, db, clock, logger, metrics)

	payments := services.NewPaymentServiceClient(cfg.PaymentServiceURL, cfg.PaymentServiceToken)
	ledgerCfg := services.DefaultLedgerConfig()
	ledgerCfg.CoinToUSDRate = cfg.CoinToUSDRate
	ledgerCfg.PlatformFeePercentage = cfg.PlatformFeePercentage
	ledgerCfg.MinimumPayoutUSD = cfg.MinimumPayoutUSD
	ledger := services.NewCoinLedger(db, db, payments, rules, ledgerCfg, clock, logger, metrics)

	var verifier services.AccountVerifier
	if cfg.AccountAPIKey != "" {
		opts := []services.AccountClientOption{services.WithAccountRateLimit(cfg.AccountAPIRPS, int(cfg.AccountAPIRPS))}
		if cfg.AccountAPIURL != "" {
			opts = append(opts, services.WithAccountBaseURL(cfg.AccountAPIURL))
		}
		verifier = services.NewAccountClient(cfg.AccountAPIKey, opts...)
	} else {
		logger.Warn("ACCOUNT_API_KEY not set, linked accounts will not be verified")
	}

	var archive services.ReportArchive
	if cfg.R2.Enabled() {
		r2, err := utils.NewR2Archive(ctx, utils.R2Options{
			AccountID:       cfg.R2.AccountID,
			AccessKeyID:     cfg.R2.AccessKeyID,
			AccessKeySecret: cfg.R2.AccessKeySecret,
			Bucket:          cfg.R2.Bucket,
		})
		if err != nil {
			logger.Error("failed to initialize R2 client", "error", err)
			os.Exit(1)
		}
		archive = r2
	}

	monitorCfg := services.DefaultMonitorConfig()
	monitorCfg.HourlyBatchSize = cfg.HourlyBatchSize
	monitorCfg.DailyCoinPurchaseCap = cfg.DailyCoinPurchaseCap
	monitorCfg.VerifyTimeout = cfg.VerifyTimeout
	monitor := services.NewComplianceMonitor(db, db, db, rules, audits, verifier, archive, monitorCfg, clock, logger, metrics)

	hub := services.NewEventHub(32, clock, logger)
	tournaments := services.NewTournamentService(db, db, rules, audits, ledger, services.NewBracketGenerator(), hub, clock, logger)

	if err := monitor.Start(ctx); err != nil {
		logger.Error("failed to start compliance monitor", "error", err)
		os.Exit(1)
	}

	if cfg.PaymentServiceURL != "" {
		paymentWorker := workers.NewPaymentSyncWorker(payments, ledger, cfg.PaymentPollInterval, clock, logger)
		go paymentWorker.Run(ctx)
	} else {
		logger.Warn("PAYMENT_SERVICE_URL not set, payment reconciliation disabled")
	}

	if cfg.ProfileSyncURL != "" {
		profileWorker := workers.NewProfileSyncWorker(db, cfg.ProfileSyncURL, cfg.ProfileSyncPath, cfg.GatewayToken, cfg.ProfileSyncInterval, clock, logger)
		go profileWorker.Run(ctx)
	} else {
		logger.Warn("SYNC_SERVICE_URL not set, user profiles will not be mirrored")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Registered before the gateway middleware: the payment provider and the
	// metrics scraper do not pass through the gateway.
	coins := handlers.NewCoinHandler(ledger, logger)
	handlers.SetupPaymentWebhook(app, coins, cfg.PaymentWebhookSecret)
	handlers.SetupOpsRoutes(app, reg)

	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken, logger))

	secured := app.Group("/s", middleware.UserContextMiddleware(logger))
	handlers.SetupTournamentRoutes(app, secured, handlers.NewTournamentHandler(tournaments, hub, logger))
	handlers.SetupCoinRoutes(app, secured, coins)
	handlers.SetupComplianceRoutes(secured, handlers.NewComplianceHandler(audits, monitor, logger))

	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	logger.Info("server running",
		"addr", cfg.HTTPAddr,
		"store", cfg.StoreDriver,
		"origins", cfg.AllowedOrigins,
		"report_archive", archive != nil,
	)

	<-ctx.Done()
	logger.Info("shutting down server")

	if err := monitor.Stop(); err != nil {
		logger.Error("failed to stop compliance monitor", "error", err)
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("failed to shut down server", "error", err)
	}
}
