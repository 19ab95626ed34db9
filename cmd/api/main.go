package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/xfund/backend/internal/audit"
	"github.com/xfund/backend/internal/auth"
	"github.com/xfund/backend/internal/config"
	"github.com/xfund/backend/internal/database"
	"github.com/xfund/backend/internal/dividend"
	"github.com/xfund/backend/internal/investment"
	"github.com/xfund/backend/internal/ledger"
	"github.com/xfund/backend/internal/locks"
	"github.com/xfund/backend/internal/notify"
	"github.com/xfund/backend/internal/observability"
	"github.com/xfund/backend/internal/repository"
	"github.com/xfund/backend/internal/signing"
	"github.com/xfund/backend/internal/validation"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, "xfund-api", cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		slog.Warn("Tracing disabled", "error", err)
	}
	defer shutdownTracing(context.Background())

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	applied, err := database.Migrate(ctx, pool)
	if err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Schema migrations applied", "applied", applied)

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first (e.g. make dev-up)", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Ledger
	ledgerSvc := ledger.NewService(pool, ledger.NewWalletRepo(pool), ledger.NewTransactionRepo(pool))
	if err := ledgerSvc.EnsurePlatformWallet(ctx); err != nil {
		slog.Error("Failed to ensure platform wallet", "error", err)
		os.Exit(1)
	}

	accountRepo := repository.NewAccountRepo(pool)
	projectRepo := repository.NewProjectRepo(pool)
	investmentRepo := repository.NewInvestmentRepo(pool)
	dividendRepo := repository.NewDividendRepo(pool)

	trail := audit.NewTrail(audit.NewRepository(pool), logger)

	// Job inserts are set after the River client is created (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn func(ctx context.Context, args river.JobArgs) error
	insert := func(ctx context.Context, args river.JobArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			return errors.New("river insert not wired")
		}
		return fn(ctx, args)
	}

	notifications := notify.NewQueue(func(ctx context.Context, args notify.DeliverArgs) error {
		return insert(ctx, args)
	}, logger)

	var sink notify.Sink = notify.NewLogSink(logger)
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := notify.NewKafkaSink(notify.NewKafkaWriter(cfg.KafkaBrokers), cfg.KafkaNotificationsTopic)
		defer kafkaSink.Close()
		sink = kafkaSink
		slog.Info("Publishing notifications to Kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaNotificationsTopic)
	}

	var locker signing.Locker = locks.NewKeyedMutex()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("Invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("Cannot reach Redis", "error", err)
			os.Exit(1)
		}
		locker = locks.NewRedisLocker(rdb)
		slog.Info("Using Redis project locks")
	}

	investmentSvc := investment.NewService(projectRepo, investmentRepo, ledgerSvc, trail, notifications, cfg.FundedPolicy(), logger)
	dividendSvc := dividend.NewService(projectRepo, investmentRepo, dividendRepo, ledgerSvc, trail, notifications,
		func(ctx context.Context, args dividend.RetryPaymentsArgs) error { return insert(ctx, args) }, logger)
	signingSvc := signing.NewService(projectRepo, accountRepo, signing.FileDocuments{Dir: cfg.ContractsDir},
		signing.NewClient(cfg.SigningBaseURL, cfg.SigningAPIKey), locker,
		signing.Signer{FirstName: cfg.PlatformSignerFirstName, LastName: cfg.PlatformSignerLastName, Email: cfg.PlatformSignerEmail},
		trail, notifications, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, notify.NewDeliverWorker(sink, logger))
	river.AddWorker(workers, dividend.NewRetryPaymentsWorker(dividendSvc, logger))
	river.AddWorker(workers, signing.NewPollWorker(signingSvc, logger))
	river.AddWorker(workers, investment.NewCloseFundingWindowsWorker(investmentSvc, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.RiverMaxWorkers},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(river.PeriodicInterval(cfg.SigningPollInterval),
				func() (river.JobArgs, *river.InsertOpts) { return signing.PollArgs{}, nil },
				&river.PeriodicJobOpts{RunOnStart: true}),
			river.NewPeriodicJob(river.PeriodicInterval(cfg.FundingWindowCheckInterval),
				func() (river.JobArgs, *river.InsertOpts) { return investment.CloseFundingWindowsArgs{}, nil },
				&river.PeriodicJobOpts{RunOnStart: true}),
		},
		Logger: logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, args river.JobArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	}
	insertMu.Unlock()

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "dev-secret-change-in-production"
		slog.Warn("JWT_SECRET is not set; using the development secret")
	}
	tokens, err := auth.NewTokens(jwtSecret)
	if err != nil {
		slog.Error("Failed to create token verifier", "error", err)
		os.Exit(1)
	}

	validator, err := validation.New()
	if err != nil {
		slog.Error("Failed to compile request schemas", "error", err)
		os.Exit(1)
	}

	if cfg.SigningWebhookSecret == "" {
		slog.Warn("SIGNING_WEBHOOK_SECRET is not set; signing callbacks are not authenticated")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observability.MustRegister(registry)

	mux := http.NewServeMux()
	RegisterRoutes(mux, routeDeps{
		pool:        pool,
		registry:    registry,
		tokens:      tokens,
		validator:   validator,
		accounts:    accountRepo,
		ledger:      ledgerSvc,
		investments: investmentSvc,
		dividends:   dividendSvc,
		signing:     signingSvc,
		audit:       trail,
		webhook:     signing.NewWebhookHandler(signingSvc, cfg.SigningWebhookSecret, logger),
		logger:      logger,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes jobs)
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("Failed to start River client", "error", err)
		os.Exit(1)
	}

	serverAddr := "0.0.0.0:" + cfg.Port
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := riverClient.Stop(stopCtx); err != nil {
		slog.Error("River client stop failed", "error", err)
	}
	slog.Info("Server stopped")
}
