package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/paidcall/backend/internal/auth"
	"github.com/paidcall/backend/internal/booking"
	"github.com/paidcall/backend/internal/config"
	"github.com/paidcall/backend/internal/db"
	"github.com/paidcall/backend/internal/db/migrations"
	"github.com/paidcall/backend/internal/execution"
	"github.com/paidcall/backend/internal/ledger"
	"github.com/paidcall/backend/internal/meeting"
	"github.com/paidcall/backend/internal/notify"
	"github.com/paidcall/backend/internal/payments"
	"github.com/paidcall/backend/internal/repository"
	"github.com/paidcall/backend/internal/services"
	"github.com/paidcall/backend/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "paidcall-api", cfg.OTelEndpoint)
	if err != nil {
		slog.Warn("Tracing disabled", "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	// River migrations first; the service schema follows.
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	n, err := db.Apply(ctx, pool, migrations.FS, logger)
	if err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied", "new", n)

	policy := payments.DefaultRetryPolicy()
	policy.Timeout = cfg.ExternalCallTimeout

	gateway, err := payments.NewOmiseGateway(cfg.OmisePublicKey, cfg.OmiseSecretKey, cfg.PaymentCurrency, policy, logger)
	if err != nil {
		slog.Error("Failed to create payment gateway", "error", err)
		os.Exit(1)
	}

	var notifier booking.Notifier = notify.LogNotifier{Log: logger}
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.NotifyExchange)
		if err != nil {
			slog.Error("Failed to connect notifier", "error", err)
			os.Exit(1)
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
	} else {
		slog.Warn("AMQP_URL not set, notifications are only logged")
	}

	var locker booking.Locker = booking.NewLocalLocker()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("Cannot reach Redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		locker = booking.NewRedisLocker(rdb, cfg.LockTTL)
	}

	// Ledger
	ledgerSvc := ledger.NewService(ledger.NewRepository(pool), gateway, logger)

	// Coordinator. The queue's River client is bound once the workers exist.
	queue := execution.NewRiverQueue(nil, cfg.JobMaxAttempts, logger)
	bookingPolicy := booking.DefaultPolicy()
	bookingPolicy.TakeRate = cfg.TakeRate
	bookingPolicy.SessionLength = cfg.SessionLength()
	bookingPolicy.LateCancelWindow = cfg.LateCancelWindow
	bookingPolicy.QCDebounce = cfg.QCDebounce
	bookingPolicy.Currency = cfg.PaymentCurrency

	bookingSvc := booking.NewService(booking.Deps{
		Store:     booking.NewRepository(pool),
		Ledger:    ledgerSvc,
		Providers: repository.NewProviderRepo(pool),
		Meetings:  meeting.NewClient(cfg.MeetingAPIURL, cfg.MeetingAPIToken, policy),
		Notifier:  notifier,
		Queue:     queue,
		Locker:    locker,
		Policy:    bookingPolicy,
		Log:       logger,
	})

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewQCCheckWorker(bookingSvc))
	river.AddWorker(workers, execution.NewNudgeWorker(bookingSvc))
	river.AddWorker(workers, execution.NewPayoutReleaseWorker(ledgerSvc))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			execution.QueueQC:            {MaxWorkers: 5},
			execution.QueueNotifications: {MaxWorkers: 10},
			execution.QueuePayouts:       {MaxWorkers: 5},
		},
		Workers:      workers,
		MaxAttempts:  cfg.JobMaxAttempts,
		ErrorHandler: &execution.ErrorHandler{Log: logger},
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	queue.Bind(riverClient)

	// HTTP
	tokens, err := auth.NewService(cfg.JWTSecret)
	if err != nil {
		slog.Error("Failed to create token service", "error", err)
		os.Exit(1)
	}
	validator, err := services.NewValidator(ctx)
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	apiRouter := newAPIRouter(apiDeps{
		pool:      pool,
		tokens:    tokens,
		bookings:  bookingSvc,
		ledger:    ledgerSvc,
		events:    gateway,
		validator: validator,
		logger:    logger,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}).Handler(apiRouter)

	// Start River client (processes jobs)
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River stop", "error", err)
	}
}
