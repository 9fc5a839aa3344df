package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/mealforge/backend/internal/account"
	"github.com/mealforge/backend/internal/auth"
	"github.com/mealforge/backend/internal/completion"
	"github.com/mealforge/backend/internal/config"
	"github.com/mealforge/backend/internal/dispatch"
	"github.com/mealforge/backend/internal/jobs"
	"github.com/mealforge/backend/internal/ledger"
	"github.com/mealforge/backend/internal/maintenance"
	"github.com/mealforge/backend/internal/repository"
	"github.com/mealforge/backend/internal/router"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("cannot reach PostgreSQL; ensure it is running, e.g. make dev-up", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to PostgreSQL")

	// River migrations (queue bookkeeping tables)
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		logger.Error("failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		logger.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}

	// Ledger
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo, ledgerRepo, ledgerRepo)

	// Jobs pipeline
	validator, err := jobs.NewValidator(cfg.SchemaDir)
	if err != nil {
		logger.Error("schema validator init failed", "error", err, "dir", cfg.SchemaDir)
		os.Exit(1)
	}
	dispatcher := dispatch.New(cfg.Dispatch.Workers, cfg.Dispatch.CallbackBaseURL, cfg.Dispatch.Timeout, logger)
	jobsRepo := jobs.NewRepository(pool)
	jobsSvc := jobs.NewService(jobsRepo, ledgerSvc, dispatcher, validator, logger)
	jobsHandler := jobs.NewHandler(jobsSvc, logger)

	completionSvc := completion.NewService(jobsRepo, ledgerSvc, validator, logger)
	completionHandler := completion.NewHandler(completionSvc, logger)

	// Account surface
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo)
	authHandler := auth.NewHandler(authSvc, logger)

	apiKeyRepo := repository.NewAPIKeyRepo(pool)
	accountRepo := repository.NewAccountRepo(pool)
	accountHandler := account.NewHandler(authSvc, accountRepo, apiKeyRepo, ledgerSvc, logger)

	// Periodic maintenance via River
	workers := river.NewWorkers()
	river.AddWorker(workers, maintenance.NewAllowanceRenewalWorker(accountRepo, ledgerSvc, logger))
	river.AddWorker(workers, maintenance.NewStuckJobMonitor(jobsRepo, cfg.Maintenance.StuckJobThreshold, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.Maintenance.RenewalInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return maintenance.AllowanceRenewalArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.Maintenance.StuckCheckInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return maintenance.StuckJobMonitorArgs{}, nil
				},
				nil,
			),
		},
	})
	if err != nil {
		logger.Error("failed to create River client", "error", err)
		os.Exit(1)
	}

	apiV1Router := router.New(authHandler, accountHandler)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiV1Router)
	RegisterV1Routes(mux, apiKeyRepo, jobsHandler, completionHandler, cfg.Dispatch.CallbackSecret)
	mux.Handle("GET /metrics", promhttp.Handler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Callback-Token"},
		AllowCredentials: true,
	}).Handler(mux)

	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			logger.Error("River client stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port),
		Handler:      corsHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		logger.Error("River client shutdown failed", "error", err)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if cfg.Format == "console" {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
