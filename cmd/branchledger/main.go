package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/branchledger/branchledger/internal/app"
	"github.com/branchledger/branchledger/internal/auth"
	"github.com/branchledger/branchledger/internal/branches"
	"github.com/branchledger/branchledger/internal/changereq"
	"github.com/branchledger/branchledger/internal/dashboard"
	"github.com/branchledger/branchledger/internal/financials"
	"github.com/branchledger/branchledger/internal/finlog"
	"github.com/branchledger/branchledger/internal/platform/cache"
	"github.com/branchledger/branchledger/internal/platform/db"
	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/profiles"
	"github.com/branchledger/branchledger/internal/shared"
	"github.com/branchledger/branchledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "branchledger_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	branchesRepo := branches.NewRepository(pool)
	profilesRepo := profiles.NewRepository(pool)
	branchesService := branches.NewService(branchesRepo, profiles.NewRoleChecker(profilesRepo))
	profilesService := profiles.NewService(profilesRepo, branchesService)

	policyMW := policy.Middleware{Resolver: profilesService, Logger: logger}

	finlogRepo := finlog.NewRepository(pool)
	finlogService := finlog.NewService(finlogRepo, branchesService, logger)

	financialsRepo := financials.NewRepository(pool)
	financialsService := financials.NewService(financialsRepo, branchesService, finlogService, logger)

	changereqRepo := changereq.NewRepository(pool)
	changereqService := changereq.NewService(changereqRepo, branchesService, financialsService, redisClient, logger)

	dashboardRepo := dashboard.NewRepository(pool)
	dashboardService := dashboard.NewService(dashboardRepo, branchesService)

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		SessionManager:    sessionManager,
		CSRFManager:       csrfManager,
		Policy:            policyMW,
		AuthHandler:       auth.NewHandler(logger, authService, sessionManager, csrfManager),
		ProfilesHandler:   profiles.NewHandler(logger, profilesService, policyMW),
		BranchesHandler:   branches.NewHandler(logger, branchesService, policyMW),
		FinancialsHandler: financials.NewHandler(logger, financialsService, policyMW),
		ChangeReqHandler:  changereq.NewHandler(logger, changereqService, policyMW),
		FinLogHandler:     finlog.NewHandler(logger, finlogService, policyMW),
		DashboardHandler:  dashboard.NewHandler(logger, dashboardService, policyMW),
		JobsHandler:       jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
