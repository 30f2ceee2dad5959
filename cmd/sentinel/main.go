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

	"github.com/odyssey-erp/sentinel/internal/app"
	"github.com/odyssey-erp/sentinel/internal/audit"
	audithttp "github.com/odyssey-erp/sentinel/internal/audit/http"
	"github.com/odyssey-erp/sentinel/internal/identity"
	"github.com/odyssey-erp/sentinel/internal/observability"
	"github.com/odyssey-erp/sentinel/internal/platform/cache"
	"github.com/odyssey-erp/sentinel/internal/platform/db"
	"github.com/odyssey-erp/sentinel/internal/rbac"
	"github.com/odyssey-erp/sentinel/internal/shared"
	"github.com/odyssey-erp/sentinel/internal/users"
	"github.com/odyssey-erp/sentinel/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()
	if cfg.PGAutoMigrate {
		if err := db.EnsureSchema(ctx, dbpool); err != nil {
			logger.Error("ensure schema", slog.Any("error", err))
			os.Exit(1)
		}
	}

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

	sessionManager := shared.NewSessionManager(redisClient, "sentinel_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	metrics := observability.NewMetrics()
	registry := rbac.DefaultRegistry()

	resolver := identity.NewResolver(identity.NewPGRoleStore(dbpool), registry, logger)
	principals := identity.NewPGPrincipalSource(dbpool)

	auditStore := audit.NewPGStore(dbpool)
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue := jobs.NewClient(redisOpts)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	deps := app.AuditDeps{
		Store:   auditStore,
		Alerter: jobs.NewSecurityAlerter(queue),
		Metrics: metrics,
		IPCache: cache.NewJSON(redisClient, "sentinel:audit", cfg.AuditIPCacheTTL),
	}
	if cfg.AuditAsync {
		deps.Store = jobs.NewAuditSink(queue)
		logger.Info("audit writes are queued for the worker")
	}
	auditLogger, err := app.NewAuditLogger(cfg, logger, deps)
	if err != nil {
		logger.Error("init audit logger", slog.Any("error", err))
		os.Exit(1)
	}

	rbacMiddleware := app.NewRBACMiddleware(registry, logger, metrics)
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Identity:       identity.Middleware{Resolver: resolver, Principals: principals, Logger: logger},
		AuditLogger:    auditLogger,
		RBACMiddleware: rbacMiddleware,
		AuditHandler:   audithttp.NewHandler(logger, audit.NewService(auditStore, logger), rbacMiddleware),
		UsersHandler:   users.NewHandler(logger, users.NewService(users.NewRepository(dbpool), resolver), csrfManager, sessionManager, rbacMiddleware),
		RolesHandler:   rbac.NewHandler(registry, rbacMiddleware),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
		Readiness: map[string]app.Pinger{
			"postgres": dbpool,
			"redis":    app.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		},
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
