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

	"github.com/parcelhub/parcelhub/internal/app"
	"github.com/parcelhub/parcelhub/internal/auth"
	"github.com/parcelhub/parcelhub/internal/authz"
	"github.com/parcelhub/parcelhub/internal/observability"
	"github.com/parcelhub/parcelhub/internal/platform/cache"
	"github.com/parcelhub/parcelhub/internal/platform/db"
	"github.com/parcelhub/parcelhub/internal/rbac"
	"github.com/parcelhub/parcelhub/internal/roles"
	"github.com/parcelhub/parcelhub/internal/shared"
	"github.com/parcelhub/parcelhub/internal/token"
	"github.com/parcelhub/parcelhub/internal/users"
	"github.com/parcelhub/parcelhub/jobs"
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
	if cfg.TokenSecret == app.DevTokenSecret {
		logger.Warn("using insecure development token secret")
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// The permission cache falls back to fresh reads without redis.
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	tokens := token.NewService(cfg.TokenSecret, cfg.TokenTTL, token.WithIssuer(cfg.TokenIssuer))

	credentials := rbac.NewRepository(dbpool)
	permCache := rbac.NewCache(redisClient, cfg.RBACCacheTTL, logger)
	resolver := rbac.NewResolver(credentials, rbac.WithCache(permCache), rbac.WithLogger(logger))
	rbacService := rbac.NewService(credentials, permCache, auditLogger, logger)

	gate := authz.Middleware{
		Gate: authz.NewGate(tokens, credentials, resolver,
			authz.WithLookupTimeout(cfg.AuthzLookupTimeout),
			authz.WithObserver(metrics),
			authz.WithGateLogger(logger),
		),
		Logger: logger,
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	authOpts := []auth.Option{auth.WithDefaultRole(cfg.DefaultRole), auth.WithLogger(logger)}
	if cfg.SessionAudit {
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		authOpts = append(authOpts, auth.WithSessionRecorder(jobClient))
	}
	authService := auth.NewService(auth.NewRepository(credentials), tokens, authOpts...)

	usersService := users.NewService(users.NewRepository(credentials), auditLogger, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Gate:               gate,
		AuthHandler:        auth.NewHandler(logger, authService, gate),
		RolesHandler:       roles.NewHandler(logger, rbacService, gate),
		UsersHandler:       users.NewHandler(logger, usersService, gate),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, gate),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
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
