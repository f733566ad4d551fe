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

	"github.com/gatehouse-vms/gatehouse/internal/app"
	"github.com/gatehouse-vms/gatehouse/internal/auth"
	"github.com/gatehouse-vms/gatehouse/internal/authz"
	"github.com/gatehouse-vms/gatehouse/internal/notifications"
	"github.com/gatehouse-vms/gatehouse/internal/observability"
	"github.com/gatehouse-vms/gatehouse/internal/platform/cache"
	"github.com/gatehouse-vms/gatehouse/internal/platform/db"
	"github.com/gatehouse-vms/gatehouse/internal/roles"
	"github.com/gatehouse-vms/gatehouse/internal/shared"
	"github.com/gatehouse-vms/gatehouse/internal/timeslots"
	"github.com/gatehouse-vms/gatehouse/internal/users"
	"github.com/gatehouse-vms/gatehouse/internal/visitors"
	"github.com/gatehouse-vms/gatehouse/jobs"
)

// permissionAlerter routes high-risk permission changes to the security
// contact address.
type permissionAlerter struct {
	notifier *notifications.Service
	to       string
}

func (a permissionAlerter) PermissionChangeAlert(ctx context.Context, roleName, action string, permissionIDs []string) error {
	return a.notifier.PermissionChangeAlert(ctx, a.to, roleName, action, permissionIDs)
}

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

	sessionManager := shared.NewSessionManager(redisClient, "gatehouse_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(dbpool)
	metrics := observability.NewMetrics()

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	catalog := authz.DefaultCatalog()
	composites, err := authz.DefaultComposites(catalog, cfg.AuthzElevatedLevel)
	if err != nil {
		logger.Error("build composite policies", slog.Any("error", err))
		os.Exit(1)
	}

	authzRepo := authz.NewRepository(dbpool)
	resolver := authz.NewResolver(authzRepo, catalog, cfg.AuthzElevatedLevel)
	permCache := authz.NewCache(redisClient, resolver, authzRepo, cfg.AuthzCacheTTL, logger, metrics)
	evaluator := authz.NewEvaluator(permCache, authzRepo, cfg.AuthzResolveTimeout, logger, metrics)
	authzMiddleware := authz.Middleware{Evaluator: evaluator, Logger: logger}

	rolesRepo := roles.NewRepository(dbpool)
	rolesService := roles.NewService(rolesRepo, permCache, logger)
	rolesHandler, err := roles.NewHandler(logger, rolesService, authzMiddleware, catalog, composites)
	if err != nil {
		logger.Error("init roles handler", slog.Any("error", err))
		os.Exit(1)
	}

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo, rolesService, permCache, logger)
	usersHandler, err := users.NewHandler(logger, usersService, authzMiddleware, catalog)
	if err != nil {
		logger.Error("init users handler", slog.Any("error", err))
		os.Exit(1)
	}

	notifier := notifications.NewService(jobClient, usersService, logger)

	orchestrator := authz.NewOrchestrator(authzRepo, catalog, permCache, auditLogger, jobClient, permissionAlerter{notifier: notifier, to: cfg.AlertRecipient}, logger)
	authzHandler, err := authz.NewHandler(logger, catalog, resolver, orchestrator, authzMiddleware, composites)
	if err != nil {
		logger.Error("init authz handler", slog.Any("error", err))
		os.Exit(1)
	}

	sessionStore := auth.NewSessionStore(dbpool)
	authService := auth.NewService(usersRepo, sessionStore)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	visitorsRepo := visitors.NewRepository(dbpool)
	visitorsService := visitors.NewService(visitorsRepo, permCache, notifier, logger)
	visitorsHandler, err := visitors.NewHandler(logger, visitorsService, authzMiddleware, catalog, visitors.VisitingHours{
		Start: cfg.VisitingHoursStart,
		End:   cfg.VisitingHoursEnd,
	})
	if err != nil {
		logger.Error("init visitors handler", slog.Any("error", err))
		os.Exit(1)
	}

	timeslotsRepo := timeslots.NewRepository(dbpool)
	timeslotsService := timeslots.NewService(timeslotsRepo)
	timeslotsHandler, err := timeslots.NewHandler(logger, timeslotsService, authzMiddleware, catalog)
	if err != nil {
		logger.Error("init timeslots handler", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		AuthHandler:      authHandler,
		AuthzHandler:     authzHandler,
		RolesHandler:     rolesHandler,
		UsersHandler:     usersHandler,
		VisitorsHandler:  visitorsHandler,
		TimeSlotsHandler: timeslotsHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
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
