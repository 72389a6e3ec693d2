package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/schoolhub/schoolhub/cmd/schoolhub/cli"
	"github.com/schoolhub/schoolhub/internal/app"
	"github.com/schoolhub/schoolhub/internal/audit"
	audithttp "github.com/schoolhub/schoolhub/internal/audit/http"
	"github.com/schoolhub/schoolhub/internal/observability"
	"github.com/schoolhub/schoolhub/internal/platform/cache"
	"github.com/schoolhub/schoolhub/internal/platform/db"
	"github.com/schoolhub/schoolhub/internal/ratelimit"
	"github.com/schoolhub/schoolhub/internal/rbac"
	"github.com/schoolhub/schoolhub/internal/redact"
	"github.com/schoolhub/schoolhub/internal/session"
	"github.com/schoolhub/schoolhub/jobs"
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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCommand(ctx, cfg, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("schoolhub exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, db.Options{
		DSN:             cfg.PGDSN,
		MaxConns:        cfg.PGMaxConns,
		ApplicationName: "schoolhub",
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	store := audit.NewPGStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	redactor := redact.Default()

	auditOpts := []audit.LoggerOption{
		audit.WithGeneralLogger(logger),
		audit.WithRedactor(redactor),
		audit.WithFailureObserver(metrics),
	}
	asynqOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.AuditAsync {
		jobClient := jobs.NewClient(asynqOpts)
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		auditOpts = append(auditOpts, audit.WithDispatcher(jobClient))
	}
	auditLogger, err := audit.NewLogger(store, cfg.AuditConfig(), auditOpts...)
	if err != nil {
		return err
	}

	engine, err := rbac.NewEngine(auditLogger, rbac.WithObserver(metrics), rbac.WithLogger(logger))
	if err != nil {
		return err
	}
	rbacMiddleware := rbac.Middleware{Logger: logger}

	group, gctx := errgroup.WithContext(ctx)

	var limiter ratelimit.Limiter
	switch cfg.RateLimitBackend {
	case "redis":
		limiter = ratelimit.NewRedisLimiter(redisClient, "schoolhub:rl")
	default:
		mem := ratelimit.NewMemoryLimiter(nil)
		group.Go(func() error {
			return mem.Run(gctx, cfg.RateLimitSweepInterval)
		})
		limiter = mem
	}
	guard, err := ratelimit.NewGuard(ratelimit.GuardConfig{
		Limiter:  limiter,
		Login:    cfg.LoginPolicy(),
		API:      cfg.APIPolicy(),
		Recorder: auditLogger,
		Observer: metrics,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	sessions := session.NewManager(redisClient, "", cfg.SessionTTL, cfg.IsProduction())

	inspector := asynq.NewInspector(asynqOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Metrics:            metrics,
		Sessions:           sessions,
		RBACMiddleware:     rbacMiddleware,
		Guard:              guard,
		LoginHandler:       ratelimit.NewHandler(guard, logger),
		DecisionHandler:    rbac.NewDecisionHandler(engine, redactor, logger, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(rbacMiddleware),
		AuditHandler:       audithttp.NewHandler(logger, audit.NewService(store), auditLogger, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Readiness: map[string]app.ReadinessCheck{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	servers := []*http.Server{server}
	if cfg.SessionIssuerToken != "" {
		issuer, err := session.NewIssuer(sessions, cfg.SessionIssuerToken, auditLogger, logger)
		if err != nil {
			return err
		}
		servers = append(servers, &http.Server{
			Addr:              cfg.InternalAddr,
			Handler:           app.NewInternalRouter(app.InternalRouterParams{Logger: logger, Config: cfg, Issuer: issuer}),
			ReadTimeout:       cfg.AppReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.AppWriteTimeout,
		})
	} else {
		logger.Warn("SESSION_ISSUER_TOKEN not set, internal session issuing disabled")
	}

	for _, srv := range servers {
		group.Go(func() error {
			logger.Info("starting http server", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runJobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	jobsCLI := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer jobsCLI.Close()

	if len(args) == 0 {
		return errors.New("usage: schoolhub jobs trigger <task> | schoolhub jobs inspect")
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("usage: schoolhub jobs trigger <task>")
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	case "inspect":
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Printf("%-8s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
	return nil
}
