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

	"racing-admin/internal/audit"
	"racing-admin/internal/auth"
	"racing-admin/internal/config"
	"racing-admin/internal/httpapi"
	"racing-admin/internal/identity"
	"racing-admin/pkg/logger"
	"racing-admin/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	repo := audit.NewPostgresRepo(db)
	if err := repo.EnsureSchema(rootCtx); err != nil {
		log.Error("audit schema init failed", "err", err)
		os.Exit(1)
	}

	// Audit pipeline
	policy := audit.PolicyFromConfig(cfg.Audit)
	metrics := audit.NewMetrics(prometheus.DefaultRegisterer)

	resolver := audit.Resolver{Tokens: authManager}
	if cfg.Audit.RoleLookup {
		resolver.Roles = identity.NewCachedRoles(identity.NewPostgresRoles(db), cfg.Audit.RoleCacheTTL)
	}

	svc := audit.NewService(repo, policy, audit.ServiceOptions{Resolver: resolver, Metrics: metrics, Logger: log})
	dispatcher := audit.NewDispatcher(svc, audit.DispatcherOptions{
		QueueSize:    cfg.Audit.QueueSize,
		Workers:      cfg.Audit.Workers,
		WriteTimeout: cfg.Audit.WriteTimeout,
		Metrics:      metrics,
		Logger:       log,
	})
	dispatcher.Start()

	retention := audit.NewRetention(repo, policy, audit.RetentionOptions{
		Days:             cfg.Audit.RetentionDays,
		PurgeNonMutating: cfg.Audit.PurgeNonMutating,
		Locker:           audit.NewRedisLocker(rdb),
		Metrics:          metrics,
		Logger:           log,
	})
	scheduler, err := audit.NewScheduler(retention, cfg.Audit.RetentionRunTime, log)
	if err != nil {
		log.Error("audit scheduler init failed", "err", err)
		os.Exit(1)
	}
	scheduler.Start()

	log.Info("audit enabled",
		"policy_version", policy.Version,
		"sensitive_prefixes", policy.SensitivePrefixes,
		"capture_ip", policy.CaptureIP,
		"retention_days", cfg.Audit.RetentionDays,
	)

	// Gin router. Audit sits inside Recovery so a re-raised panic still becomes a 500.
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(audit.Middleware(policy, resolver, audit.NewBuilder(policy), dispatcher))

	registerRoutes(r, routeDeps{
		Auth: authManager,
		Audit: httpapi.Handlers{
			Store:     repo,
			Retention: retention,
			Metrics:   metrics,
			Mutating:  policy.MutatingMethods,
		},
		Ready: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Error("audit scheduler stop failed", "err", err)
	}
	// After the server: in-flight requests may still submit events.
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Error("audit queue drain incomplete", "err", err)
	}
}
