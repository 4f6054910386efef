package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatekeeper/pkg/api"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/maintenance"
	"github.com/platinummonkey/gatekeeper/pkg/middleware"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"github.com/platinummonkey/gatekeeper/pkg/storage/memory"
	"github.com/platinummonkey/gatekeeper/pkg/storage/postgres"
	"github.com/platinummonkey/gatekeeper/pkg/storage/redishash"
)

// Request bodies are tiny JSON documents; anything bigger is abuse.
const maxRequestBodyBytes = 1 << 20

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"environment": cfg.Environment,
		"storage":     cfg.Storage.Type,
		"audit_sink":  cfg.Audit.Sink,
	}).Info("starting gatekeeper")

	if cfg.Auth.BypassEnabled {
		logger.Warn("auth bypass is enabled; every request resolves to an admin identity")
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	auditor, reader, auditDB, err := openAuditSink(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize audit sink: %v", err)
	}
	defer auditor.Close()
	if auditDB != nil {
		defer auditDB.Close()
	}

	health := observability.NewHealthChecker()
	health.AddRequired("storage", store)
	if auditDB != nil {
		health.AddOptional("audit", dbPinger{db: auditDB})
	}

	resolver := auth.NewResolver(store, auditor, logger, metrics, cfg.Auth)
	service := api.NewService(store, auditor, logger, api.ServiceConfig{
		DefaultExpirationDays: cfg.Keys.DefaultExpirationDays,
		MinExpirationDays:     cfg.Keys.MinExpirationDays,
		MaxExpirationDays:     cfg.Keys.MaxExpirationDays,
		MaxKeysPerOwner:       cfg.Keys.MaxKeysPerOwner,
		RotationGracePeriod:   cfg.Keys.RotationGracePeriod,
		BcryptCost:            cfg.Keys.BcryptCost,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router := buildRouter(ctx, cfg, logger, metrics, resolver, service, reader)

	sweeper := maintenance.NewSweeper(store, auditor, logger, metrics)
	scheduler := maintenance.NewScheduler(sweeper, logger, cfg.Maintenance)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start maintenance scheduler: %v", err)
	}
	if err := sweeper.RefreshGauges(ctx); err != nil {
		logger.WithError(err).Warn("failed to prime key gauges")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	observability.RegisterMetricsEndpoint(healthMux, registry)
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	var group errgroup.Group
	group.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})

	shutdown := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		scheduler.Stop()
		return nil
	})

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown did not complete cleanly")
	}
	cancel()
	if err := group.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// openStore selects the configured storage backend.
func openStore(cfg *config.Config) (storage.KeyStore, error) {
	switch cfg.Storage.Type {
	case "postgres":
		return postgres.New(cfg.Storage)
	case "redis":
		return redishash.New(cfg.Storage)
	default:
		return memory.New(), nil
	}
}

// openAuditSink builds the audit logger chain. The returned reader is nil
// unless the database sink is part of it; the returned *sql.DB (also
// possibly nil) is owned by the caller.
func openAuditSink(cfg *config.Config) (audit.Logger, audit.Reader, *sql.DB, error) {
	switch cfg.Audit.Sink {
	case "file":
		fileLogger, err := audit.NewFileLogger(cfg.Audit.FilePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return fileLogger, nil, nil, nil

	case "db", "multi":
		db, err := sql.Open("postgres", cfg.Storage.PostgresURL)
		if err != nil {
			return nil, nil, nil, err
		}
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		if cfg.Audit.Sink == "db" {
			return dbLogger, dbLogger, db, nil
		}
		fileLogger, err := audit.NewFileLogger(cfg.Audit.FilePath)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return audit.NewMultiLogger(dbLogger, fileLogger), dbLogger, db, nil

	default:
		return audit.NopLogger{}, nil, nil, nil
	}
}

// buildRouter assembles the middleware chain and mounts the API surface.
func buildRouter(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, resolver *auth.Resolver, service *api.Service, reader audit.Reader) *mux.Router {
	router := mux.NewRouter()
	router.Use(httputil.RequestIDMiddleware)
	router.Use(httputil.LoggingMiddleware)
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	router.Use(httputil.RecoveryMiddleware)
	router.Use(httputil.ContentTypeMiddleware)
	router.Use(httputil.MaxBytesMiddleware(maxRequestBodyBytes))
	router.Use(middleware.NewAuthMiddleware(resolver).Handler)

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.Distributed {
			client, err := redishash.NewRedisClient(cfg.Storage)
			if err != nil {
				log.Fatalf("Failed to build redis client for rate limiting: %v", err)
			}
			router.Use(middleware.NewDistributedRateLimitMiddleware(client).Handler)
		} else {
			limiter := middleware.NewRateLimitMiddleware()
			limiter.StartCleanup(ctx)
			router.Use(limiter.Handler)
		}
	}

	api.NewHandlers(service).RegisterRoutes(router)

	adminRouter := router.NewRoute().Subrouter()
	adminRouter.Use(middleware.RequireAdmin)
	audit.NewHandlers(reader).RegisterRoutes(adminRouter)

	return router
}

// dbPinger adapts a *sql.DB to the health checker.
type dbPinger struct {
	db *sql.DB
}

func (p dbPinger) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
