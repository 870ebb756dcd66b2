// Package main provides the verification API service entry point.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/mediverify/internal/api/handlers"
	"github.com/drfirst/mediverify/internal/api/middleware"
	"github.com/drfirst/mediverify/internal/config"
	"github.com/drfirst/mediverify/internal/connectivity"
	"github.com/drfirst/mediverify/internal/domain/access"
	"github.com/drfirst/mediverify/internal/domain/fraud"
	"github.com/drfirst/mediverify/internal/domain/reporting"
	"github.com/drfirst/mediverify/internal/domain/verification"
	"github.com/drfirst/mediverify/internal/infrastructure/postgres"
	"github.com/drfirst/mediverify/internal/infrastructure/redis"
	"github.com/drfirst/mediverify/internal/infrastructure/redpanda"
	"github.com/drfirst/mediverify/internal/observability/metrics"
	"github.com/drfirst/mediverify/internal/observability/tracing"
	"github.com/drfirst/mediverify/pkg/circuitbreaker"
	"github.com/drfirst/mediverify/pkg/idempotency"
	"github.com/drfirst/mediverify/pkg/workerpool"
)

const serviceName = "verify-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("invalid configuration", zap.Error(err))
	}

	logger, _ := zap.NewProduction()
	if cfg.Debug() {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	traceCfg := tracing.DefaultConfig(serviceName)
	traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	traceCfg.SampleRate = cfg.TraceSampleRate
	tp, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}

	m := metrics.New(nil)
	breakerCfg := circuitbreaker.DefaultConfig("")
	breakerCfg.OnStateChange = m.BreakerStateChanged
	breakers := circuitbreaker.NewGroup(breakerCfg, logger)

	// Connectivity
	monitor := connectivity.NewMonitor(true, logger)
	monitor.Subscribe(m.SetOnline)
	m.SetOnline(monitor.Online())

	// Database, optional unless the registry lives there
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("database ping failed", zap.Error(err))
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Fatal("schema migration failed", zap.Error(err))
		}
		logger.Info("connected to database")
	}

	// Registry
	registry := verification.NewSnapshotRegistry(nil)
	var loader verification.Loader = verification.DemoLoader
	if cfg.RegistrySource == config.RegistryPostgres {
		pgLoader := postgres.NewRegistryLoader(pool, logger)
		if err := pgLoader.Upsert(ctx, verification.DemoRecords()); err != nil {
			logger.Fatal("failed to seed registry", zap.Error(err))
		}
		breaker, err := breakers.Breaker("registry")
		if err != nil {
			logger.Fatal("failed to create breaker", zap.Error(err))
		}
		loader = verification.LoaderFunc(func(ctx context.Context) ([]verification.Record, error) {
			return circuitbreaker.Call(ctx, breaker, func() ([]verification.Record, error) {
				return pgLoader.Load(ctx)
			})
		})
	}
	refresher := verification.NewRefresher(loader, registry, logger)
	if err := refresher.Refresh(ctx); err != nil {
		logger.Fatal("failed to load registry", zap.Error(err))
	}

	engine := verification.NewEngine(registry, monitor, logger, verification.WithRecorder(m))
	sessions := verification.NewSessions(engine, nil, logger)

	// Role persistence
	var kv access.KV = access.NewMemoryKV()
	redisClient, err := redis.New(ctx, redis.DefaultConfig(cfg.RedisURL))
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
		breaker, err := breakers.Breaker("role-store")
		if err != nil {
			logger.Fatal("failed to create breaker", zap.Error(err))
		}
		kv = redis.NewRoleKV(redisClient, breaker)
		logger.Info("role store backed by redis")
	}
	roles := access.NewRoleStore(kv, m, logger)

	// Reports and incidents
	var (
		reportStore reporting.Store       = reporting.NewMemoryStore()
		inbox       idempotency.Processor = idempotency.NewMemoryInbox()
		incidents   fraud.Source          = fraud.DefaultIncidents()
	)
	if pool != nil {
		reportStore = reporting.NewRepository(pool, logger)

		inboxCfg := idempotency.DefaultInboxConfig()
		inboxCfg.OnStats = m.SetInboxStats
		pgInbox := idempotency.NewInbox(pool, inboxCfg, logger)
		// claims abandoned by a crashed replica become retryable right away
		if err := pgInbox.Sweep(ctx); err != nil {
			logger.Error("initial inbox sweep failed", zap.Error(err))
		}
		pgInbox.Start()
		defer pgInbox.Stop()
		inbox = pgInbox

		src := postgres.NewIncidentSource(pool)
		if err := src.SeedIncidents(ctx, fraud.DefaultIncidents()); err != nil {
			logger.Fatal("failed to seed incidents", zap.Error(err))
		}
		incidents = src
	}
	reports := reporting.NewService(reportStore, inbox, m, logger)

	// Batch verification workers
	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.BatchWorkers
	workers, err := workerpool.New(poolCfg, handlers.ClassifyWorker(engine), logger)
	if err != nil {
		logger.Fatal("failed to create worker pool", zap.Error(err))
	}
	workers.Start()
	defer workers.Stop()

	// Broker-driven background work
	if len(cfg.Brokers) > 0 {
		prober := connectivity.NewProber(monitor, func(ctx context.Context) error {
			return redpanda.HealthCheck(ctx, cfg.Brokers)
		}, cfg.ProbeInterval, logger)
		go prober.Run(ctx)

		consumerCfg := redpanda.DefaultConsumerConfig()
		consumerCfg.Brokers = cfg.Brokers
		consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
			return refresher.Refresh(ctx)
		}, logger)
		if err != nil {
			logger.Fatal("failed to create consumer", zap.Error(err))
		}
		consumer.Start()
		defer consumer.Stop()
	}

	sessionHandler := handlers.NewSessionHandler(sessions, m, logger)
	go pruneSessions(ctx, sessionHandler, cfg.SessionIdleLimit)

	api := &handlers.API{
		Sessions:     sessionHandler,
		Verify:       handlers.NewVerifyHandler(engine, workers, roles, logger),
		Access:       handlers.NewAccessHandler(roles, logger),
		Fraud:        handlers.NewFraudHandler(incidents, m, logger),
		Connectivity: handlers.NewConnectivityHandler(monitor),
		Reports:      handlers.NewReportHandler(reports, roles, logger),
	}

	// Setup router
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.DeviceID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"online":   monitor.Online(),
			"registry": registry.Len(),
		})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, "database not ready", http.StatusServiceUnavailable)
				return
			}
		}
		code := http.StatusOK
		if !breakers.Healthy() || !workers.IsHealthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"breakers": breakers.Health(),
			"workers":  workers.Stats(),
		})
	})
	r.Handle("/metrics", metrics.Handler())

	r.With(middleware.APIKeyAuth(cfg.APIKeys)).Mount("/api/v1", api.Routes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting verification API",
		zap.String("port", cfg.Port),
		zap.String("registry_source", cfg.RegistrySource),
		zap.Int("registry_size", registry.Len()))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func pruneSessions(ctx context.Context, h *handlers.SessionHandler, maxIdle time.Duration) {
	if maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(maxIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.PruneIdle(maxIdle)
		}
	}
}
