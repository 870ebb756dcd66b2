// Package main provides the report relay service entry point.
// Relays counterfeit reports from the transactional outbox to Redpanda.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/mediverify/internal/config"
	"github.com/drfirst/mediverify/internal/infrastructure/postgres"
	"github.com/drfirst/mediverify/internal/infrastructure/redpanda"
	"github.com/drfirst/mediverify/internal/observability/metrics"
	"github.com/drfirst/mediverify/internal/observability/tracing"
)

const serviceName = "report-relay"

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

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}
	brokers := cfg.Brokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	traceCfg := tracing.DefaultConfig(serviceName)
	traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	traceCfg.SampleRate = cfg.TraceSampleRate
	tp, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	m := metrics.New(nil)

	// Connect to database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}
	logger.Info("connected to database")

	// Topics
	admin, err := redpanda.NewAdmin(brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Fatal("failed to ensure topics", zap.Error(err))
	}
	admin.Close()

	// Create Redpanda producer
	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = brokers
	producerCfg.ClientID = serviceName

	producer, err := redpanda.NewProducer(producerCfg, m, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	logger.Info("connected to Redpanda", zap.Strings("brokers", brokers))

	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.DeadLetterTopic = redpanda.TopicDeadLetter
	outboxCfg.OnStats = func(s postgres.OutboxStats) {
		m.OutboxPending.Set(float64(s.Pending))
	}
	outbox := postgres.NewOutbox(pool, producer, outboxCfg, logger)

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		outbox.Run(ctx)
	}()
	logger.Info("report relay started")

	metricsServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()
	<-relayDone

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	metricsServer.Shutdown(shutdownCtx)
	logger.Info("report relay stopped")
}
