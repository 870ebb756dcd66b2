//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/drfirst/mediverify/internal/domain/fraud"
	"github.com/drfirst/mediverify/internal/domain/reporting"
	"github.com/drfirst/mediverify/internal/domain/verification"
	"github.com/drfirst/mediverify/internal/infrastructure/postgres"
	"github.com/drfirst/mediverify/pkg/idempotency"
)

type PostgresSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("mediverify"),
		tcpostgres.WithUsername("mediverify"),
		tcpostgres.WithPassword("mediverify"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.pool, err = pgxpool.New(ctx, dsn)
	s.Require().NoError(err)
	s.Require().NoError(postgres.Migrate(ctx, s.pool))
}

func (s *PostgresSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		if err := s.container.Terminate(context.Background()); err != nil {
			s.T().Logf("failed to terminate container: %s", err)
		}
	}
}

func (s *PostgresSuite) TestRegistryRoundTrip() {
	ctx := context.Background()
	loader := postgres.NewRegistryLoader(s.pool, nil)
	s.Require().NoError(loader.Upsert(ctx, verification.DemoRecords()))

	records, err := loader.Load(ctx)
	s.Require().NoError(err)

	reg := verification.NewSnapshotRegistry(records)
	s.Equal(verification.StatusGenuine, reg.Lookup("DEMO-GEN-001").Status)
	s.Equal(verification.StatusCounterfeit, reg.Lookup("DEMO-FAKE-002").Status)
	s.Equal(verification.StatusUnknown, reg.Lookup("NOT-REGISTERED").Status)
}

func (s *PostgresSuite) TestIncidentsSeedOnce() {
	ctx := context.Background()
	src := postgres.NewIncidentSource(s.pool)
	s.Require().NoError(src.SeedIncidents(ctx, fraud.DefaultIncidents()))
	s.Require().NoError(src.SeedIncidents(ctx, fraud.DefaultIncidents()))

	incidents, err := src.Incidents(ctx)
	s.Require().NoError(err)
	s.Len(incidents, 10)
	s.Equal("New York", incidents[0].Location.Name)
}

type capturePublisher struct {
	topics []string
}

func (c *capturePublisher) Publish(_ context.Context, topic, _ string, _ []byte) error {
	c.topics = append(c.topics, topic)
	return nil
}

func (s *PostgresSuite) TestReportWritesOutboxAndDedupes() {
	ctx := context.Background()
	repo := reporting.NewRepository(s.pool, nil)
	inbox := idempotency.NewInbox(s.pool, idempotency.DefaultInboxConfig(), nil)
	svc := reporting.NewService(repo, inbox, nil, nil)

	sub := reporting.Submission{Identifier: "DEMO-FAKE-001", Status: verification.StatusCounterfeit}
	first, err := svc.Submit(ctx, "it-key-1", "kiosk-1", "pharmacy", sub)
	s.Require().NoError(err)
	second, err := svc.Submit(ctx, "it-key-1", "kiosk-1", "pharmacy", sub)
	s.Require().NoError(err)
	s.True(second.Duplicate)
	s.Equal(first.ReportID, second.ReportID)

	n, err := repo.Count(ctx, "DEMO-FAKE-001")
	s.Require().NoError(err)
	s.Equal(1, n)

	var payload json.RawMessage
	err = s.pool.QueryRow(ctx,
		"SELECT payload FROM outbox WHERE aggregate_id = $1", first.ReportID).Scan(&payload)
	s.Require().NoError(err)
	s.Contains(string(payload), "DEMO-FAKE-001")

	stats, err := postgres.NewOutbox(s.pool, &capturePublisher{}, postgres.DefaultOutboxConfig(), nil).GetStats(ctx)
	require.NoError(s.T(), err)
	s.GreaterOrEqual(stats.Pending, int64(1))
}

func (s *PostgresSuite) inboxStatus(key string) string {
	var status string
	err := s.pool.QueryRow(context.Background(),
		"SELECT status FROM inbox WHERE idempotency_key = $1", key).Scan(&status)
	if err != nil {
		return ""
	}
	return status
}

func (s *PostgresSuite) TestInboxSweepReleasesStaleClaims() {
	ctx := context.Background()
	var seen idempotency.InboxStats
	cfg := idempotency.DefaultInboxConfig()
	cfg.OnStats = func(st idempotency.InboxStats) { seen = st }
	inbox := idempotency.NewInbox(s.pool, cfg, nil)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO inbox (idempotency_key, handler_name, status, updated_at, expires_at) VALUES
			('sweep-stale', 'it', 'STARTED', NOW() - INTERVAL '10 minutes', NOW() + INTERVAL '1 day'),
			('sweep-fresh', 'it', 'STARTED', NOW(), NOW() + INTERVAL '1 day'),
			('sweep-expired', 'it', 'FINISHED', NOW(), NOW() - INTERVAL '1 minute')`)
	s.Require().NoError(err)

	s.Require().NoError(inbox.Sweep(ctx))

	s.Equal("RECOVERABLE", s.inboxStatus("sweep-stale"))
	s.Equal("STARTED", s.inboxStatus("sweep-fresh"))
	s.Empty(s.inboxStatus("sweep-expired"))
	s.GreaterOrEqual(seen.Recoverable, int64(1))
	s.GreaterOrEqual(seen.Started, int64(1))
}

func (s *PostgresSuite) TestInboxRetriesTransientFailures() {
	ctx := context.Background()
	inbox := idempotency.NewInbox(s.pool, idempotency.DefaultInboxConfig(), nil)

	_, err := inbox.Process(ctx, "it-transient", "it", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("store report: conn closed: invalid state after timeout")
	})
	s.Require().Error(err)
	s.Equal("RECOVERABLE", s.inboxStatus("it-transient"))

	res, err := inbox.Process(ctx, "it-transient", "it", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})
	s.Require().NoError(err)
	s.True(res.WasRecovered)
	s.Equal("FINISHED", s.inboxStatus("it-transient"))

	_, err = inbox.Process(ctx, "it-permanent", "it", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, idempotency.Permanent(errors.New("report identifier is required"))
	})
	s.Require().Error(err)
	s.Equal("FAILED", s.inboxStatus("it-permanent"))
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, string, []byte) error {
	return errors.New("broker unavailable")
}

func (s *PostgresSuite) enqueue(aggregateID, topic string) int64 {
	ctx := context.Background()
	tx, err := s.pool.Begin(ctx)
	s.Require().NoError(err)
	entry := &postgres.OutboxEntry{
		AggregateID:   aggregateID,
		AggregateType: "CounterfeitReport",
		EventType:     "CounterfeitReported",
		Payload:       json.RawMessage(`{"identifier":"DEMO-FAKE-001"}`),
		KafkaTopic:    topic,
		KafkaKey:      "DEMO-FAKE-001",
	}
	s.Require().NoError(postgres.WriteEntry(ctx, tx, entry))
	s.Require().NoError(tx.Commit(ctx))
	return entry.ID
}

func (s *PostgresSuite) TestOutboxRelayAndDeadLetter() {
	ctx := context.Background()
	cfg := postgres.DefaultOutboxConfig()
	cfg.MaxRetries = 1
	cfg.DeadLetterTopic = "it.dead"

	failing := s.enqueue("relay-fail", "it.reports")
	n, err := postgres.NewOutbox(s.pool, failingPublisher{}, cfg, nil).RelayBatch(ctx)
	s.Require().NoError(err)
	s.Zero(n)

	var retries int
	s.Require().NoError(s.pool.QueryRow(ctx, "SELECT retry_count FROM outbox WHERE id = $1", failing).Scan(&retries))
	s.Equal(1, retries)

	ok := s.enqueue("relay-ok", "it.reports")
	pub := &capturePublisher{}
	relay := postgres.NewOutbox(s.pool, pub, cfg, nil)
	n, err = relay.RelayBatch(ctx)
	s.Require().NoError(err)
	s.GreaterOrEqual(n, 1)
	s.Contains(pub.topics, "it.reports")

	moved, err := relay.MoveToDeadLetter(ctx)
	s.Require().NoError(err)
	s.GreaterOrEqual(moved, int64(1))
	s.Contains(pub.topics, "it.dead")

	var pending int
	s.Require().NoError(s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM outbox WHERE id IN ($1, $2) AND processed_at IS NULL", failing, ok).Scan(&pending))
	s.Zero(pending)

	_, err = s.pool.Exec(ctx, "UPDATE outbox SET processed_at = NOW() - INTERVAL '8 days' WHERE id = $1", ok)
	s.Require().NoError(err)
	trimmed, err := relay.CleanupProcessed(ctx, 7*24*time.Hour)
	s.Require().NoError(err)
	s.GreaterOrEqual(trimmed, int64(1))

	var stats postgres.OutboxStats
	cfg.OnStats = func(st postgres.OutboxStats) { stats = st }
	postgres.NewOutbox(s.pool, pub, cfg, nil).Maintain(ctx)
	s.Zero(stats.Exhausted)
}
