// Package postgres provides PostgreSQL infrastructure components: the
// transactional outbox for report events and loaders for registry and
// incident reference data.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OutboxEntry is an event waiting to be relayed to the broker
type OutboxEntry struct {
	ID            int64
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       json.RawMessage
	KafkaTopic    string
	KafkaKey      string
	CreatedAt     time.Time
	RetryCount    int
	LastError     *string
}

// WriteEntry enqueues entry on tx so it commits or rolls back with the report
func WriteEntry(ctx context.Context, tx pgx.Tx, entry *OutboxEntry) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO outbox (aggregate_id, aggregate_type, event_type, payload, kafka_topic, kafka_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, entry.AggregateID, entry.AggregateType, entry.EventType, entry.Payload,
		entry.KafkaTopic, entry.KafkaKey,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write outbox entry: %w", err)
	}
	return nil
}

// OutboxPublisher sends one relayed entry
type OutboxPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// OutboxStats describes the relay backlog
type OutboxStats struct {
	Pending       int64
	Exhausted     int64
	RelayedToday  int64
	OldestPending *time.Time
}

// OutboxConfig holds configuration for the relay
type OutboxConfig struct {
	// BatchSize bounds entries relayed per poll
	BatchSize int
	// PollInterval is how often pending entries are relayed
	PollInterval time.Duration
	// MaxRetries is the attempts an entry gets before it is dead lettered
	MaxRetries int
	// LockID is the advisory lock key shared by all relay replicas
	LockID int64
	// DeadLetterTopic receives entries that exhausted their retries
	DeadLetterTopic string
	// MaintenanceInterval is how often dead lettering and trimming run
	MaintenanceInterval time.Duration
	// Retention is how long relayed entries are kept
	Retention time.Duration
	// OnStats receives the backlog after every maintenance pass
	OnStats func(OutboxStats)
}

// DefaultOutboxConfig returns sensible defaults
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BatchSize:           100,
		PollInterval:        100 * time.Millisecond,
		MaxRetries:          5,
		LockID:              0x4d5646, // "MVF"
		DeadLetterTopic:     "dead.letter",
		MaintenanceInterval: time.Minute,
		Retention:           7 * 24 * time.Hour,
	}
}

// Outbox relays committed report events to the broker. Replicas coordinate
// through a transaction-scoped advisory lock, so one batch is in flight at a time.
type Outbox struct {
	pool      *pgxpool.Pool
	config    OutboxConfig
	publisher OutboxPublisher
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewOutbox creates a relay
func NewOutbox(pool *pgxpool.Pool, publisher OutboxPublisher, cfg OutboxConfig, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{
		pool:      pool,
		config:    cfg,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("outbox"),
	}
}

// Run relays and maintains the outbox until ctx is done
func (o *Outbox) Run(ctx context.Context) {
	o.logger.Info("outbox relay started",
		zap.Int("batch_size", o.config.BatchSize),
		zap.Duration("poll_interval", o.config.PollInterval))
	defer o.logger.Info("outbox relay stopped")

	poll := time.NewTicker(o.config.PollInterval)
	defer poll.Stop()
	maintain := time.NewTicker(o.config.MaintenanceInterval)
	defer maintain.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			if _, err := o.RelayBatch(ctx); err != nil && ctx.Err() == nil {
				o.logger.Error("outbox relay failed", zap.Error(err))
			}
		case <-maintain.C:
			o.Maintain(ctx)
		}
	}
}

// withLock runs fn in a transaction holding the relay lock. It reports
// false without running fn when another replica holds the lock.
func (o *Outbox) withLock(ctx context.Context, fn func(pgx.Tx) error) (bool, error) {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", o.config.LockID).Scan(&locked); err != nil {
		return false, fmt.Errorf("advisory lock: %w", err)
	}
	if !locked {
		return false, nil
	}
	if err := fn(tx); err != nil {
		return true, err
	}
	return true, tx.Commit(ctx)
}

func selectEntries(ctx context.Context, tx pgx.Tx, where string, args ...interface{}) ([]*OutboxEntry, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, payload,
		       kafka_topic, kafka_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL AND `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("select outbox: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*OutboxEntry, error) {
		e := &OutboxEntry{}
		err := row.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &e.Payload,
			&e.KafkaTopic, &e.KafkaKey, &e.CreatedAt, &e.RetryCount, &e.LastError)
		return e, err
	})
}

// RelayBatch publishes up to BatchSize pending entries in creation order and
// returns how many were published
func (o *Outbox) RelayBatch(ctx context.Context) (int, error) {
	ctx, span := o.tracer.Start(ctx, "outbox.relay_batch")
	defer span.End()

	var published int
	_, err := o.withLock(ctx, func(tx pgx.Tx) error {
		entries, err := selectEntries(ctx, tx,
			"retry_count < $1 ORDER BY created_at, id LIMIT $2",
			o.config.MaxRetries, o.config.BatchSize)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int("batch_size", len(entries)))

		for _, e := range entries {
			if pubErr := o.publisher.Publish(ctx, e.KafkaTopic, e.KafkaKey, e.Payload); pubErr != nil {
				o.logger.Warn("outbox publish failed",
					zap.Int64("id", e.ID),
					zap.String("event_type", e.EventType),
					zap.Error(pubErr))
				if _, err := tx.Exec(ctx, `
					UPDATE outbox SET retry_count = retry_count + 1, last_error = $1, updated_at = NOW()
					WHERE id = $2`, pubErr.Error(), e.ID); err != nil {
					return fmt.Errorf("record failure: %w", err)
				}
				continue
			}
			if _, err := tx.Exec(ctx,
				"UPDATE outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1", e.ID); err != nil {
				return fmt.Errorf("mark relayed: %w", err)
			}
			published++
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return published, err
}

// MoveToDeadLetter publishes entries that exhausted their retries to the dead
// letter topic and retires them
func (o *Outbox) MoveToDeadLetter(ctx context.Context) (int64, error) {
	var moved int64
	_, err := o.withLock(ctx, func(tx pgx.Tx) error {
		entries, err := selectEntries(ctx, tx, "retry_count >= $1", o.config.MaxRetries)
		if err != nil {
			return err
		}
		for _, e := range entries {
			letter, _ := json.Marshal(map[string]interface{}{
				"original_topic": e.KafkaTopic,
				"event_type":     e.EventType,
				"aggregate_id":   e.AggregateID,
				"payload":        e.Payload,
				"retry_count":    e.RetryCount,
				"last_error":     e.LastError,
				"created_at":     e.CreatedAt,
			})
			if err := o.publisher.Publish(ctx, o.config.DeadLetterTopic, e.KafkaKey, letter); err != nil {
				o.logger.Error("failed to publish to dead letter", zap.Int64("id", e.ID), zap.Error(err))
				continue
			}
			if _, err := tx.Exec(ctx,
				"UPDATE outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1", e.ID); err != nil {
				return fmt.Errorf("retire dead letter: %w", err)
			}
			moved++
		}
		return nil
	})
	return moved, err
}

// CleanupProcessed deletes entries relayed more than olderThan ago
func (o *Outbox) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := o.pool.Exec(ctx, `
		DELETE FROM outbox
		WHERE processed_at IS NOT NULL
		  AND processed_at < NOW() - make_interval(secs => $1)
	`, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetStats returns the current backlog
func (o *Outbox) GetStats(ctx context.Context) (OutboxStats, error) {
	var s OutboxStats
	err := o.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE processed_at IS NULL AND retry_count < $1),
			COUNT(*) FILTER (WHERE processed_at IS NULL AND retry_count >= $1),
			COUNT(*) FILTER (WHERE processed_at > NOW() - INTERVAL '24 hours'),
			MIN(created_at) FILTER (WHERE processed_at IS NULL)
		FROM outbox
	`, o.config.MaxRetries).Scan(&s.Pending, &s.Exhausted, &s.RelayedToday, &s.OldestPending)
	if err != nil {
		return OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	return s, nil
}

// Maintain dead letters exhausted entries, trims relayed ones past Retention
// and reports the backlog to OnStats
func (o *Outbox) Maintain(ctx context.Context) {
	if n, err := o.MoveToDeadLetter(ctx); err != nil {
		o.logger.Error("dead letter sweep failed", zap.Error(err))
	} else if n > 0 {
		o.logger.Warn("moved outbox entries to dead letter", zap.Int64("count", n))
	}

	if _, err := o.CleanupProcessed(ctx, o.config.Retention); err != nil {
		o.logger.Error("outbox cleanup failed", zap.Error(err))
	}

	stats, err := o.GetStats(ctx)
	if err != nil {
		o.logger.Error("failed to read outbox stats", zap.Error(err))
		return
	}
	if stats.Exhausted > 0 {
		o.logger.Warn("outbox has exhausted entries", zap.Int64("count", stats.Exhausted))
	}
	if o.config.OnStats != nil {
		o.config.OnStats(stats)
	}
}
