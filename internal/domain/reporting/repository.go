package reporting

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/mediverify/internal/infrastructure/postgres"
	"github.com/drfirst/mediverify/internal/infrastructure/redpanda"
)

// Store persists reports
type Store interface {
	Save(ctx context.Context, r *Report) error
}

// Repository stores reports in PostgreSQL and enqueues their events in the
// transactional outbox within the same transaction.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// Save persists the report row and its pending events
func (r *Repository) Save(ctx context.Context, rep *Report) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.insertReport(ctx, tx, rep); err != nil {
		return err
	}

	for _, event := range rep.Changes() {
		entry := &postgres.OutboxEntry{
			AggregateID:   event.AggregateID,
			AggregateType: event.AggregateType,
			EventType:     string(event.EventType),
			Payload:       event.EventData,
			KafkaTopic:    redpanda.TopicCounterfeitReports,
			KafkaKey:      rep.Identifier(),
		}
		if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.Info("counterfeit report stored",
		zap.String("report_id", rep.ID()),
		zap.String("identifier", rep.Identifier()))
	rep.ClearChanges()
	return nil
}

func (r *Repository) insertReport(ctx context.Context, tx pgx.Tx, rep *Report) error {
	query := `
		INSERT INTO counterfeit_reports
		(id, identifier, status, location, notes, device_id, role, reported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Exec(ctx, query,
		rep.ID(),
		rep.Identifier(),
		string(rep.Status()),
		rep.Location(),
		rep.Notes(),
		rep.DeviceID(),
		rep.Role(),
		rep.ReportedAt(),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// Count returns the number of stored reports for an identifier
func (r *Repository) Count(ctx context.Context, identifier string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM counterfeit_reports WHERE identifier = $1", identifier).Scan(&n)
	return n, err
}

// MemoryStore keeps reports in process. Used when no database is configured.
type MemoryStore struct {
	mu      sync.Mutex
	reports []*Report
	events  []*Event
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save appends the report and its events
func (m *MemoryStore) Save(_ context.Context, rep *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, rep)
	m.events = append(m.events, rep.Changes()...)
	rep.ClearChanges()
	return nil
}

// Events returns the recorded events
func (m *MemoryStore) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Event, len(m.events))
	copy(out, m.events)
	return out
}

// Len returns the number of stored reports
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}
