package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/mediverify/internal/domain/fraud"
	"github.com/drfirst/mediverify/internal/domain/verification"
)

// RegistryLoader reads product registry rows into classification records
type RegistryLoader struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRegistryLoader creates a registry loader
func NewRegistryLoader(pool *pgxpool.Pool, logger *zap.Logger) *RegistryLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistryLoader{pool: pool, logger: logger}
}

// Load returns every registry row. Rows with an unrecognized status are
// skipped so a bad row cannot poison the snapshot.
func (l *RegistryLoader) Load(ctx context.Context) ([]verification.Record, error) {
	ctx, span := otel.Tracer("registry-loader").Start(ctx, "registry_load")
	defer span.End()

	query := `
		SELECT identifier, status, COALESCE(name, ''), COALESCE(brand, ''),
		       COALESCE(batch, ''), COALESCE(expiry, '')
		FROM product_registry
	`
	rows, err := l.pool.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query registry: %w", err)
	}
	defer rows.Close()

	var records []verification.Record
	for rows.Next() {
		var rec verification.Record
		var status string
		if err := rows.Scan(&rec.Details.Identifier, &status, &rec.Details.Name,
			&rec.Details.Brand, &rec.Details.Batch, &rec.Details.Expiry); err != nil {
			return nil, fmt.Errorf("scan registry row: %w", err)
		}
		rec.Status = verification.Status(status)
		if !rec.Status.Valid() {
			l.logger.Warn("skipping registry row with invalid status",
				zap.String("identifier", rec.Details.Identifier),
				zap.String("status", status))
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("records", len(records)))
	return records, nil
}

// Upsert writes records, used to seed the demo catalog
func (l *RegistryLoader) Upsert(ctx context.Context, records []verification.Record) error {
	query := `
		INSERT INTO product_registry (identifier, status, name, brand, batch, expiry)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''))
		ON CONFLICT (identifier) DO UPDATE
		SET status = EXCLUDED.status, name = EXCLUDED.name, brand = EXCLUDED.brand,
		    batch = EXCLUDED.batch, expiry = EXCLUDED.expiry, updated_at = NOW()
	`
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range records {
		d := rec.Details
		if _, err := tx.Exec(ctx, query, d.Identifier, string(rec.Status), d.Name, d.Brand, d.Batch, d.Expiry); err != nil {
			return fmt.Errorf("upsert %s: %w", d.Identifier, err)
		}
	}
	return tx.Commit(ctx)
}

// IncidentSource reads fraud reference counts from fraud_incidents
type IncidentSource struct {
	pool *pgxpool.Pool
}

// NewIncidentSource creates an incident source
func NewIncidentSource(pool *pgxpool.Pool) *IncidentSource {
	return &IncidentSource{pool: pool}
}

// Incidents returns rows in insertion order
func (s *IncidentSource) Incidents(ctx context.Context) ([]fraud.Incident, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT location, lat, lng, count
		FROM fraud_incidents
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []fraud.Incident
	for rows.Next() {
		var inc fraud.Incident
		if err := rows.Scan(&inc.Location.Name, &inc.Location.Lat, &inc.Location.Lng, &inc.Count); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// SeedIncidents inserts incidents when the table is empty
func (s *IncidentSource) SeedIncidents(ctx context.Context, incidents []fraud.Incident) error {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM fraud_incidents").Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, inc := range incidents {
		if _, err := s.pool.Exec(ctx,
			"INSERT INTO fraud_incidents (location, lat, lng, count) VALUES ($1, $2, $3, $4)",
			inc.Location.Name, inc.Location.Lat, inc.Location.Lng, inc.Count); err != nil {
			return fmt.Errorf("seed %s: %w", inc.Location.Name, err)
		}
	}
	return nil
}
