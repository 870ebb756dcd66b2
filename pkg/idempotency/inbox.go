// Package idempotency runs report submissions at most once per key.
// Keys are either caller supplied or derived as Hash(Identifier+Device+Location+Timestamp).
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a key
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
	StatusFailed      Status = "FAILED"
)

var (
	// ErrDuplicateMessage is returned when another caller claimed the key first
	ErrDuplicateMessage = errors.New("duplicate message: already processed")
	// ErrMessageInProgress is returned while a fresh claim on the key is running
	ErrMessageInProgress = errors.New("message in progress by another handler")
	// ErrPreviouslyFailed is returned for keys whose handler failed permanently
	ErrPreviouslyFailed = errors.New("message previously failed permanently")
	// ErrPermanent marks handler errors that must never be retried. Wrap with
	// Permanent; anything else leaves the key retryable.
	ErrPermanent = errors.New("permanent failure")
)

type permanentError struct{ err error }

func (e permanentError) Error() string        { return e.err.Error() }
func (e permanentError) Unwrap() error        { return e.err }
func (e permanentError) Is(target error) bool { return target == ErrPermanent }

// Permanent marks err so the key is settled as FAILED instead of RECOVERABLE.
// errors.Is still matches the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// failureStatus settles a failed attempt
func failureStatus(err error) Status {
	if errors.Is(err, ErrPermanent) {
		return StatusFailed
	}
	return StatusRecoverable
}

// ProcessResult describes how a key was served
type ProcessResult struct {
	IsNew        bool
	WasRecovered bool
	Result       json.RawMessage
}

// ProcessFunc is the guarded handler
type ProcessFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Processor runs handlers at most once per key
type Processor interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn ProcessFunc) (*ProcessResult, error)
}

// verdict is what a new request does with an existing key
type verdict int

const (
	runFresh verdict = iota
	runRetry
	replay
	refuseFailed
	refuseBusy
)

// admit decides how a request for a key in state s, last touched at touched,
// is served. An empty s means the key has never been seen. A STARTED claim
// older than staleAfter is taken over; staleAfter <= 0 never takes over.
func admit(s Status, touched time.Time, staleAfter time.Duration, now time.Time) verdict {
	switch s {
	case "":
		return runFresh
	case StatusFinished:
		return replay
	case StatusFailed:
		return refuseFailed
	case StatusStarted:
		if staleAfter > 0 && now.Sub(touched) > staleAfter {
			return runRetry
		}
		return refuseBusy
	default:
		return runRetry
	}
}

// GenerateKey creates a deterministic idempotency key for a report when the
// caller did not supply one
func GenerateKey(identifier, deviceID, location string, timestamp time.Time) string {
	// minute granularity absorbs clock drift between double taps
	minute := timestamp.UTC().Truncate(time.Minute).Format(time.RFC3339)
	sum := sha256.Sum256([]byte(strings.Join([]string{identifier, deviceID, location, minute}, "|")))
	return hex.EncodeToString(sum[:])
}

// InboxConfig holds configuration for the inbox
type InboxConfig struct {
	// TTL bounds how long a key is remembered
	TTL time.Duration
	// SweepInterval is how often expired keys are dropped and stale claims released
	SweepInterval time.Duration
	// StaleAfter is when a STARTED claim is considered abandoned
	StaleAfter time.Duration
	// OnStats receives key counts after every sweep
	OnStats func(InboxStats)
}

// DefaultInboxConfig returns sensible defaults
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		TTL:           7 * 24 * time.Hour,
		SweepInterval: time.Hour,
		StaleAfter:    5 * time.Minute,
	}
}

// InboxStats counts keys by status
type InboxStats struct {
	Started     int64
	Finished    int64
	Recoverable int64
	Failed      int64
}

// Total returns the number of remembered keys
func (s InboxStats) Total() int64 {
	return s.Started + s.Finished + s.Recoverable + s.Failed
}

// Inbox is the Postgres-backed Processor shared by every API replica
type Inbox struct {
	pool   *pgxpool.Pool
	config InboxConfig
	logger *zap.Logger
	tracer trace.Tracer

	stop chan struct{}
	done chan struct{}
}

// NewInbox creates a Postgres inbox
func NewInbox(pool *pgxpool.Pool, cfg InboxConfig, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{
		pool:   pool,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("idempotency"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

type keyState struct {
	status  Status
	result  json.RawMessage
	touched time.Time
}

// Process runs fn unless key was already served
func (i *Inbox) Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn ProcessFunc) (*ProcessResult, error) {
	ctx, span := i.tracer.Start(ctx, "idempotency.process",
		trace.WithAttributes(
			attribute.String("idempotency_key", key),
			attribute.String("handler", handlerName),
		))
	defer span.End()

	prior, err := i.state(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("inbox lookup: %w", err)
	}

	switch admit(prior.status, prior.touched, i.config.StaleAfter, time.Now()) {
	case replay:
		span.SetAttributes(attribute.Bool("duplicate", true))
		return &ProcessResult{Result: prior.result}, nil
	case refuseFailed:
		return nil, fmt.Errorf("%w: %s", ErrPreviouslyFailed, key)
	case refuseBusy:
		return nil, ErrMessageInProgress
	case runRetry:
		span.SetAttributes(attribute.Bool("recovered", true))
	}

	if err := i.claim(ctx, key, handlerName, payload); err != nil {
		return nil, err
	}

	result, runErr := fn(ctx, payload)
	if runErr != nil {
		body, _ := json.Marshal(map[string]string{"error": runErr.Error()})
		if err := i.settle(ctx, key, failureStatus(runErr), body); err != nil {
			i.logger.Error("failed to settle failed key", zap.String("key", key), zap.Error(err))
		}
		span.RecordError(runErr)
		return nil, runErr
	}

	// the handler's side effects are committed; a lost FINISHED mark only
	// costs a retry after StaleAfter
	if err := i.settle(ctx, key, StatusFinished, result); err != nil {
		i.logger.Error("failed to settle finished key", zap.String("key", key), zap.Error(err))
	}

	return &ProcessResult{
		IsNew:        prior.status == "",
		WasRecovered: prior.status != "",
		Result:       result,
	}, nil
}

func (i *Inbox) state(ctx context.Context, key string) (keyState, error) {
	var s keyState
	err := i.pool.QueryRow(ctx,
		`SELECT status, result, updated_at FROM inbox WHERE idempotency_key = $1`, key,
	).Scan(&s.status, &s.result, &s.touched)
	if errors.Is(err, pgx.ErrNoRows) {
		return keyState{}, nil
	}
	return s, err
}

// claim marks key STARTED. Only new, recoverable or stale keys can be
// claimed, so two racing replicas cannot both run the handler.
func (i *Inbox) claim(ctx context.Context, key, handlerName string, payload json.RawMessage) error {
	query := `
		INSERT INTO inbox (idempotency_key, handler_name, status, payload, expires_at)
		VALUES ($1, $2, 'STARTED', $3, NOW() + make_interval(secs => $4))
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = 'STARTED', updated_at = NOW()
		WHERE inbox.status = 'RECOVERABLE'
		   OR (inbox.status = 'STARTED' AND inbox.updated_at < NOW() - make_interval(secs => $5))
		RETURNING idempotency_key
	`
	var claimed string
	err := i.pool.QueryRow(ctx, query, key, handlerName, payload,
		i.config.TTL.Seconds(), i.config.StaleAfter.Seconds(),
	).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicateMessage
	}
	if err != nil {
		return fmt.Errorf("claim key: %w", err)
	}
	return nil
}

func (i *Inbox) settle(ctx context.Context, key string, status Status, result json.RawMessage) error {
	_, err := i.pool.Exec(ctx,
		`UPDATE inbox SET status = $1, result = $2, updated_at = NOW() WHERE idempotency_key = $3`,
		status, result, key)
	return err
}

// Start runs the sweep loop until Stop
func (i *Inbox) Start() {
	go i.sweepLoop()
	i.logger.Info("inbox sweep started", zap.Duration("interval", i.config.SweepInterval))
}

// Stop ends the sweep loop
func (i *Inbox) Stop() {
	close(i.stop)
	<-i.done
	i.logger.Info("inbox stopped")
}

func (i *Inbox) sweepLoop() {
	defer close(i.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-i.stop
		cancel()
	}()

	ticker := time.NewTicker(i.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := i.Sweep(ctx); err != nil {
				i.logger.Error("inbox sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep drops expired keys, releases stale claims and reports counts to
// OnStats.
func (i *Inbox) Sweep(ctx context.Context) error {
	tag, err := i.pool.Exec(ctx, `DELETE FROM inbox WHERE expires_at < NOW()`)
	if err != nil {
		return fmt.Errorf("expire keys: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		i.logger.Info("expired inbox keys", zap.Int64("deleted", n))
	}

	released, err := i.ReleaseStale(ctx)
	if err != nil {
		return err
	}
	if released > 0 {
		i.logger.Warn("released stale inbox claims", zap.Int64("count", released))
	}

	if i.config.OnStats == nil {
		return nil
	}
	stats, err := i.Stats(ctx)
	if err != nil {
		return err
	}
	i.config.OnStats(stats)
	return nil
}

// ReleaseStale turns STARTED claims older than StaleAfter into RECOVERABLE
// keys so the next request for them runs again.
func (i *Inbox) ReleaseStale(ctx context.Context) (int64, error) {
	tag, err := i.pool.Exec(ctx, `
		UPDATE inbox
		SET status = 'RECOVERABLE', updated_at = NOW()
		WHERE status = 'STARTED'
		  AND updated_at < NOW() - make_interval(secs => $1)
	`, i.config.StaleAfter.Seconds())
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats counts remembered keys by status
func (i *Inbox) Stats(ctx context.Context) (InboxStats, error) {
	var s InboxStats
	err := i.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'STARTED'),
			COUNT(*) FILTER (WHERE status = 'FINISHED'),
			COUNT(*) FILTER (WHERE status = 'RECOVERABLE'),
			COUNT(*) FILTER (WHERE status = 'FAILED')
		FROM inbox
	`).Scan(&s.Started, &s.Finished, &s.Recoverable, &s.Failed)
	if err != nil {
		return InboxStats{}, fmt.Errorf("inbox stats: %w", err)
	}
	return s, nil
}
