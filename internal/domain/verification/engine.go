package verification

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ConnectivityReader exposes the current network state without blocking
type ConnectivityReader interface {
	Online() bool
}

// Recorder receives verdict observations, typically Prometheus metrics
type Recorder interface {
	ObserveVerdict(status string, duration time.Duration)
}

// Verdict is the outcome of one classification. Celebrate is an advisory
// presentation signal set only for genuine records.
type Verdict struct {
	Record
	Celebrate    bool      `json:"celebrate"`
	Online       bool      `json:"online"`
	ClassifiedAt time.Time `json:"classified_at"`
}

// Engine classifies decoded identifiers against a registry
type Engine struct {
	registry Registry
	conn     ConnectivityReader
	recorder Recorder
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithRecorder attaches a verdict recorder
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithClock overrides the verdict timestamp source
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a classification engine. conn may be nil, in which case
// the engine reports itself online.
func NewEngine(registry Registry, conn ConnectivityReader, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		registry: registry,
		conn:     conn,
		logger:   logger,
		tracer:   otel.Tracer("verification-engine"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Classify looks the identifier up exactly once and derives the verdict.
// It cannot fail: unregistered identifiers classify as unknown.
func (e *Engine) Classify(ctx context.Context, identifier string) Verdict {
	_, span := e.tracer.Start(ctx, "classify")
	defer span.End()

	start := time.Now()
	online := true
	if e.conn != nil {
		online = e.conn.Online()
	}

	rec := e.registry.Lookup(identifier)
	v := Verdict{
		Record:       rec,
		Celebrate:    rec.Status == StatusGenuine,
		Online:       online,
		ClassifiedAt: e.now(),
	}

	span.SetAttributes(
		attribute.String("status", string(rec.Status)),
		attribute.Bool("online", online),
	)
	if e.recorder != nil {
		e.recorder.ObserveVerdict(string(rec.Status), time.Since(start))
	}
	if rec.Status == StatusCounterfeit {
		e.logger.Warn("counterfeit identifier scanned",
			zap.String("identifier", identifier),
			zap.Bool("online", online))
	} else {
		e.logger.Debug("identifier classified",
			zap.String("identifier", identifier),
			zap.String("status", string(rec.Status)))
	}
	return v
}
