// Package circuitbreaker guards calls to the role store and registry database.
// Breakers wrap sony/gobreaker, count calls through OpenTelemetry and report
// transitions to an optional hook.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State is a breaker position
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

func stateOf(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// call outcomes recorded on circuit_breaker_calls_total
const (
	outcomeSuccess  = "success"
	outcomeFailure  = "failure"
	outcomeRejected = "rejected"
)

// Config holds circuit breaker configuration
type Config struct {
	// Name identifies the guarded store
	Name string
	// MaxRequests is how many trial calls a half-open breaker lets through
	MaxRequests uint32
	// Interval clears closed-state counts; zero never clears
	Interval time.Duration
	// Timeout is how long the breaker stays open before a trial
	Timeout time.Duration
	// FailureThreshold trips on consecutive failures while traffic is below MinRequests
	FailureThreshold uint32
	// FailureRatio trips once at least MinRequests were seen
	FailureRatio float64
	MinRequests  uint32
	// OnStateChange is called after every transition, e.g. to export a gauge
	OnStateChange func(name string, to State)
}

// DefaultConfig returns defaults for backing stores on the request path.
// The open timeout is short so a recovered store is retried quickly.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.6,
		MinRequests:      10,
	}
}

func (c Config) readyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < c.MinRequests {
		return counts.ConsecutiveFailures >= c.FailureThreshold
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
}

// CircuitBreaker guards one backing store
type CircuitBreaker struct {
	name   string
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
	tracer trace.Tracer
	calls  metric.Int64Counter
	hook   func(name string, to State)
}

// New creates a circuit breaker
func New(cfg Config, logger *zap.Logger) (*CircuitBreaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	calls, err := otel.Meter("circuit-breaker").Int64Counter("circuit_breaker_calls_total",
		metric.WithDescription("Calls through a circuit breaker by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create call counter: %w", err)
	}

	b := &CircuitBreaker{
		name:   cfg.Name,
		logger: logger,
		tracer: otel.Tracer("circuit-breaker"),
		calls:  calls,
		hook:   cfg.OnStateChange,
	}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: cfg.readyToTrip,
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.transition(stateOf(from), stateOf(to))
		},
		// a caller giving up says nothing about the store
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return b, nil
}

// Execute runs fn unless the breaker is open
func (b *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	ctx, span := b.tracer.Start(ctx, "circuit_breaker.execute",
		trace.WithAttributes(
			attribute.String("breaker", b.name),
			attribute.String("state", string(b.State())),
		))
	defer span.End()

	v, err := b.cb.Execute(fn)

	outcome := outcomeSuccess
	switch {
	case IsOpenError(err):
		outcome = outcomeRejected
		span.SetAttributes(attribute.Bool("circuit_open", true))
	case err != nil:
		outcome = outcomeFailure
	}
	b.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", b.name),
		attribute.String("outcome", outcome)))

	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return v, nil
}

// Call runs fn through b and keeps its result type
func Call[T any](ctx context.Context, b *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	v, err := b.Execute(ctx, func() (interface{}, error) { return fn() })
	if err != nil {
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// State returns the current position
func (b *CircuitBreaker) State() State {
	return stateOf(b.cb.State())
}

// IsOpen reports whether calls are currently rejected
func (b *CircuitBreaker) IsOpen() bool {
	return b.State() == StateOpen
}

func (b *CircuitBreaker) transition(from, to State) {
	b.logger.Warn("circuit breaker state changed",
		zap.String("breaker", b.name),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	if b.hook != nil {
		b.hook(b.name, to)
	}
}

// IsOpenError reports whether err was returned because the breaker rejected the call
func IsOpenError(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Health is a breaker's readiness snapshot
type Health struct {
	Name     string `json:"name"`
	State    State  `json:"state"`
	Requests uint32 `json:"requests"`
	Failures uint32 `json:"failures"`
	Healthy  bool   `json:"healthy"`
}

// Group hands out one breaker per store, all built from the same base config
type Group struct {
	base   Config
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewGroup creates an empty group
func NewGroup(base Config, logger *zap.Logger) *Group {
	return &Group{
		base:     base,
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Breaker returns the breaker for name, creating it on first use
func (g *Group) Breaker(name string) (*CircuitBreaker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.breakers[name]; ok {
		return b, nil
	}
	cfg := g.base
	cfg.Name = name
	b, err := New(cfg, g.logger)
	if err != nil {
		return nil, err
	}
	g.breakers[name] = b
	return b, nil
}

// Health reports every breaker sorted by name. Only closed breakers are healthy.
func (g *Group) Health() []Health {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Health, 0, len(g.breakers))
	for name, b := range g.breakers {
		counts := b.cb.Counts()
		state := b.State()
		out = append(out, Health{
			Name:     name,
			State:    state,
			Requests: counts.Requests,
			Failures: counts.TotalFailures,
			Healthy:  state == StateClosed,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every breaker is closed
func (g *Group) Healthy() bool {
	for _, h := range g.Health() {
		if !h.Healthy {
			return false
		}
	}
	return true
}
