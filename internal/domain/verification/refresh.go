package verification

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Loader reads the full set of registry records from a backing source
type Loader interface {
	Load(ctx context.Context) ([]Record, error)
}

// LoaderFunc adapts a function to Loader
type LoaderFunc func(ctx context.Context) ([]Record, error)

// Load calls f
func (f LoaderFunc) Load(ctx context.Context) ([]Record, error) { return f(ctx) }

// DemoLoader serves the built-in demo catalog
var DemoLoader = LoaderFunc(func(context.Context) ([]Record, error) {
	return DemoRecords(), nil
})

// Refresher swaps fresh snapshots into a registry. A failed load leaves the
// current snapshot in place so lookups keep working.
type Refresher struct {
	loader   Loader
	registry *SnapshotRegistry
	logger   *zap.Logger
}

// NewRefresher creates a refresher for registry
func NewRefresher(loader Loader, registry *SnapshotRegistry, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{loader: loader, registry: registry, logger: logger}
}

// Refresh loads and installs a new snapshot
func (r *Refresher) Refresh(ctx context.Context) error {
	records, err := r.loader.Load(ctx)
	if err != nil {
		r.logger.Warn("registry refresh failed, keeping current snapshot",
			zap.Int("records", r.registry.Len()),
			zap.Error(err))
		return fmt.Errorf("load registry: %w", err)
	}
	r.registry.Replace(records)
	r.logger.Info("registry snapshot installed", zap.Int("records", len(records)))
	return nil
}
