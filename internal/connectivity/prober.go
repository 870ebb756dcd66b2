package connectivity

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CheckFunc reports an error when the upstream network is unreachable
type CheckFunc func(ctx context.Context) error

// Prober turns periodic reachability checks into monitor signals for hosts
// that do not deliver online/offline events themselves.
type Prober struct {
	monitor  *Monitor
	check    CheckFunc
	interval time.Duration
	logger   *zap.Logger
}

// NewProber creates a prober
func NewProber(monitor *Monitor, check CheckFunc, interval time.Duration, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Prober{monitor: monitor, check: check, interval: interval, logger: logger}
}

// Run probes until ctx is cancelled
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("connectivity prober started", zap.Duration("interval", p.interval))
	p.ProbeOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("connectivity prober stopped")
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce runs a single check and emits the matching signal
func (p *Prober) ProbeOnce(ctx context.Context) {
	if err := p.check(ctx); err != nil {
		p.logger.Debug("connectivity probe failed", zap.Error(err))
		p.monitor.Apply(SignalOffline)
		return
	}
	p.monitor.Apply(SignalOnline)
}
