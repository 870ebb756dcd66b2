// Package connectivity tracks online/offline transitions signalled by the
// host environment.
package connectivity

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Signal is an inbound network transition notification
type Signal string

const (
	SignalOnline  Signal = "online"
	SignalOffline Signal = "offline"
)

// ParseSignal validates a signal name
func ParseSignal(s string) (Signal, bool) {
	switch sig := Signal(s); sig {
	case SignalOnline, SignalOffline:
		return sig, true
	}
	return "", false
}

// Listener is called after the state actually changes
type Listener func(online bool)

// Monitor owns the process-wide connectivity state. It is the only writer;
// every other component reads through Online.
type Monitor struct {
	online atomic.Bool
	logger *zap.Logger

	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
}

// NewMonitor creates a monitor with the given initial state
func NewMonitor(initiallyOnline bool, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		logger:    logger,
		listeners: make(map[int]Listener),
	}
	m.online.Store(initiallyOnline)
	return m
}

// Online returns the current state
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// BecameOnline applies an online signal
func (m *Monitor) BecameOnline() { m.set(true) }

// BecameOffline applies an offline signal
func (m *Monitor) BecameOffline() { m.set(false) }

// Apply dispatches a parsed signal
func (m *Monitor) Apply(sig Signal) {
	switch sig {
	case SignalOnline:
		m.BecameOnline()
	case SignalOffline:
		m.BecameOffline()
	}
}

// Subscribe registers a listener and returns a function that removes it
func (m *Monitor) Subscribe(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// set is idempotent: repeating the current state notifies nobody
func (m *Monitor) set(online bool) {
	if m.online.Swap(online) == online {
		return
	}

	m.logger.Info("connectivity changed", zap.Bool("online", online))

	m.mu.Lock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(online)
	}
}
