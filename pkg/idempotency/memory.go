package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	status Status
	result json.RawMessage
}

// MemoryInbox is an in-process Processor for deployments without a database.
// It follows the same admission rules as Inbox minus stale takeover.
type MemoryInbox struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryInbox creates an empty in-memory inbox
func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{entries: make(map[string]*memoryEntry)}
}

// Process executes fn once per key
func (m *MemoryInbox) Process(ctx context.Context, key, _ string, payload json.RawMessage, fn ProcessFunc) (*ProcessResult, error) {
	m.mu.Lock()
	var prior memoryEntry
	if e, ok := m.entries[key]; ok {
		prior = *e
	}
	var zero time.Time
	switch admit(prior.status, zero, 0, zero) {
	case replay:
		m.mu.Unlock()
		return &ProcessResult{Result: prior.result}, nil
	case refuseFailed:
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPreviouslyFailed, key)
	case refuseBusy:
		m.mu.Unlock()
		return nil, ErrMessageInProgress
	}
	m.entries[key] = &memoryEntry{status: StatusStarted}
	m.mu.Unlock()

	result, err := fn(ctx, payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.entries[key] = &memoryEntry{status: failureStatus(err)}
		return nil, err
	}
	m.entries[key] = &memoryEntry{status: StatusFinished, result: result}
	return &ProcessResult{IsNew: prior.status == "", WasRecovered: prior.status != "", Result: result}, nil
}
