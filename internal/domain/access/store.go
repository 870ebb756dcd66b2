package access

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// RoleKey is the persistence key holding the active role
const RoleKey = "userRole"

// ErrInvalidRole is returned when asked to store a value outside the role set
var ErrInvalidRole = errors.New("invalid role")

// KV is the string-keyed persistent store backing the role
type KV interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// FallbackRecorder counts reads that fell back to the default role
type FallbackRecorder interface {
	RoleFallback(reason string)
}

// RoleStore persists the caller's role. Reads never fail: missing, invalid or
// unreadable values resolve to DefaultRole. Only SetRole and ClearRole write.
type RoleStore struct {
	kv       KV
	logger   *zap.Logger
	recorder FallbackRecorder
}

// NewRoleStore creates a role store over kv
func NewRoleStore(kv KV, recorder FallbackRecorder, logger *zap.Logger) *RoleStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleStore{kv: kv, logger: logger, recorder: recorder}
}

// Role returns the active role
func (s *RoleStore) Role(ctx context.Context) Role {
	value, found, err := s.kv.Get(ctx, RoleKey)
	if err != nil {
		s.logger.Warn("role read failed, using default", zap.Error(err))
		s.fallback("read_error")
		return DefaultRole
	}
	if !found {
		return DefaultRole
	}
	role, ok := ParseRole(value)
	if !ok {
		s.logger.Warn("stored role is invalid, using default", zap.String("value", value))
		s.fallback("invalid_value")
		return DefaultRole
	}
	return role
}

// SetRole stores the selected role
func (s *RoleStore) SetRole(ctx context.Context, role Role) error {
	if _, ok := ParseRole(string(role)); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if err := s.kv.Set(ctx, RoleKey, string(role)); err != nil {
		return fmt.Errorf("store role: %w", err)
	}
	return nil
}

// ClearRole removes the stored role, returning the caller to DefaultRole
func (s *RoleStore) ClearRole(ctx context.Context) error {
	if err := s.kv.Delete(ctx, RoleKey); err != nil {
		return fmt.Errorf("clear role: %w", err)
	}
	return nil
}

func (s *RoleStore) fallback(reason string) {
	if s.recorder != nil {
		s.recorder.RoleFallback(reason)
	}
}

// MemoryKV is an in-process KV used by the CLI and tests. Keys are scoped to
// the device carried by the context.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryKV creates an empty in-memory KV
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

// Get returns the value for key
func (m *MemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[ScopedKey(ctx, key)]
	return v, ok, nil
}

// Set stores value under key
func (m *MemoryKV) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[ScopedKey(ctx, key)] = value
	return nil
}

// Delete removes key
func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, ScopedKey(ctx, key))
	return nil
}
