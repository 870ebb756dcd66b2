package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/drfirst/mediverify/internal/domain/access"
	"github.com/drfirst/mediverify/pkg/circuitbreaker"
)

// KeyPrefix namespaces every key written by this service
const KeyPrefix = "mediverify:"

// RoleKV implements access.KV on redis. Keys are scoped to the device in the
// request context, e.g. mediverify:kiosk-1:userRole. Calls go through the
// breaker so a down redis degrades to the default role quickly.
type RoleKV struct {
	client  redis.Cmdable
	breaker *circuitbreaker.CircuitBreaker
}

// NewRoleKV creates a RoleKV. breaker may be nil.
func NewRoleKV(client redis.Cmdable, breaker *circuitbreaker.CircuitBreaker) *RoleKV {
	return &RoleKV{client: client, breaker: breaker}
}

func (k *RoleKV) key(ctx context.Context, key string) string {
	return KeyPrefix + access.ScopedKey(ctx, key)
}

func (k *RoleKV) run(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if k.breaker == nil {
		return fn()
	}
	return k.breaker.Execute(ctx, fn)
}

// Get returns the stored value; a missing key is not an error
func (k *RoleKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := k.run(ctx, func() (interface{}, error) {
		val, err := k.client.Get(ctx, k.key(ctx, key)).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return val, err
	})
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return v.(string), true, nil
}

// Set stores value without expiry
func (k *RoleKV) Set(ctx context.Context, key, value string) error {
	_, err := k.run(ctx, func() (interface{}, error) {
		return nil, k.client.Set(ctx, k.key(ctx, key), value, 0).Err()
	})
	return err
}

// Delete removes key
func (k *RoleKV) Delete(ctx context.Context, key string) error {
	_, err := k.run(ctx, func() (interface{}, error) {
		return nil, k.client.Del(ctx, k.key(ctx, key)).Err()
	})
	return err
}
