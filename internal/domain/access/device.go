package access

import "context"

// DefaultDevice scopes role storage when a caller does not identify itself
const DefaultDevice = "default"

type deviceKey struct{}

// WithDevice returns a context carrying the caller's device identifier
func WithDevice(ctx context.Context, device string) context.Context {
	if device == "" {
		return ctx
	}
	return context.WithValue(ctx, deviceKey{}, device)
}

// DeviceFromContext returns the device identifier, or DefaultDevice
func DeviceFromContext(ctx context.Context) string {
	if d, ok := ctx.Value(deviceKey{}).(string); ok && d != "" {
		return d
	}
	return DefaultDevice
}

// ScopedKey namespaces key to the device in ctx
func ScopedKey(ctx context.Context, key string) string {
	return DeviceFromContext(ctx) + ":" + key
}
