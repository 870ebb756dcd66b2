package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/mediverify/internal/domain/verification"
	"github.com/drfirst/mediverify/pkg/idempotency"
)

type statusCounter map[string]int

func (s statusCounter) ReportAccepted(status string) { s[status]++ }

type failingStore struct{}

func (failingStore) Save(context.Context, *Report) error { return errors.New("connection refused") }

func TestNewReport(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	rep, err := NewReport(Submission{Identifier: "DEMO-FAKE-001", Status: verification.StatusCounterfeit, Location: "Miami"}, "kiosk-1", "pharmacy", now)
	require.NoError(t, err)
	require.Len(t, rep.Changes(), 1)

	ev := rep.Changes()[0]
	assert.Equal(t, EventCounterfeitReported, ev.EventType)
	assert.Equal(t, rep.ID(), ev.AggregateID)
	assert.Equal(t, "kiosk-1", ev.DeviceID)

	var data CounterfeitReportedData
	require.NoError(t, json.Unmarshal(ev.EventData, &data))
	assert.Equal(t, "DEMO-FAKE-001", data.Identifier)
	assert.Equal(t, "counterfeit", data.Status)
	assert.Equal(t, now, data.ReportedAt)

	_, err = NewReport(Submission{Identifier: "DEMO-GEN-001", Status: verification.StatusGenuine}, "", "patient", now)
	assert.ErrorIs(t, err, ErrNotReportable)

	_, err = NewReport(Submission{Status: verification.StatusUnknown}, "", "patient", now)
	assert.ErrorIs(t, err, ErrMissingIdentifier)
}

func TestService_SubmitOnce(t *testing.T) {
	store := NewMemoryStore()
	counter := statusCounter{}
	svc := NewService(store, idempotency.NewMemoryInbox(), counter, nil)
	ctx := context.Background()
	sub := Submission{Identifier: "DEMO-UNKNOWN-001", Status: verification.StatusUnknown}

	first, err := svc.Submit(ctx, "key-1", "phone-7", "patient", sub)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.NotEmpty(t, first.ReportID)

	second, err := svc.Submit(ctx, "key-1", "phone-7", "patient", sub)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ReportID, second.ReportID)

	assert.Equal(t, 1, store.Len())
	assert.Len(t, store.Events(), 1)
	assert.Equal(t, 1, counter["unknown"])
}

func TestService_DerivesKey(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, idempotency.NewMemoryInbox(), nil, nil)
	fixed := time.Date(2026, 5, 1, 12, 0, 5, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	sub := Submission{Identifier: "DEMO-FAKE-002", Status: verification.StatusCounterfeit}
	a, err := svc.Submit(context.Background(), "", "kiosk-1", "admin", sub)
	require.NoError(t, err)
	b, err := svc.Submit(context.Background(), "", "kiosk-1", "admin", sub)
	require.NoError(t, err)

	assert.Equal(t, a.IdempotencyKey, b.IdempotencyKey)
	assert.True(t, b.Duplicate)
	assert.Equal(t, 1, store.Len())
}

func TestService_Errors(t *testing.T) {
	svc := NewService(failingStore{}, idempotency.NewMemoryInbox(), nil, nil)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "k", "", "patient", Submission{Identifier: "X", Status: verification.StatusGenuine})
	assert.ErrorIs(t, err, ErrNotReportable)

	_, err = svc.Submit(ctx, "k", "", "patient", Submission{Identifier: "X", Status: verification.StatusCounterfeit})
	assert.ErrorContains(t, err, "connection refused")
}

func TestService_KeysAreScopedPerDevice(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, idempotency.NewMemoryInbox(), nil, nil)
	ctx := context.Background()
	sub := Submission{Identifier: "DEMO-FAKE-001", Status: verification.StatusCounterfeit}

	a, err := svc.Submit(ctx, "shared-key", "kiosk-1", "pharmacy", sub)
	require.NoError(t, err)
	b, err := svc.Submit(ctx, "shared-key", "kiosk-2", "pharmacy", sub)
	require.NoError(t, err)

	assert.False(t, a.Duplicate)
	assert.False(t, b.Duplicate)
	assert.NotEqual(t, a.ReportID, b.ReportID)
	assert.Equal(t, "shared-key", b.IdempotencyKey)
	assert.Equal(t, 2, store.Len())

	again, err := svc.Submit(ctx, "shared-key", "kiosk-2", "pharmacy", sub)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, b.ReportID, again.ReportID)
}
