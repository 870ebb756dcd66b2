package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 15, 42, 0, time.UTC)

	a := GenerateKey("DEMO-FAKE-001", "kiosk-1", "Miami", ts)
	b := GenerateKey("DEMO-FAKE-001", "kiosk-1", "Miami", ts.Add(10*time.Second))
	c := GenerateKey("DEMO-FAKE-001", "kiosk-2", "Miami", ts)

	assert.Equal(t, a, b, "same minute yields same key")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestMemoryInbox_ProcessesOnce(t *testing.T) {
	inbox := NewMemoryInbox()
	ctx := context.Background()
	calls := 0
	fn := func(context.Context, json.RawMessage) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"report_id":"r-1"}`), nil
	}

	first, err := inbox.Process(ctx, "k", "report", nil, fn)
	require.NoError(t, err)
	assert.True(t, first.IsNew)

	second, err := inbox.Process(ctx, "k", "report", nil, fn)
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.JSONEq(t, `{"report_id":"r-1"}`, string(second.Result))
	assert.Equal(t, 1, calls)
}

func TestMemoryInbox_FailureHandling(t *testing.T) {
	inbox := NewMemoryInbox()
	ctx := context.Background()

	_, err := inbox.Process(ctx, "transient", "report", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("connection reset")
	})
	require.Error(t, err)

	res, err := inbox.Process(ctx, "transient", "report", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	require.NoError(t, err)
	assert.True(t, res.WasRecovered)

	_, err = inbox.Process(ctx, "terminal", "report", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, Permanent(errors.New("identifier is required"))
	})
	require.Error(t, err)
	_, err = inbox.Process(ctx, "terminal", "report", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		t.Fatal("terminal failures must not be retried")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrPreviouslyFailed)
}

func TestFailureStatus(t *testing.T) {
	transient := errors.New("store report: conn closed: invalid state after timeout")
	assert.Equal(t, StatusRecoverable, failureStatus(transient))
	assert.Equal(t, StatusRecoverable, failureStatus(fmt.Errorf("save: %w", errors.New("validation timeout"))))

	cause := errors.New("report identifier is required")
	permanent := fmt.Errorf("process: %w", Permanent(cause))
	assert.Equal(t, StatusFailed, failureStatus(permanent))
	assert.ErrorIs(t, permanent, cause)
	assert.NoError(t, Permanent(nil))
}

func TestMemoryInbox_TransientTextIsRetried(t *testing.T) {
	inbox := NewMemoryInbox()
	ctx := context.Background()

	_, err := inbox.Process(ctx, "k", "report", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("store report: conn closed: invalid state after timeout")
	})
	require.Error(t, err)

	res, err := inbox.Process(ctx, "k", "report", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	require.NoError(t, err)
	assert.True(t, res.WasRecovered)
}

func TestAdmit(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	stale := 5 * time.Minute

	tests := []struct {
		name    string
		status  Status
		touched time.Time
		want    verdict
	}{
		{"unseen key", "", time.Time{}, runFresh},
		{"finished replays", StatusFinished, now, replay},
		{"failed is refused", StatusFailed, now, refuseFailed},
		{"recoverable runs again", StatusRecoverable, now, runRetry},
		{"fresh claim is busy", StatusStarted, now.Add(-time.Minute), refuseBusy},
		{"stale claim is taken over", StatusStarted, now.Add(-10 * time.Minute), runRetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, admit(tt.status, tt.touched, stale, now))
		})
	}

	assert.Equal(t, refuseBusy, admit(StatusStarted, now.Add(-time.Hour), 0, now))
}

func TestInboxStats_Total(t *testing.T) {
	s := InboxStats{Started: 1, Finished: 5, Recoverable: 2, Failed: 1}
	assert.Equal(t, int64(9), s.Total())
}
