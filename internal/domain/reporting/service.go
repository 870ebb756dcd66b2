package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/mediverify/pkg/idempotency"
)

// ErrDuplicateReport is returned when a key is still being processed
var ErrDuplicateReport = errors.New("report with this idempotency key is in progress")

const handlerName = "counterfeit-report"

// Recorder counts accepted reports
type Recorder interface {
	ReportAccepted(status string)
}

// Receipt is returned to the reporter
type Receipt struct {
	ReportID       string `json:"report_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Duplicate      bool   `json:"duplicate"`
}

// Service accepts reports exactly once per idempotency key
type Service struct {
	store    Store
	inbox    idempotency.Processor
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a report service
func NewService(store Store, inbox idempotency.Processor, recorder Recorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		inbox:    inbox,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Submit validates and stores a report. An empty key is derived from the
// submission so accidental double taps within a minute collapse. Caller
// keys are scoped to the submitting device.
func (s *Service) Submit(ctx context.Context, key, deviceID, role string, sub Submission) (*Receipt, error) {
	now := s.now()
	inboxKey := scopedKey(deviceID, key)
	if key == "" {
		key = idempotency.GenerateKey(sub.Identifier, deviceID, sub.Location, now)
		inboxKey = key
	}

	// validate before touching the inbox so bad input never consumes a key
	if _, err := NewReport(sub, deviceID, role, now); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("encode submission: %w", err)
	}

	res, err := s.inbox.Process(ctx, inboxKey, handlerName, payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		rep, err := NewReport(sub, deviceID, role, now)
		if err != nil {
			return nil, idempotency.Permanent(err)
		}
		if err := s.store.Save(ctx, rep); err != nil {
			return nil, err
		}
		return json.Marshal(Receipt{ReportID: rep.ID(), IdempotencyKey: key})
	})
	if err != nil {
		if errors.Is(err, idempotency.ErrMessageInProgress) || errors.Is(err, idempotency.ErrDuplicateMessage) {
			return nil, ErrDuplicateReport
		}
		return nil, fmt.Errorf("process report: %w", err)
	}

	var receipt Receipt
	if err := json.Unmarshal(res.Result, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	receipt.Duplicate = !res.IsNew && !res.WasRecovered

	if !receipt.Duplicate {
		if s.recorder != nil {
			s.recorder.ReportAccepted(string(sub.Status))
		}
		s.logger.Info("counterfeit report accepted",
			zap.String("report_id", receipt.ReportID),
			zap.String("identifier", sub.Identifier),
			zap.String("device", deviceID))
	}
	return &receipt, nil
}

// scopedKey namespaces a caller key by device so two devices reusing the
// same key never collide.
func scopedKey(deviceID, key string) string {
	return "device:" + deviceID + ":" + key
}
