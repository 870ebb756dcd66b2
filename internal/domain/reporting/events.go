// Package reporting records user-submitted counterfeit reports and emits
// them as events for downstream investigation.
package reporting

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of report event
type EventType string

const (
	EventCounterfeitReported EventType = "CounterfeitReported"
)

// AggregateType names reports in the outbox
const AggregateType = "CounterfeitReport"

// Event is a report domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
	DeviceID      string          `json:"device_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: AggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// CounterfeitReportedData is the payload published for each report
type CounterfeitReportedData struct {
	ReportID   string    `json:"report_id"`
	Identifier string    `json:"identifier"`
	Status     string    `json:"status"`
	Location   string    `json:"location,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Role       string    `json:"role"`
	ReportedAt time.Time `json:"reported_at"`
}
