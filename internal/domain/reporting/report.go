package reporting

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/mediverify/internal/domain/verification"
)

var (
	// ErrNotReportable is returned for verdicts that cannot be reported
	ErrNotReportable = errors.New("only counterfeit or unknown verdicts can be reported")
	// ErrMissingIdentifier is returned when a report has no identifier
	ErrMissingIdentifier = errors.New("report identifier is required")
)

// Submission is what a caller sends when flagging a product
type Submission struct {
	Identifier string              `json:"identifier"`
	Status     verification.Status `json:"status"`
	Location   string              `json:"location,omitempty"`
	Notes      string              `json:"notes,omitempty"`
}

// Report is a counterfeit report. Reports are informational: they are
// published for investigation and never change fraud reference counts.
type Report struct {
	id         string
	identifier string
	status     verification.Status
	location   string
	notes      string
	deviceID   string
	role       string
	reportedAt time.Time
	changes    []*Event
}

// NewReport validates a submission and records the reported event
func NewReport(sub Submission, deviceID, role string, now time.Time) (*Report, error) {
	if !verification.ValidIdentifier(sub.Identifier) {
		return nil, ErrMissingIdentifier
	}
	if sub.Status != verification.StatusCounterfeit && sub.Status != verification.StatusUnknown {
		return nil, fmt.Errorf("%w: %q", ErrNotReportable, sub.Status)
	}

	r := &Report{
		id:         uuid.New().String(),
		identifier: sub.Identifier,
		status:     sub.Status,
		location:   sub.Location,
		notes:      sub.Notes,
		deviceID:   deviceID,
		role:       role,
		reportedAt: now.UTC(),
	}

	event, err := NewEvent(r.id, EventCounterfeitReported, &CounterfeitReportedData{
		ReportID:   r.id,
		Identifier: r.identifier,
		Status:     string(r.status),
		Location:   r.location,
		Notes:      r.notes,
		Role:       r.role,
		ReportedAt: r.reportedAt,
	})
	if err != nil {
		return nil, err
	}
	event.DeviceID = deviceID
	r.changes = append(r.changes, event)
	return r, nil
}

// ID returns the report ID
func (r *Report) ID() string { return r.id }

// Identifier returns the reported product identifier
func (r *Report) Identifier() string { return r.identifier }

// Status returns the verdict status being reported
func (r *Report) Status() verification.Status { return r.status }

// Location returns the optional free-text location
func (r *Report) Location() string { return r.location }

// Notes returns the optional free-text notes
func (r *Report) Notes() string { return r.notes }

// DeviceID returns the reporting device
func (r *Report) DeviceID() string { return r.deviceID }

// Role returns the reporter's role at submission
func (r *Report) Role() string { return r.role }

// ReportedAt returns the submission time
func (r *Report) ReportedAt() time.Time { return r.reportedAt }

// Changes returns unpublished events
func (r *Report) Changes() []*Event { return r.changes }

// ClearChanges clears unpublished events
func (r *Report) ClearChanges() { r.changes = nil }
