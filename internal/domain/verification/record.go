// Package verification implements registry lookup, verdict classification and
// scan sessions for medicine authenticity checks.
package verification

// Status represents a registry classification
type Status string

const (
	StatusGenuine     Status = "genuine"
	StatusCounterfeit Status = "counterfeit"
	StatusUnknown     Status = "unknown"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusGenuine, StatusCounterfeit, StatusUnknown:
		return true
	}
	return false
}

// Details holds the attributes stored for a registered product.
// Genuine records carry all fields; the others carry only Identifier.
type Details struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name,omitempty"`
	Brand      string `json:"brand,omitempty"`
	Batch      string `json:"batch,omitempty"`
	Expiry     string `json:"expiry,omitempty"`
}

// Record is a classification record. It is passed by value so a retrieved
// record can never alter the registry snapshot it came from.
type Record struct {
	Status  Status  `json:"status"`
	Details Details `json:"details"`
}

// UnknownRecord synthesizes the record returned for identifiers absent from
// the registry.
func UnknownRecord(identifier string) Record {
	return Record{
		Status:  StatusUnknown,
		Details: Details{Identifier: identifier},
	}
}

// ValidIdentifier reports whether a decoded string is usable as a lookup key.
// No trimming or case folding is applied.
func ValidIdentifier(identifier string) bool {
	return identifier != ""
}
