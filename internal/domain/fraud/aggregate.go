// Package fraud ranks counterfeit incident counts by location and derives
// relative severity for dashboards.
package fraud

import (
	"errors"
	"fmt"
	"sort"
)

// ErrEmptyInput is returned when aggregating zero incident records
var ErrEmptyInput = errors.New("no incident records to aggregate")

// ErrNegativeCount is returned for records with a count below zero
var ErrNegativeCount = errors.New("incident count must be non-negative")

// Tier is a severity bucket relative to the current batch
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

const (
	highThreshold   = 0.7
	mediumThreshold = 0.4
)

// TierFor maps an intensity to its tier
func TierFor(intensity float64) Tier {
	switch {
	case intensity > highThreshold:
		return TierHigh
	case intensity > mediumThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

// Location is where incidents were reported
type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// Incident is a reference count of counterfeit detections at a location
type Incident struct {
	Location Location `json:"location"`
	Count    int      `json:"count"`
}

// Annotated is an incident with its derived intensity and tier
type Annotated struct {
	Incident
	Intensity float64 `json:"intensity"`
	Tier      Tier    `json:"tier"`
}

// Output holds both views of an aggregation
type Output struct {
	MaxCount int `json:"max_count"`
	// Grid keeps input order
	Grid []Annotated `json:"grid"`
	// Ranked is sorted by count descending, ties in input order
	Ranked []Annotated `json:"ranked"`
}

// Aggregate computes intensity = count/maxCount and tiers for every record.
// It reads records without modifying them and keeps no state, so concurrent
// callers are safe.
func Aggregate(records []Incident) (*Output, error) {
	if len(records) == 0 {
		return nil, ErrEmptyInput
	}

	maxCount := 0
	for i, r := range records {
		if r.Count < 0 {
			return nil, fmt.Errorf("%w: %s at index %d", ErrNegativeCount, r.Location.Name, i)
		}
		if r.Count > maxCount {
			maxCount = r.Count
		}
	}

	grid := make([]Annotated, len(records))
	for i, r := range records {
		// with all counts zero every record ties the maximum
		intensity := 1.0
		if maxCount > 0 {
			intensity = float64(r.Count) / float64(maxCount)
		}
		grid[i] = Annotated{Incident: r, Intensity: intensity, Tier: TierFor(intensity)}
	}

	ranked := make([]Annotated, len(grid))
	copy(ranked, grid)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})

	return &Output{MaxCount: maxCount, Grid: grid, Ranked: ranked}, nil
}
