package verification

import (
	"sync/atomic"
)

// Registry maps identifiers to classification records. Lookup never fails:
// a miss yields UnknownRecord(identifier).
type Registry interface {
	Lookup(identifier string) Record
}

// SnapshotRegistry serves lookups from an immutable in-memory snapshot.
// Replace swaps the whole snapshot; readers never observe a partial update.
type SnapshotRegistry struct {
	snapshot atomic.Pointer[map[string]Record]
}

// NewSnapshotRegistry creates a registry holding records keyed by their
// identifier.
func NewSnapshotRegistry(records []Record) *SnapshotRegistry {
	r := &SnapshotRegistry{}
	r.Replace(records)
	return r
}

// Lookup performs an exact-match lookup against the current snapshot
func (r *SnapshotRegistry) Lookup(identifier string) Record {
	snap := r.snapshot.Load()
	if snap != nil {
		if rec, ok := (*snap)[identifier]; ok {
			return rec
		}
	}
	return UnknownRecord(identifier)
}

// Replace installs a new snapshot built from records. Later duplicates win.
// Only genuine records keep product attributes; counterfeit and unknown
// records are reduced to their identifier.
func (r *SnapshotRegistry) Replace(records []Record) {
	snap := make(map[string]Record, len(records))
	for _, rec := range records {
		if rec.Status != StatusGenuine {
			rec.Details = Details{Identifier: rec.Details.Identifier}
		}
		snap[rec.Details.Identifier] = rec
	}
	r.snapshot.Store(&snap)
}

// Len returns the number of registered identifiers
func (r *SnapshotRegistry) Len() int {
	snap := r.snapshot.Load()
	if snap == nil {
		return 0
	}
	return len(*snap)
}
