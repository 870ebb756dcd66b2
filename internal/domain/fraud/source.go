package fraud

import "context"

// Source supplies the incident reference data to aggregate
type Source interface {
	Incidents(ctx context.Context) ([]Incident, error)
}

// StaticSource serves a fixed incident set
type StaticSource []Incident

// Incidents returns a copy of the fixed set
func (s StaticSource) Incidents(context.Context) ([]Incident, error) {
	out := make([]Incident, len(s))
	copy(out, s)
	return out, nil
}

// DefaultIncidents is the reference hotspot set shipped with the service
func DefaultIncidents() StaticSource {
	return StaticSource{
		{Location: Location{Name: "New York", Lat: 40.7128, Lng: -74.006}, Count: 23},
		{Location: Location{Name: "Los Angeles", Lat: 34.0522, Lng: -118.2437}, Count: 18},
		{Location: Location{Name: "Chicago", Lat: 41.8781, Lng: -87.6298}, Count: 12},
		{Location: Location{Name: "Houston", Lat: 29.7604, Lng: -95.3698}, Count: 8},
		{Location: Location{Name: "Phoenix", Lat: 33.4484, Lng: -112.074}, Count: 5},
		{Location: Location{Name: "Miami", Lat: 25.7617, Lng: -80.1918}, Count: 14},
		{Location: Location{Name: "Boston", Lat: 42.3601, Lng: -71.0589}, Count: 9},
		{Location: Location{Name: "San Francisco", Lat: 37.7749, Lng: -122.4194}, Count: 11},
		{Location: Location{Name: "Seattle", Lat: 47.6062, Lng: -122.3321}, Count: 7},
		{Location: Location{Name: "Denver", Lat: 39.7392, Lng: -104.9903}, Count: 6},
	}
}
