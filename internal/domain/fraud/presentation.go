package fraud

import "math"

// HighRiskCount is the absolute count above which a location is flagged as
// high risk in summaries, independent of relative tiers.
const HighRiskCount = 15

// Style carries rendering hints derived from an annotated record
type Style struct {
	Glyph        string  `json:"glyph"`
	Color        string  `json:"color"`
	FillOpacity  float64 `json:"fill_opacity"`
	MarkerRadius float64 `json:"marker_radius"`
}

// StyleFor derives map marker and density-grid hints
func StyleFor(a Annotated) Style {
	s := Style{
		Glyph:        DensityGlyph(a.Intensity),
		MarkerRadius: MarkerRadius(a.Count),
	}
	switch a.Tier {
	case TierHigh:
		s.Color, s.FillOpacity = "#ff0000", 0.8
	case TierMedium:
		s.Color, s.FillOpacity = "#ff8800", 0.7
	default:
		s.Color, s.FillOpacity = "#ffff00", 0.6
	}
	return s
}

// DensityGlyph returns the block character pair for the text density map
func DensityGlyph(intensity float64) string {
	switch {
	case intensity > highThreshold:
		return "██"
	case intensity > mediumThreshold:
		return "▓▓"
	case intensity > 0.2:
		return "▒▒"
	default:
		return "░░"
	}
}

// MarkerRadius scales a map marker with the square root of the count
func MarkerRadius(count int) float64 {
	return math.Sqrt(float64(count)) * 3
}

// TopLocation is one row of the hotspot leaderboard
type TopLocation struct {
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	BarPercent float64 `json:"bar_percent"`
}

// Summary condenses an aggregation for dashboard headers
type Summary struct {
	TotalDetections int           `json:"total_detections"`
	HighRisk        int           `json:"high_risk_locations"`
	Locations       int           `json:"locations"`
	Top             []TopLocation `json:"top"`
}

// Summarize totals an aggregation and lists the top n ranked locations
func Summarize(out *Output, n int) Summary {
	s := Summary{Locations: len(out.Grid)}
	for _, a := range out.Grid {
		s.TotalDetections += a.Count
		if a.Count > HighRiskCount {
			s.HighRisk++
		}
	}
	if n > len(out.Ranked) || n < 0 {
		n = len(out.Ranked)
	}
	s.Top = make([]TopLocation, 0, n)
	for _, a := range out.Ranked[:n] {
		s.Top = append(s.Top, TopLocation{
			Name:       a.Location.Name,
			Count:      a.Count,
			BarPercent: a.Intensity * 100,
		})
	}
	return s
}
