package fraud

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func incident(name string, count int) Incident {
	return Incident{Location: Location{Name: name}, Count: count}
}

func names(as []Annotated) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.Location.Name
	}
	return out
}

func TestAggregate_Example(t *testing.T) {
	out, err := Aggregate([]Incident{incident("NY", 23), incident("LA", 18), incident("Chicago", 12)})
	require.NoError(t, err)

	assert.Equal(t, 23, out.MaxCount)
	assert.Equal(t, 1.0, out.Grid[0].Intensity)
	assert.Equal(t, TierHigh, out.Grid[0].Tier)
	assert.InDelta(t, 0.783, out.Grid[1].Intensity, 0.001)
	assert.Equal(t, TierHigh, out.Grid[1].Tier)
	assert.InDelta(t, 0.522, out.Grid[2].Intensity, 0.001)
	assert.Equal(t, TierMedium, out.Grid[2].Tier)
}

func TestAggregate_EmptyInput(t *testing.T) {
	out, err := Aggregate(nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Nil(t, out)

	_, err = Aggregate([]Incident{})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestAggregate_NegativeCount(t *testing.T) {
	_, err := Aggregate([]Incident{incident("A", 3), incident("B", -1)})
	assert.ErrorIs(t, err, ErrNegativeCount)
}

func TestAggregate_Properties(t *testing.T) {
	records, err := DefaultIncidents().Incidents(context.Background())
	require.NoError(t, err)

	out, err := Aggregate(records)
	require.NoError(t, err)

	for _, a := range out.Grid {
		assert.Greater(t, a.Intensity, 0.0)
		assert.LessOrEqual(t, a.Intensity, 1.0)
		if a.Count == out.MaxCount {
			assert.Equal(t, 1.0, a.Intensity)
			assert.Equal(t, TierHigh, a.Tier)
		}
	}
	assert.Equal(t, names(out.Grid), func() []string {
		n := make([]string, len(records))
		for i, r := range records {
			n[i] = r.Location.Name
		}
		return n
	}(), "grid keeps input order")

	for i := 1; i < len(out.Ranked); i++ {
		assert.GreaterOrEqual(t, out.Ranked[i-1].Count, out.Ranked[i].Count)
	}
}

func TestAggregate_StableTies(t *testing.T) {
	out, err := Aggregate([]Incident{
		incident("first", 5), incident("big", 10), incident("second", 5), incident("third", 5),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"big", "first", "second", "third"}, names(out.Ranked))
	assert.Equal(t, []string{"first", "big", "second", "third"}, names(out.Grid))
}

func TestAggregate_TiersAreRelative(t *testing.T) {
	small, err := Aggregate([]Incident{incident("X", 8), incident("Y", 10)})
	require.NoError(t, err)
	large, err := Aggregate([]Incident{incident("X", 8), incident("Y", 40)})
	require.NoError(t, err)

	assert.Equal(t, TierHigh, small.Grid[0].Tier)
	assert.Equal(t, TierLow, large.Grid[0].Tier)
}

func TestAggregate_AllZeroCountsTieAtMaximum(t *testing.T) {
	out, err := Aggregate([]Incident{incident("A", 0), incident("B", 0)})
	require.NoError(t, err)
	assert.Equal(t, 0, out.MaxCount)
	for _, a := range out.Grid {
		assert.Equal(t, 1.0, a.Intensity)
		assert.Equal(t, TierHigh, a.Tier)
	}
	assert.Equal(t, "A", out.Ranked[0].Location.Name)
}

func TestAggregate_DoesNotMutateInput(t *testing.T) {
	in := []Incident{incident("A", 1), incident("B", 9)}
	_, err := Aggregate(in)
	require.NoError(t, err)
	assert.Equal(t, "A", in[0].Location.Name)
}

func TestAggregate_Concurrent(t *testing.T) {
	records := []Incident(DefaultIncidents())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := Aggregate(records)
			assert.NoError(t, err)
			assert.Equal(t, "New York", out.Ranked[0].Location.Name)
		}()
	}
	wg.Wait()
}

func TestTierFor_Boundaries(t *testing.T) {
	tests := []struct {
		intensity float64
		want      Tier
	}{
		{1.0, TierHigh},
		{0.71, TierHigh},
		{0.7, TierMedium},
		{0.41, TierMedium},
		{0.4, TierLow},
		{0.0, TierLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.intensity), "intensity %v", tt.intensity)
	}
}

func TestPresentation(t *testing.T) {
	out, err := Aggregate([]Incident(DefaultIncidents()))
	require.NoError(t, err)

	s := Summarize(out, 4)
	assert.Equal(t, 113, s.TotalDetections)
	assert.Equal(t, 2, s.HighRisk)
	assert.Equal(t, 10, s.Locations)
	require.Len(t, s.Top, 4)
	assert.Equal(t, "New York", s.Top[0].Name)
	assert.Equal(t, 100.0, s.Top[0].BarPercent)
	assert.Equal(t, "Los Angeles", s.Top[1].Name)
	assert.Equal(t, "Miami", s.Top[2].Name)
	assert.Equal(t, "Chicago", s.Top[3].Name)

	assert.Len(t, Summarize(out, 50).Top, 10)

	assert.Equal(t, "██", DensityGlyph(0.9))
	assert.Equal(t, "▓▓", DensityGlyph(0.5))
	assert.Equal(t, "▒▒", DensityGlyph(0.3))
	assert.Equal(t, "░░", DensityGlyph(0.2))
	assert.InDelta(t, 15.0, MarkerRadius(25), 1e-9)

	style := StyleFor(out.Grid[0])
	assert.Equal(t, "#ff0000", style.Color)
	assert.Equal(t, 0.8, style.FillOpacity)
}
