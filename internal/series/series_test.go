package series

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ducroq/energydash/internal/source"
	"github.com/ducroq/energydash/internal/timerange"
)

func day(d, h int) time.Time {
	return time.Date(2026, 6, d, h, 0, 0, 0, time.UTC)
}

var testWindow = timerange.Window{Start: day(10, 0), End: day(11, 0)}

func TestBuildWindowBoundaries(t *testing.T) {
	src := source.Series{
		ID:          "entsoe",
		DisplayName: "ENTSO-E",
		Color:       "#1f77b4",
		Points: []source.PricePoint{
			{Instant: day(9, 23), Price: 1},  // before start
			{Instant: day(10, 0), Price: 2},  // start inclusive
			{Instant: day(10, 23), Price: 3}, // inside
			{Instant: day(11, 0), Price: 4},  // end exclusive
		},
	}

	marker := day(10, 12)
	chart := Build([]source.Series{src}, testWindow, marker, Options{})

	require.Equal(t, marker, chart.Marker)
	require.Len(t, chart.Traces, 1)
	tr := chart.Traces[0]
	require.Equal(t, "entsoe", tr.ID)
	require.Equal(t, "ENTSO-E", tr.Name)
	require.Equal(t, []time.Time{day(10, 0), day(10, 23)}, tr.X)
	require.Equal(t, []float64{2, 3}, tr.Y)
}

func TestBuildSortsUnorderedPoints(t *testing.T) {
	src := source.Series{
		ID: "s",
		Points: []source.PricePoint{
			{Instant: day(10, 14), Price: 30},
			{Instant: day(10, 10), Price: 10},
			{Instant: day(10, 12), Price: 20},
		},
	}
	chart := Build([]source.Series{src}, testWindow, day(10, 12), Options{})
	require.Equal(t, []float64{10, 20, 30}, chart.Traces[0].Y)
}

func TestBuildDropsSourcesEmptyAfterFiltering(t *testing.T) {
	sources := []source.Series{
		{ID: "stale", Points: []source.PricePoint{{Instant: day(1, 0), Price: 5}}},
		{ID: "fresh", Points: []source.PricePoint{{Instant: day(10, 8), Price: 7}}},
	}
	chart := Build(sources, testWindow, day(10, 12), Options{})
	require.Len(t, chart.Traces, 1)
	require.Equal(t, "fresh", chart.Traces[0].ID)
}

func TestBuildEmptyWindowYieldsEmptyChart(t *testing.T) {
	chart := Build(nil, testWindow, day(10, 12), Options{})
	require.Empty(t, chart.Traces)
	require.Equal(t, day(10, 12), chart.Marker)

	// Building again over nothing stays empty; the state is terminal, not
	// an error.
	again := Build(chart.tracesAsSources(), testWindow, day(10, 12), Options{})
	require.Empty(t, again.Traces)
}

func TestStitchLiveWidensOnlyTheLiveTrace(t *testing.T) {
	sources := []source.Series{
		{
			ID:   "forecast",
			Points: []source.PricePoint{
				{Instant: day(9, 18), Price: 1},
				{Instant: day(10, 6), Price: 2},
			},
		},
		{
			ID:   "live",
			Live: true,
			Points: []source.PricePoint{
				{Instant: day(9, 18), Price: 3},
				{Instant: day(10, 6), Price: 4},
			},
		},
	}

	chart := Build(sources, testWindow, day(10, 12), Options{StitchLive: true})
	require.Len(t, chart.Traces, 2)

	// The forecast trace is still clipped to the window; the live trace
	// carries the previous day's tail.
	require.Equal(t, []float64{2}, chart.Traces[0].Y)
	require.Equal(t, []float64{3, 4}, chart.Traces[1].Y)
}

// tracesAsSources converts a chart back into source series, used to verify
// the empty build is idempotent.
func (c Chart) tracesAsSources() []source.Series {
	out := make([]source.Series, 0, len(c.Traces))
	for _, tr := range c.Traces {
		s := source.Series{ID: tr.ID, DisplayName: tr.Name, Color: tr.Color, Live: tr.Live}
		for i := range tr.X {
			s.Points = append(s.Points, source.PricePoint{Instant: tr.X[i], Price: tr.Y[i]})
		}
		out = append(out, s)
	}
	return out
}
