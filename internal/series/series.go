// Package series filters normalized sources to the active window, sorts
// them, and assembles the trace set handed to the rendering sink.
package series

import (
	"sort"
	"time"

	"github.com/ducroq/energydash/internal/source"
	"github.com/ducroq/energydash/internal/timerange"
)

// Trace is one plotted line: parallel instant/price slices plus display
// attributes, in the shape the charting sink consumes.
type Trace struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Color string      `json:"color"`
	Live  bool        `json:"live"`
	X     []time.Time `json:"x"`
	Y     []float64   `json:"y"`
}

// Chart is the prepared series set plus the current-time marker. An empty
// Traces slice is a valid terminal state, rendered as an empty chart.
type Chart struct {
	Traces []Trace   `json:"traces"`
	Marker time.Time `json:"marker"`
}

// Options controls window handling during the build.
type Options struct {
	// StitchLive widens the live trace's lower bound by one day so the
	// previous day's readings run visibly into the current one. Set for
	// the default (non-custom) window only.
	StitchLive bool
}

// Build filters each source to [win.Start, win.End), sorts points
// ascending, and drops sources that end up empty — they contribute no
// trace rather than an empty one. The marker is derived from the
// wall-clock-normalized current instant, independent of any source's data.
func Build(sources []source.Series, win timerange.Window, markerAt time.Time, opts Options) Chart {
	chart := Chart{Marker: markerAt}
	for _, s := range sources {
		w := win
		if s.Live && opts.StitchLive {
			w.Start = w.Start.AddDate(0, 0, -1)
		}
		pts := filterWindow(s.Points, w)
		if len(pts) == 0 {
			continue
		}
		sort.Slice(pts, func(a, b int) bool { return pts[a].Instant.Before(pts[b].Instant) })

		tr := Trace{
			ID:    s.ID,
			Name:  s.DisplayName,
			Color: s.Color,
			Live:  s.Live,
			X:     make([]time.Time, len(pts)),
			Y:     make([]float64, len(pts)),
		}
		for i, p := range pts {
			tr.X[i] = p.Instant
			tr.Y[i] = p.Price
		}
		chart.Traces = append(chart.Traces, tr)
	}
	return chart
}

// filterWindow keeps the points inside [w.Start, w.End). Filtering an empty
// list yields an empty list.
func filterWindow(points []source.PricePoint, w timerange.Window) []source.PricePoint {
	var out []source.PricePoint
	for _, p := range points {
		if w.Contains(p.Instant) {
			out = append(out, p)
		}
	}
	return out
}
