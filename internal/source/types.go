// Package source normalizes heterogeneous upstream price feeds — the
// pre-computed forecast document and the live consumer-price feed — into
// uniform point lists in the canonical unit and wall-clock domain.
package source

import (
	"strings"
	"time"
)

// Unit is a price denomination declared by an upstream source.
type Unit string

const (
	UnitEurMwh Unit = "EUR/MWh"
	UnitEurKwh Unit = "EUR/kWh"
)

// CanonicalUnit is what every point downstream of normalization is priced
// in. No EUR/kWh value may survive past this package.
const CanonicalUnit = UnitEurMwh

// kwhFactor converts a kWh-denominated price to the canonical EUR/MWh.
const kwhFactor = 1000

// IsKilowattHour reports whether a units metadata string declares a
// kilowatt-hour denomination.
func IsKilowattHour(units string) bool {
	return strings.Contains(strings.ToLower(units), "kwh")
}

// PricePoint is one normalized reading: a wall-clock instant and a price in
// EUR/MWh. Immutable once created.
type PricePoint struct {
	Instant time.Time
	Price   float64
}

// Series is one normalized source ready for merging. It is owned by the
// pipeline run that created it and superseded, not mutated, on refresh.
type Series struct {
	ID          string
	DisplayName string
	Color       string
	Unit        Unit // always CanonicalUnit after normalization
	Live        bool // true for the live consumer-price feed
	Points      []PricePoint
}

// Stats summarizes the points inside the active window. A nil *Stats means
// the window was empty; callers must not assume a numeric result.
type Stats struct {
	Min   float64
	Max   float64
	Avg   float64
	Count int
}

// ComputeStats computes min/max/avg/count over points, or nil when points
// is empty.
func ComputeStats(points []PricePoint) *Stats {
	if len(points) == 0 {
		return nil
	}
	s := &Stats{Min: points[0].Price, Max: points[0].Price}
	var sum float64
	for _, p := range points {
		if p.Price < s.Min {
			s.Min = p.Price
		}
		if p.Price > s.Max {
			s.Max = p.Price
		}
		sum += p.Price
	}
	s.Count = len(points)
	s.Avg = sum / float64(s.Count)
	return s
}

// LiveSnapshot is the fully rebuilt per-refresh view of the live feed. It
// is never incrementally patched; every refresh cycle replaces it whole.
type LiveSnapshot struct {
	Current *PricePoint // nil outside a live window
	Points  []PricePoint
	Stats   *Stats // nil when the window is empty
}
