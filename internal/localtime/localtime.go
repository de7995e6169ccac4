// Package localtime converts absolute instants to the dashboard region's
// wall-clock representation.
//
// CONVENTION: ToWallClock returns a time.Time whose UTC serialization reads
// as the region's local wall clock. The returned value is NOT a real
// instant — it is the input shifted by the region's UTC offset at that
// input, so that offset-less formatting shows what a clock on the wall in
// the region shows. Every consumer of normalized times (range filtering,
// the current-time marker, the current-price lookup) must stay inside this
// shifted domain; comparing a raw instant against a normalized one breaks
// ordering silently. A clean break from this convention would use a civil
// datetime type throughout, but the dashboard's window arithmetic and wire
// format are built on it, so it is kept and documented here instead.
package localtime

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// memoSize bounds the per-normalizer memo. The function runs once per data
// point per render, over a window of at most a few hundred hourly points.
const memoSize = 500

// Normalizer shifts instants into a region's wall-clock domain, resolving
// the daylight-saving offset per instant rather than assuming a constant.
type Normalizer struct {
	loc  *time.Location
	memo *lru.Cache[int64, time.Time]
}

// NewNormalizer creates a Normalizer for the named IANA region, e.g.
// "Europe/Amsterdam".
func NewNormalizer(region string) (*Normalizer, error) {
	loc, err := time.LoadLocation(region)
	if err != nil {
		return nil, err
	}
	memo, err := lru.New[int64, time.Time](memoSize)
	if err != nil {
		return nil, err
	}
	return &Normalizer{loc: loc, memo: memo}, nil
}

// Location returns the normalizer's region.
func (n *Normalizer) Location() *time.Location { return n.loc }

// ToWallClock returns t shifted so that its naive-UTC rendering equals the
// region's wall clock at t. The offset is resolved for t's own calendar
// date, so readings on either side of a daylight-saving transition shift by
// the offset in force at each reading. The zero time is passed through as
// an invalid-instant sentinel; callers filter it out.
func (n *Normalizer) ToWallClock(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	key := t.UnixNano()
	if v, ok := n.memo.Get(key); ok {
		return v
	}
	_, offset := t.In(n.loc).Zone()
	shifted := t.Add(time.Duration(offset) * time.Second).UTC()
	n.memo.Add(key, shifted)
	return shifted
}

// Now returns the current instant in the wall-clock domain.
func (n *Normalizer) Now() time.Time {
	return n.ToWallClock(time.Now())
}

// TruncateHour floors a wall-clock value to the start of its hour. Used to
// match the live feed's hourly readings against the current instant.
func TruncateHour(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}

// StartOfDay floors a wall-clock value to local midnight.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
