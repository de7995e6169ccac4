// Package timerange resolves user range selections — relative keywords or
// explicit custom dates — into concrete half-open windows and per-day fetch
// plans for the live price feed.
//
// All times in this package live in the wall-clock domain produced by
// localtime.Normalizer; see that package's convention note.
package timerange

import (
	"time"

	"github.com/ducroq/energydash/internal/apperr"
	"github.com/ducroq/energydash/internal/localtime"
)

// Relative range keywords accepted in a Selection.
const (
	KeywordYesterday = "yesterday"
	KeywordToday     = "today"
	KeywordTomorrow  = "tomorrow"
)

// Selection is a user-chosen logical range. Either the keyword pair or the
// explicit instants are set, flagged by Custom. Selections are replaced
// wholesale on every user interaction, never partially mutated.
type Selection struct {
	StartKeyword string
	EndKeyword   string
	Start        time.Time // wall-clock domain, Custom only
	End          time.Time // wall-clock domain, Custom only
	Custom       bool
}

// Default returns the dashboard's default selection: yesterday through
// tomorrow, so the chart shows the finished day, the running day, and the
// published forecast for the next one.
func Default() Selection {
	return Selection{StartKeyword: KeywordYesterday, EndKeyword: KeywordTomorrow}
}

// Window is a concrete half-open [Start, End) range in the wall-clock
// domain.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window (start inclusive, end
// exclusive).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Days returns the number of calendar days the window touches.
func (w Window) Days() int {
	first := localtime.StartOfDay(w.Start)
	// End is exclusive: a window ending exactly at midnight does not touch
	// the next day.
	last := localtime.StartOfDay(w.End.Add(-time.Nanosecond))
	return int(last.Sub(first).Hours()/24) + 1
}

// DayRequest is one fetch unit of a multi-day live-feed plan, clipped to
// the window.
type DayRequest struct {
	Day   time.Time // local midnight of the calendar day
	Start time.Time
	End   time.Time
}

// FetchPlan splits the window into per-calendar-day requests. A window that
// spans a single day yields one request covering the whole window; wider
// windows yield one request per day, to be issued concurrently and
// concatenated by the caller.
func (w Window) FetchPlan() []DayRequest {
	var plan []DayRequest
	day := localtime.StartOfDay(w.Start)
	for day.Before(w.End) {
		next := day.AddDate(0, 0, 1)
		req := DayRequest{Day: day, Start: day, End: next}
		if req.Start.Before(w.Start) {
			req.Start = w.Start
		}
		if req.End.After(w.End) {
			req.End = w.End
		}
		plan = append(plan, req)
		day = next
	}
	return plan
}

// Resolver turns selections into windows relative to the region's current
// wall-clock time.
type Resolver struct {
	norm *localtime.Normalizer
	now  func() time.Time // raw instant source, swappable in tests
}

// NewResolver creates a Resolver on top of the given normalizer.
func NewResolver(norm *localtime.Normalizer) *Resolver {
	return &Resolver{norm: norm, now: time.Now}
}

// Resolve validates sel and computes its concrete [start, end) window.
// Keyword starts resolve to that day's local midnight; keyword ends resolve
// to the end of the named day (midnight of the following day), so
// yesterday→tomorrow covers three full civil days. A start at or after the
// end is a validation error, reported before any fetch is attempted.
func (r *Resolver) Resolve(sel Selection) (Window, error) {
	var w Window
	if sel.Custom {
		w = Window{Start: sel.Start, End: sel.End}
	} else {
		today := localtime.StartOfDay(r.norm.ToWallClock(r.now()))
		start, err := keywordDay(today, sel.StartKeyword)
		if err != nil {
			return Window{}, err
		}
		end, err := keywordDay(today, sel.EndKeyword)
		if err != nil {
			return Window{}, err
		}
		w = Window{Start: start, End: end.AddDate(0, 0, 1)}
	}
	if w.Start.IsZero() || w.End.IsZero() {
		return Window{}, apperr.Validation("resolving range", "range boundaries must be set")
	}
	if !w.Start.Before(w.End) {
		return Window{}, apperr.Validation("resolving range",
			"range start %s must be before end %s",
			w.Start.Format("2006-01-02 15:04"), w.End.Format("2006-01-02 15:04"))
	}
	return w, nil
}

func keywordDay(today time.Time, keyword string) (time.Time, error) {
	switch keyword {
	case KeywordYesterday:
		return today.AddDate(0, 0, -1), nil
	case KeywordToday:
		return today, nil
	case KeywordTomorrow:
		return today.AddDate(0, 0, 1), nil
	default:
		return time.Time{}, apperr.Validation("resolving range", "unknown range keyword %q", keyword)
	}
}
