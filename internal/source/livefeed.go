package source

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/ducroq/energydash/internal/apperr"
	"github.com/ducroq/energydash/internal/localtime"
	"github.com/ducroq/energydash/internal/timerange"
)

// LiveSourceID identifies the live consumer-price feed trace.
const LiveSourceID = "live"

const (
	liveDisplayName = "Live price"
	liveColor       = "#d62728"
)

// livePricesResponse is the wire shape of the live price endpoint:
// kWh-denominated readings with absolute UTC timestamps.
type livePricesResponse struct {
	Prices []struct {
		ReadingDate time.Time `json:"readingDate"`
		Price       float64   `json:"price"`
	} `json:"Prices"`
}

// LiveFeed normalizes live price responses and builds per-day request URLs.
type LiveFeed struct {
	baseURL string
	norm    *localtime.Normalizer
}

// NewLiveFeed creates a LiveFeed hitting baseURL.
func NewLiveFeed(baseURL string, norm *localtime.Normalizer) *LiveFeed {
	return &LiveFeed{baseURL: baseURL, norm: norm}
}

// DayURL builds the query URL for one day of the fetch plan. The plan's
// wall-clock boundaries are mapped back to absolute instants in the
// region's zone, since the endpoint expects real UTC range parameters.
func (l *LiveFeed) DayURL(req timerange.DayRequest) string {
	loc := l.norm.Location()
	from := time.Date(req.Start.Year(), req.Start.Month(), req.Start.Day(),
		req.Start.Hour(), req.Start.Minute(), 0, 0, loc).UTC()
	till := time.Date(req.End.Year(), req.End.Month(), req.End.Day(),
		req.End.Hour(), req.End.Minute(), 0, 0, loc).UTC()

	q := url.Values{}
	q.Set("fromDate", from.Format(time.RFC3339))
	q.Set("tillDate", till.Format(time.RFC3339))
	q.Set("interval", "4") // hourly readings
	q.Set("usageType", "1")
	q.Set("inclBtw", "true")
	return fmt.Sprintf("%s?%s", l.baseURL, q.Encode())
}

// Normalize decodes one or more day payloads (a multi-day plan's responses
// are passed together, concatenated), converts kWh prices to the canonical
// unit, shifts every reading into the wall-clock domain, and returns the
// points sorted ascending. Invalid readings are skipped.
func (l *LiveFeed) Normalize(payloads [][]byte) ([]PricePoint, error) {
	var points []PricePoint
	for _, payload := range payloads {
		var resp livePricesResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			return nil, apperr.New(apperr.KindParsing, "parsing live prices", err)
		}
		for _, p := range resp.Prices {
			instant := l.norm.ToWallClock(p.ReadingDate)
			if instant.IsZero() {
				continue
			}
			points = append(points, PricePoint{Instant: instant, Price: p.Price * kwhFactor})
		}
	}
	sort.Slice(points, func(a, b int) bool { return points[a].Instant.Before(points[b].Instant) })
	return points, nil
}

// Series wraps normalized live points as a Series for the merge stage.
func (l *LiveFeed) Series(points []PricePoint) Series {
	return Series{
		ID:          LiveSourceID,
		DisplayName: liveDisplayName,
		Color:       liveColor,
		Unit:        CanonicalUnit,
		Live:        true,
		Points:      points,
	}
}

// CurrentPrice locates the reading whose hour matches the current
// wall-clock hour, or nil when no reading covers it. The lookup is
// meaningless for historical/custom windows; the orchestrator skips it
// there.
func CurrentPrice(points []PricePoint, nowWall time.Time) *PricePoint {
	hour := localtime.TruncateHour(nowWall)
	for i := range points {
		if localtime.TruncateHour(points[i].Instant).Equal(hour) {
			p := points[i]
			return &p
		}
	}
	return nil
}

// Snapshot assembles the per-refresh live view: the in-window points, the
// current-price reading (suppressed for custom ranges), and window stats.
func (l *LiveFeed) Snapshot(points []PricePoint, win timerange.Window, nowWall time.Time, custom bool) LiveSnapshot {
	inWindow := make([]PricePoint, 0, len(points))
	for _, p := range points {
		if win.Contains(p.Instant) {
			inWindow = append(inWindow, p)
		}
	}
	snap := LiveSnapshot{Points: inWindow, Stats: ComputeStats(inWindow)}
	if !custom {
		snap.Current = CurrentPrice(points, nowWall)
	}
	return snap
}
