package source

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ducroq/energydash/internal/timerange"
)

func TestDayURL(t *testing.T) {
	feed := NewLiveFeed("https://api.example.com/v1/energyprices", testNormalizer(t))

	// A full summer day in wall-clock terms is 22:00Z the previous evening
	// through 22:00Z on the day itself (CEST is UTC+2).
	req := timerange.DayRequest{
		Day:   time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC),
		Start: time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 6, 11, 0, 0, 0, 0, time.UTC),
	}
	raw := feed.DayURL(req)
	require.True(t, strings.HasPrefix(raw, "https://api.example.com/v1/energyprices?"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "2026-06-09T22:00:00Z", q.Get("fromDate"))
	require.Equal(t, "2026-06-10T22:00:00Z", q.Get("tillDate"))
	require.Equal(t, "4", q.Get("interval"))
	require.Equal(t, "1", q.Get("usageType"))
	require.Equal(t, "true", q.Get("inclBtw"))
}

func TestNormalizeLivePayloads(t *testing.T) {
	feed := NewLiveFeed("https://api.example.com", testNormalizer(t))

	// Two day payloads delivered out of order; readings are kWh at UTC.
	day2 := []byte(`{"Prices":[
		{"readingDate":"2026-06-11T10:00:00Z","price":0.095}
	]}`)
	day1 := []byte(`{"Prices":[
		{"readingDate":"2026-06-10T11:00:00Z","price":0.105},
		{"readingDate":"2026-06-10T10:00:00Z","price":0.1}
	]}`)

	points, err := feed.Normalize([][]byte{day2, day1})
	require.NoError(t, err)
	require.Len(t, points, 3)

	// Sorted ascending, shifted to wall clock (UTC+2), scaled to EUR/MWh.
	require.Equal(t, time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC), points[0].Instant)
	require.InDelta(t, 100.0, points[0].Price, 1e-9)
	require.Equal(t, time.Date(2026, 6, 10, 13, 0, 0, 0, time.UTC), points[1].Instant)
	require.InDelta(t, 105.0, points[1].Price, 1e-9)
	require.Equal(t, time.Date(2026, 6, 11, 12, 0, 0, 0, time.UTC), points[2].Instant)
}

func TestNormalizeLiveRejectsMalformedPayload(t *testing.T) {
	feed := NewLiveFeed("https://api.example.com", testNormalizer(t))
	_, err := feed.Normalize([][]byte{[]byte(`<html>maintenance</html>`)})
	require.Error(t, err)
}

func TestCurrentPrice(t *testing.T) {
	points := []PricePoint{
		{Instant: time.Date(2026, 6, 10, 11, 0, 0, 0, time.UTC), Price: 90},
		{Instant: time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC), Price: 100},
	}

	cur := CurrentPrice(points, time.Date(2026, 6, 10, 12, 35, 0, 0, time.UTC))
	require.NotNil(t, cur)
	require.InDelta(t, 100.0, cur.Price, 1e-9)

	require.Nil(t, CurrentPrice(points, time.Date(2026, 6, 10, 14, 0, 0, 0, time.UTC)))
	require.Nil(t, CurrentPrice(nil, time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)))
}

func TestSnapshotFiltersAndSuppressesCurrentForCustomRanges(t *testing.T) {
	feed := NewLiveFeed("https://api.example.com", testNormalizer(t))
	points := []PricePoint{
		{Instant: time.Date(2026, 6, 9, 23, 0, 0, 0, time.UTC), Price: 80},
		{Instant: time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC), Price: 100},
		{Instant: time.Date(2026, 6, 11, 0, 0, 0, 0, time.UTC), Price: 120},
	}
	win := timerange.Window{
		Start: time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 6, 11, 0, 0, 0, 0, time.UTC),
	}
	nowWall := time.Date(2026, 6, 10, 12, 30, 0, 0, time.UTC)

	snap := feed.Snapshot(points, win, nowWall, false)
	require.Len(t, snap.Points, 1) // end boundary is exclusive
	require.NotNil(t, snap.Current)
	require.NotNil(t, snap.Stats)
	require.Equal(t, 1, snap.Stats.Count)

	custom := feed.Snapshot(points, win, nowWall, true)
	require.Nil(t, custom.Current)
	require.Len(t, custom.Points, 1)
}

func TestComputeStats(t *testing.T) {
	require.Nil(t, ComputeStats(nil))
	require.Nil(t, ComputeStats([]PricePoint{}))

	s := ComputeStats([]PricePoint{{Price: -10}, {Price: 30}, {Price: 10}})
	require.NotNil(t, s)
	require.InDelta(t, -10.0, s.Min, 1e-9)
	require.InDelta(t, 30.0, s.Max, 1e-9)
	require.InDelta(t, 10.0, s.Avg, 1e-9)
	require.Equal(t, 3, s.Count)
}

func TestIsKilowattHour(t *testing.T) {
	require.True(t, IsKilowattHour("EUR/kWh"))
	require.True(t, IsKilowattHour("eur/KWH incl. btw"))
	require.False(t, IsKilowattHour("EUR/MWh"))
	require.False(t, IsKilowattHour(""))
}
