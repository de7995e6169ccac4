package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ducroq/energydash/internal/config"
	"github.com/ducroq/energydash/internal/dashboard"
	"github.com/ducroq/energydash/internal/fetchcache"
	"github.com/ducroq/energydash/internal/localtime"
	"github.com/ducroq/energydash/internal/notify"
)

// fakeUpstream serves a one-source forecast document and an always-available
// live feed, enough to drive the dashboard behind the API.
func fakeUpstream(t *testing.T, norm *localtime.Normalizer) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/forecast.json", func(w http.ResponseWriter, r *http.Request) {
		today := localtime.StartOfDay(norm.Now())
		data := map[string]float64{}
		for d := -2; d <= 1; d++ {
			day := today.AddDate(0, 0, d)
			for h := 0; h < 24; h++ {
				data[day.Add(time.Duration(h)*time.Hour).Format("2006-01-02T15:04:05")] = 95
			}
		}
		writeDoc := map[string]any{
			"version": "test",
			"entsoe":  map[string]any{"metadata": map[string]string{"units": "EUR/MWh"}, "data": data},
		}
		_ = json.NewEncoder(w).Encode(writeDoc)
	})
	mux.HandleFunc("/prices", func(w http.ResponseWriter, r *http.Request) {
		from, _ := time.Parse(time.RFC3339, r.URL.Query().Get("fromDate"))
		till, _ := time.Parse(time.RFC3339, r.URL.Query().Get("tillDate"))
		var prices []map[string]any
		for at := from; at.Before(till); at = at.Add(time.Hour) {
			prices = append(prices, map[string]any{"readingDate": at.Format(time.RFC3339), "price": 0.095})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"Prices": prices})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, initialized bool) (*Server, *notify.Center) {
	t.Helper()
	norm, err := localtime.NewNormalizer("Europe/Amsterdam")
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	up := fakeUpstream(t, norm)
	cfg := &config.Config{
		Sources: config.Sources{ForecastURL: up.URL + "/forecast.json", LiveURL: up.URL + "/prices"},
		Cache:   config.Cache{MaxEntries: 50, LiveTTL: time.Minute, ForecastTTL: time.Hour},
		Refresh: config.Refresh{Interval: "@every 1h", Debounce: 20 * time.Millisecond},
	}
	fetch, err := fetchcache.New(fetchcache.Options{MaxEntries: 50, Logger: log})
	require.NoError(t, err)
	center := notify.NewCenter(time.Minute, log)

	dash := dashboard.New(cfg, fetch, norm, center, log)
	t.Cleanup(dash.Close)
	if initialized {
		require.NoError(t, dash.Init(t.Context()))
	}
	return NewServer(dash, center, norm, log), center
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestChartBeforeFirstLoad(t *testing.T) {
	srv, _ := newTestServer(t, false)
	rec := doRequest(srv, http.MethodGet, "/api/v1/chart", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChartRendersWallClockTimestamps(t *testing.T) {
	srv, _ := newTestServer(t, true)
	rec := doRequest(srv, http.MethodGet, "/api/v1/chart", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Traces []struct {
			ID   string    `json:"id"`
			Live bool      `json:"live"`
			X    []string  `json:"x"`
			Y    []float64 `json:"y"`
		} `json:"traces"`
		Marker string `json:"marker"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Traces)

	// Timestamps carry no offset suffix; they are the region's wall clock.
	require.NotContains(t, out.Traces[0].X[0], "Z")
	require.NotContains(t, out.Traces[0].X[0], "+")
	_, err := time.Parse("2006-01-02T15:04:05", out.Marker)
	require.NoError(t, err)

	var sawLive bool
	for _, tr := range out.Traces {
		if tr.Live {
			sawLive = true
			require.Len(t, tr.X, len(tr.Y))
		}
	}
	require.True(t, sawLive)
}

func TestSnapshotEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, true)
	rec := doRequest(srv, http.MethodGet, "/api/v1/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Custom         bool `json:"custom"`
		LiveIncomplete bool `json:"liveIncomplete"`
		Live           struct {
			Current *struct {
				Price float64 `json:"Price"`
			} `json:"Current"`
		} `json:"live"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.False(t, view.Custom)
	require.False(t, view.LiveIncomplete)
}

func TestNotificationsLifecycle(t *testing.T) {
	srv, center := newTestServer(t, false)
	id := center.PushWarning("heads up", "details")

	rec := doRequest(srv, http.MethodGet, "/api/v1/notifications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Notifications []notify.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Notifications, 1)
	require.Equal(t, "heads up", out.Notifications[0].UserMessage)

	rec = doRequest(srv, http.MethodDelete, fmt.Sprintf("/api/v1/notifications/%d", id), "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, center.Active())

	rec = doRequest(srv, http.MethodDelete, "/api/v1/notifications/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetRangeKeywords(t *testing.T) {
	srv, _ := newTestServer(t, true)
	rec := doRequest(srv, http.MethodPost, "/api/v1/range",
		`{"startKeyword":"today","endKeyword":"tomorrow"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSetRangeCustomDates(t *testing.T) {
	srv, _ := newTestServer(t, true)
	rec := doRequest(srv, http.MethodPost, "/api/v1/range",
		`{"startDate":"2026-06-01","endDate":"2026-06-03"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSetRangeRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t, true)

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"malformed json", `{`, ""},
		{"bad date format", `{"startDate":"01-06-2026","endDate":"2026-06-03"}`, "invalid startDate"},
		{"inverted range", `{"startDate":"2026-06-05","endDate":"2026-06-01"}`, "must be before end"},
		{"unknown keyword", `{"startKeyword":"someday","endKeyword":"today"}`, "unknown range keyword"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(srv, http.MethodPost, "/api/v1/range", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			if tc.wantMsg != "" {
				// The validation detail survives classification into the
				// response body.
				require.Contains(t, rec.Body.String(), tc.wantMsg)
			}
		})
	}
}

func TestResetAndRefresh(t *testing.T) {
	srv, _ := newTestServer(t, true)
	require.Equal(t, http.StatusAccepted,
		doRequest(srv, http.MethodPost, "/api/v1/range/reset", "").Code)
	require.Equal(t, http.StatusAccepted,
		doRequest(srv, http.MethodPost, "/api/v1/refresh", "").Code)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, false)
	rec := doRequest(srv, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, false)
	rec := doRequest(srv, http.MethodOptions, "/api/v1/chart", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
