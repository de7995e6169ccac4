// Package httpapi exposes the dashboard's control surface and prepared
// chart data over HTTP/JSON: the rendering sink pulls traces from here,
// and the range/refresh controls post back.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ducroq/energydash/internal/apperr"
	"github.com/ducroq/energydash/internal/dashboard"
	"github.com/ducroq/energydash/internal/localtime"
	"github.com/ducroq/energydash/internal/notify"
	"github.com/ducroq/energydash/internal/timerange"
)

// Server serves the dashboard HTTP API.
type Server struct {
	dash   *dashboard.Dashboard
	center *notify.Center
	norm   *localtime.Normalizer
	log    *slog.Logger
}

// NewServer creates the API server.
func NewServer(dash *dashboard.Dashboard, center *notify.Center, norm *localtime.Normalizer, log *slog.Logger) *Server {
	return &Server{dash: dash, center: center, norm: norm, log: log.With("component", "httpapi")}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/chart", s.handleChart)
	mux.HandleFunc("GET /api/v1/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/v1/notifications", s.handleNotifications)
	mux.HandleFunc("DELETE /api/v1/notifications/{id}", s.handleDismiss)
	mux.HandleFunc("POST /api/v1/range", s.handleSetRange)
	mux.HandleFunc("POST /api/v1/range/reset", s.handleResetRange)
	mux.HandleFunc("POST /api/v1/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// traceJSON renders instants as offset-less wall-clock strings; see the
// localtime package convention.
type traceJSON struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Color string    `json:"color"`
	Live  bool      `json:"live"`
	X     []string  `json:"x"`
	Y     []float64 `json:"y"`
}

type chartJSON struct {
	Traces    []traceJSON `json:"traces"`
	Marker    string      `json:"marker"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

const wallClockLayout = "2006-01-02T15:04:05"

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	view := s.dash.View()
	if view == nil {
		writeError(w, http.StatusServiceUnavailable, "no data loaded yet")
		return
	}
	out := chartJSON{
		Traces:    make([]traceJSON, 0, len(view.Chart.Traces)),
		Marker:    view.Chart.Marker.Format(wallClockLayout),
		UpdatedAt: view.UpdatedAt,
	}
	for _, tr := range view.Chart.Traces {
		tj := traceJSON{ID: tr.ID, Name: tr.Name, Color: tr.Color, Live: tr.Live,
			X: make([]string, len(tr.X)), Y: tr.Y}
		for i, x := range tr.X {
			tj.X[i] = x.Format(wallClockLayout)
		}
		out.Traces = append(out.Traces, tj)
	}
	writeJSON(w, out)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	view := s.dash.View()
	if view == nil {
		writeError(w, http.StatusServiceUnavailable, "no data loaded yet")
		return
	}
	writeJSON(w, view)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"notifications": s.center.Active()})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	s.center.Dismiss(id)
	w.WriteHeader(http.StatusNoContent)
}

// rangeRequest selects either a keyword pair or explicit custom dates
// (wall-clock "2006-01-02", end day inclusive).
type rangeRequest struct {
	StartKeyword string `json:"startKeyword"`
	EndKeyword   string `json:"endKeyword"`
	StartDate    string `json:"startDate"`
	EndDate      string `json:"endDate"`
}

func (s *Server) handleSetRange(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sel, err := req.toSelection()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.dash.SetRange(sel); err != nil {
		ae := apperr.Classify("setting range", err)
		writeError(w, http.StatusBadRequest, ae.UserMessage())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (req rangeRequest) toSelection() (timerange.Selection, error) {
	if req.StartDate != "" || req.EndDate != "" {
		start, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			return timerange.Selection{}, apperr.Validation("parsing range", "invalid startDate %q", req.StartDate)
		}
		end, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			return timerange.Selection{}, apperr.Validation("parsing range", "invalid endDate %q", req.EndDate)
		}
		// End day is inclusive in the control, exclusive in the window.
		return timerange.Selection{
			Start:  start,
			End:    end.AddDate(0, 0, 1),
			Custom: true,
		}, nil
	}
	return timerange.Selection{
		StartKeyword: req.StartKeyword,
		EndKeyword:   req.EndKeyword,
	}, nil
}

func (s *Server) handleResetRange(w http.ResponseWriter, r *http.Request) {
	s.dash.ResetRange()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.dash.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "now": s.norm.Now().Format(wallClockLayout)})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
