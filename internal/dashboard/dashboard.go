// Package dashboard orchestrates the price pipeline: it owns the mutable
// view state (active range, latest chart, live snapshot), sequences range
// resolution, fetching, normalization, and merging, and exposes the
// lifecycle hooks the host wires up.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/ducroq/energydash/internal/apperr"
	"github.com/ducroq/energydash/internal/config"
	"github.com/ducroq/energydash/internal/fetchcache"
	"github.com/ducroq/energydash/internal/localtime"
	"github.com/ducroq/energydash/internal/notify"
	"github.com/ducroq/energydash/internal/series"
	"github.com/ducroq/energydash/internal/source"
	"github.com/ducroq/energydash/internal/timerange"
)

// View is the complete render-ready state of the dashboard. It is replaced
// wholesale at the end of every completed (non-superseded) cycle; partial
// updates from cancelled cycles are never applied.
type View struct {
	Chart          series.Chart        `json:"chart"`
	Live           source.LiveSnapshot `json:"live"`
	Window         timerange.Window    `json:"window"`
	Custom         bool                `json:"custom"`
	LiveIncomplete bool                `json:"liveIncomplete"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// Dashboard sequences the pipeline components and owns their shared state.
type Dashboard struct {
	cfg      *config.Config
	log      *slog.Logger
	fetch    *fetchcache.Client
	norm     *localtime.Normalizer
	resolver *timerange.Resolver
	forecast *source.ForecastNormalizer
	live     *source.LiveFeed
	center   *notify.Center
	cron     *cron.Cron

	// generation invalidates superseded cycles: a cycle commits its result
	// only while it still carries the latest generation.
	generation atomic.Uint64

	mu          sync.Mutex
	sel         timerange.Selection
	pendingSel  *timerange.Selection
	view        *View
	debounce    *time.Timer
	cancelCycle context.CancelFunc
	baseCtx     context.Context
	baseCancel  context.CancelFunc
	closed      bool
}

// New wires a Dashboard from its collaborators.
func New(cfg *config.Config, fetch *fetchcache.Client, norm *localtime.Normalizer,
	center *notify.Center, log *slog.Logger) *Dashboard {
	return &Dashboard{
		cfg:      cfg,
		log:      log.With("component", "dashboard"),
		fetch:    fetch,
		norm:     norm,
		resolver: timerange.NewResolver(norm),
		forecast: source.NewForecastNormalizer(norm, cfg.Sources.JitterPercent),
		live:     source.NewLiveFeed(cfg.Sources.LiveURL, norm),
		center:   center,
		cron:     cron.New(),
		sel:      timerange.Default(),
	}
}

// Init performs the first load and starts the periodic live refresh. It
// blocks until the first cycle completes.
func (d *Dashboard) Init(ctx context.Context) error {
	d.mu.Lock()
	d.baseCtx, d.baseCancel = context.WithCancel(ctx)
	sel := d.sel
	d.mu.Unlock()

	if _, err := d.cron.AddFunc(d.cfg.Refresh.Interval, d.scheduledRefresh); err != nil {
		return fmt.Errorf("registering refresh task: %w", err)
	}
	d.cron.Start()
	d.log.Info("dashboard starting", "interval", d.cfg.Refresh.Interval)

	d.startCycle(sel, false, true)
	return nil
}

// Close tears the dashboard down: the refresh timer is stopped, any
// in-flight cycle is cancelled, and a pending debounced range change is
// dropped.
func (d *Dashboard) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.cron.Stop()
	if d.debounce != nil {
		d.debounce.Stop()
		d.debounce = nil
	}
	if d.cancelCycle != nil {
		d.cancelCycle()
	}
	if d.baseCancel != nil {
		d.baseCancel()
	}
	d.log.Info("dashboard stopped")
}

// View returns the latest committed view, or nil before the first cycle
// completes.
func (d *Dashboard) View() *View {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view
}

// Selection returns the active range selection.
func (d *Dashboard) Selection() timerange.Selection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sel
}

// SetRange applies a new range selection. Validation happens up front —
// before any fetch — so an inverted range is rejected immediately. The
// actual fetch-and-render cycle is debounced: rapid successive changes
// coalesce into one cycle using the final selection.
func (d *Dashboard) SetRange(sel timerange.Selection) error {
	if _, err := d.resolver.Resolve(sel); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return apperr.Validation("setting range", "dashboard is shut down")
	}
	d.pendingSel = &sel
	if d.debounce != nil {
		d.debounce.Stop()
	}
	d.debounce = time.AfterFunc(d.cfg.Refresh.Debounce, d.applyPending)
	return nil
}

// ResetRange restores the default selection, bypassing the debounce.
func (d *Dashboard) ResetRange() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.pendingSel = nil
	if d.debounce != nil {
		d.debounce.Stop()
		d.debounce = nil
	}
	sel := timerange.Default()
	d.sel = sel
	d.mu.Unlock()

	d.startCycle(sel, false, false)
}

// Refresh re-runs the pipeline for the current selection, bypassing the
// live-feed cache. This is the manual retry surface; the pipeline never
// auto-retries failed fetches.
func (d *Dashboard) Refresh() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	sel := d.sel
	d.mu.Unlock()

	d.startCycle(sel, true, false)
}

// scheduledRefresh is the cron entry point: the periodic live refresh
// "retries" naturally on its own cadence.
func (d *Dashboard) scheduledRefresh() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	sel := d.sel
	d.mu.Unlock()

	d.log.Debug("scheduled refresh")
	d.startCycle(sel, true, false)
}

// applyPending promotes the debounced selection and starts its cycle.
func (d *Dashboard) applyPending() {
	d.mu.Lock()
	if d.closed || d.pendingSel == nil {
		d.mu.Unlock()
		return
	}
	sel := *d.pendingSel
	d.pendingSel = nil
	d.sel = sel
	d.mu.Unlock()

	d.startCycle(sel, false, false)
}

// startCycle supersedes any in-flight cycle and launches a new one. When
// wait is true the cycle runs synchronously (first load).
func (d *Dashboard) startCycle(sel timerange.Selection, bustLive, wait bool) {
	gen := d.generation.Add(1)

	d.mu.Lock()
	if d.cancelCycle != nil {
		d.cancelCycle()
	}
	base := d.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	d.cancelCycle = cancel
	d.mu.Unlock()

	if wait {
		d.runCycle(ctx, sel, gen, bustLive)
		return
	}
	go d.runCycle(ctx, sel, gen, bustLive)
}

// runCycle executes one fetch-normalize-merge pass and commits the new view
// unless a later cycle superseded it meanwhile.
func (d *Dashboard) runCycle(ctx context.Context, sel timerange.Selection, gen uint64, bustLive bool) {
	win, err := d.resolver.Resolve(sel)
	if err != nil {
		d.center.PushError(apperr.Classify("resolving range", err), notify.SeverityError)
		return
	}

	forecastSeries := d.loadForecast(ctx)
	livePoints, incomplete := d.loadLive(ctx, win, sel.Custom, bustLive)

	if ctx.Err() != nil {
		d.log.Debug("cycle cancelled", "generation", gen)
		return
	}

	nowWall := d.norm.Now()
	all := append(forecastSeries, d.live.Series(livePoints))
	chart := series.Build(all, win, nowWall, series.Options{StitchLive: !sel.Custom})
	snap := d.live.Snapshot(livePoints, win, nowWall, sel.Custom)

	view := &View{
		Chart:          chart,
		Live:           snap,
		Window:         win,
		Custom:         sel.Custom,
		LiveIncomplete: incomplete,
		UpdatedAt:      time.Now(),
	}

	// Commit only while still the latest cycle; a superseded cycle's
	// result must never reach the rendered series, even if it finished.
	if d.generation.Load() != gen {
		d.log.Debug("cycle superseded, result discarded", "generation", gen)
		return
	}
	d.mu.Lock()
	if d.generation.Load() == gen && !d.closed {
		d.view = view
	}
	d.mu.Unlock()
	d.log.Info("view updated",
		"traces", len(chart.Traces),
		"livePoints", len(snap.Points),
		"window", fmt.Sprintf("%s..%s", win.Start.Format("2006-01-02 15:04"), win.End.Format("2006-01-02 15:04")))
}

// loadForecast fetches (cache-busted, once per load thanks to the long
// TTL) and normalizes the forecast document. A failure of this primary
// source is never swallowed: it degrades to an empty set with a surfaced
// error notification.
func (d *Dashboard) loadForecast(ctx context.Context) []source.Series {
	raw, err := d.fetch.GetBusted(ctx, d.cfg.Sources.ForecastURL, d.cfg.Cache.ForecastTTL)
	if err != nil {
		if ctx.Err() == nil {
			d.center.PushError(apperr.Classify("loading forecast document", err), notify.SeverityError)
		}
		return nil
	}
	doc, err := source.ParseForecast(raw)
	if err != nil {
		d.center.PushError(apperr.Classify("parsing forecast document", err), notify.SeverityError)
		return nil
	}
	srcs, warnings := d.forecast.Normalize(doc)
	for _, w := range warnings {
		d.center.PushWarning("Some forecast readings were skipped due to malformed timestamps.", w)
	}
	return srcs
}

// loadLive executes the window's fetch plan — one request per calendar
// day, issued concurrently — and normalizes the concatenated responses.
// A failing individual day yields partial data, not a hard error; only
// when every day fails does the range degrade, with a documented fallback
// to the prior day for live (non-custom) windows. The returned bool
// reports whether the aggregate point count may be incomplete.
func (d *Dashboard) loadLive(ctx context.Context, win timerange.Window, custom, bust bool) ([]source.PricePoint, bool) {
	plan := win.FetchPlan()
	payloads := make([][]byte, len(plan))
	failed := make([]error, len(plan))

	g, gctx := errgroup.WithContext(ctx)
	for i, req := range plan {
		g.Go(func() error {
			url := d.live.DayURL(req)
			if bust {
				d.fetch.Invalidate(url)
			}
			payload, err := d.fetch.Get(gctx, url, d.cfg.Cache.LiveTTL)
			if err != nil {
				// Recorded, not returned: one bad day must not cancel
				// the siblings.
				failed[i] = err
				return nil
			}
			payloads[i] = payload
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return nil, false
	}

	var ok [][]byte
	var firstErr error
	todayFailed := false
	today := localtime.StartOfDay(d.norm.Now())
	for i := range plan {
		if failed[i] != nil {
			if firstErr == nil {
				firstErr = failed[i]
			}
			if plan[i].Day.Equal(today) {
				todayFailed = true
			}
			d.log.Warn("live fetch failed for day",
				"day", plan[i].Day.Format("2006-01-02"), "error", failed[i])
			continue
		}
		ok = append(ok, payloads[i])
	}

	if len(ok) == 0 {
		return d.liveFallback(ctx, win, custom, firstErr)
	}

	points, err := d.live.Normalize(ok)
	if err != nil {
		d.center.PushError(apperr.Classify("normalizing live prices", err), notify.SeverityWarning)
		return nil, true
	}

	incomplete := len(ok) < len(plan)
	if todayFailed && !custom {
		// Today's prices may simply not be published yet; the prior days'
		// points still render, so this is a warning, not an error.
		d.center.PushWarning(
			"Today's live prices are not available yet; showing the latest published readings.",
			fmt.Sprintf("live fetch for %s failed: %v", today.Format("2006-01-02"), firstErr))
	}
	return points, incomplete
}

// liveFallback handles the every-day-failed case. For live windows it tries
// the calendar day before the window once — the feed may not have published
// the current day yet — before declaring the range unavailable. The
// surfaced notification is warning severity: forecast data remains usable.
func (d *Dashboard) liveFallback(ctx context.Context, win timerange.Window, custom bool, cause error) ([]source.PricePoint, bool) {
	if !custom {
		day := localtime.StartOfDay(win.Start).AddDate(0, 0, -1)
		req := timerange.DayRequest{Day: day, Start: day, End: day.AddDate(0, 0, 1)}
		payload, err := d.fetch.Get(ctx, d.live.DayURL(req), d.cfg.Cache.LiveTTL)
		if err == nil {
			points, nerr := d.live.Normalize([][]byte{payload})
			if nerr == nil {
				d.center.PushWarning(
					"Live prices for the selected window are unavailable; showing the prior day.",
					fmt.Sprintf("window fetch failed (%v), prior-day fallback used", cause))
				return points, true
			}
		}
	}
	if ctx.Err() != nil {
		return nil, false
	}
	d.center.PushError(apperr.Classify("loading live prices", cause), notify.SeverityWarning)
	return nil, true
}
