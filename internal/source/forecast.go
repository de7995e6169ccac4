package source

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ducroq/energydash/internal/apperr"
	"github.com/ducroq/energydash/internal/localtime"
)

// ForecastMetadata describes one dataset inside the forecast document.
type ForecastMetadata struct {
	DataType    string `json:"data_type"`
	Source      string `json:"source"`
	Country     string `json:"country"`
	Units       string `json:"units"`
	DisplayName string `json:"display_name"`
}

// ForecastDataset is one named source inside the forecast document: units
// metadata plus a timestamp→price map.
type ForecastDataset struct {
	Metadata ForecastMetadata           `json:"metadata"`
	Data     map[string]json.RawMessage `json:"data"`
}

// ForecastDocument is the decrypted forecast artifact published by the data
// hub build: a version marker plus one dataset per source id.
type ForecastDocument struct {
	Version  string
	Datasets map[string]ForecastDataset
}

// ParseForecast decodes the forecast document from its JSON form.
func ParseForecast(raw []byte) (*ForecastDocument, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, apperr.New(apperr.KindParsing, "parsing forecast document", err)
	}

	doc := &ForecastDocument{Datasets: make(map[string]ForecastDataset)}
	for key, rawSet := range top {
		if key == "version" {
			_ = json.Unmarshal(rawSet, &doc.Version)
			continue
		}
		var ds ForecastDataset
		if err := json.Unmarshal(rawSet, &ds); err != nil {
			return nil, apperr.New(apperr.KindParsing, "parsing forecast dataset "+key, err)
		}
		doc.Datasets[key] = ds
	}
	if len(doc.Datasets) == 0 {
		return nil, apperr.New(apperr.KindParsing, "parsing forecast document", errNoDatasets)
	}
	return doc, nil
}

var errNoDatasets = jsonError("document contains no datasets")

type jsonError string

func (e jsonError) Error() string { return string(e) }

// sourcePalette assigns stable display colors per known source id, with a
// rotating fallback for ids the palette does not know.
var sourcePalette = map[string]string{
	"entsoe":      "#1f77b4",
	"nordpool":    "#2ca02c",
	"epex":        "#9467bd",
	"easyenergy":  "#8c564b",
	"energyzero":  "#e377c2",
	"electricity": "#17becf",
}

var fallbackPalette = []string{"#ff7f0e", "#d62728", "#bcbd22", "#7f7f7f"}

// ForecastNormalizer converts forecast datasets into uniform Series:
// tolerant value parsing, kWh→MWh conversion, timestamp canonicalization
// into the wall-clock domain, and optional per-point jitter.
//
// The jitter exists for redistribution compliance, not data fidelity: the
// upstream licence forbids republishing exact values, so each non-zero
// price is scaled by a bounded uniform factor. It is configurable and may
// be disabled with JitterPercent = 0.
type ForecastNormalizer struct {
	norm          *localtime.Normalizer
	jitterPercent float64
	randFloat     func() float64 // uniform [0,1), swappable in tests
}

// NewForecastNormalizer creates a normalizer applying jitterPercent
// (e.g. 2.0 for ±2%) to every non-zero forecast price.
func NewForecastNormalizer(norm *localtime.Normalizer, jitterPercent float64) *ForecastNormalizer {
	return &ForecastNormalizer{
		norm:          norm,
		jitterPercent: jitterPercent,
		randFloat:     rand.Float64,
	}
}

// Normalize converts every dataset of doc into a Series with points sorted
// ascending by instant. Entries with unparseable values are dropped;
// entries with malformed or unrecognized timestamp offsets are dropped and
// reported as data-quality warnings rather than silently patched.
func (f *ForecastNormalizer) Normalize(doc *ForecastDocument) ([]Series, []string) {
	var warnings []string
	ids := make([]string, 0, len(doc.Datasets))
	for id := range doc.Datasets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	series := make([]Series, 0, len(ids))
	for i, id := range ids {
		ds := doc.Datasets[id]
		kwh := IsKilowattHour(ds.Metadata.Units)

		points := make([]PricePoint, 0, len(ds.Data))
		for ts, rawVal := range ds.Data {
			price, ok := convertValue(rawVal)
			if !ok {
				continue
			}
			instant, err := f.parseTimestamp(ts)
			if err != nil {
				warnings = append(warnings, "source "+id+": "+err.Error())
				continue
			}
			if kwh {
				price *= kwhFactor
			}
			points = append(points, PricePoint{Instant: instant, Price: f.jitter(price)})
		}
		if len(points) == 0 {
			continue
		}
		sort.Slice(points, func(a, b int) bool { return points[a].Instant.Before(points[b].Instant) })

		series = append(series, Series{
			ID:          id,
			DisplayName: displayName(id, ds.Metadata),
			Color:       colorFor(id, i),
			Unit:        CanonicalUnit,
			Points:      points,
		})
	}
	return series, warnings
}

// jitter scales a non-zero price by a uniform factor in ±jitterPercent.
func (f *ForecastNormalizer) jitter(price float64) float64 {
	if f.jitterPercent <= 0 || price == 0 {
		return price
	}
	spread := f.jitterPercent / 100
	return price * (1 + (f.randFloat()*2-1)*spread)
}

// forecastLayouts are the accepted timestamp shapes: RFC3339 with a
// numeric offset or Z, and the offset-less isoformat the hub historically
// emitted (already wall-clock, taken as-is). Anything else — including the
// malformed "+0200"-style suffixes older hub builds produced — is rejected
// with a warning instead of being pattern-matched into shape.
var forecastNaiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

func (f *ForecastNormalizer) parseTimestamp(ts string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return f.norm.ToWallClock(t), nil
	}
	for _, layout := range forecastNaiveLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			// Offset-less stamps are the region's wall clock already.
			return t, nil
		}
	}
	return time.Time{}, apperr.Validation("parsing timestamp", "unrecognized timestamp %q", ts)
}

// noneStrings are upstream placeholders for missing values.
var noneStrings = map[string]struct{}{
	"": {}, "-": {}, "n/a": {}, "nan": {}, "null": {}, "none": {},
	"inf": {}, "-inf": {}, "infinity": {}, "-infinity": {},
}

// convertValue decodes a raw JSON price: numbers pass through, numeric
// strings are parsed, known missing-value markers and non-finite numbers
// are dropped.
func convertValue(raw json.RawMessage) (float64, bool) {
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		if math.IsNaN(num) || math.IsInf(num, 0) {
			return 0, false
		}
		return num, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if _, missing := noneStrings[strings.ToLower(strings.TrimSpace(s))]; missing {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

func displayName(id string, md ForecastMetadata) string {
	if md.DisplayName != "" {
		return md.DisplayName
	}
	if md.Source != "" {
		return md.Source
	}
	return id
}

func colorFor(id string, ordinal int) string {
	if c, ok := sourcePalette[strings.ToLower(id)]; ok {
		return c
	}
	return fallbackPalette[ordinal%len(fallbackPalette)]
}
