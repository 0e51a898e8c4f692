package solar

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/solar-resource-analyzer/internal/common"
)

// MonthlyGapPolicy decides what a missing monthly bucket becomes for
// providers that publish named monthly buckets.
type MonthlyGapPolicy string

const (
	// GapAbsent leaves the month out of the series.
	GapAbsent MonthlyGapPolicy = "absent"
	// GapZero fills the month with 0. Only valid for providers whose
	// contract guarantees all twelve months.
	GapZero MonthlyGapPolicy = "zero"
)

// ParseGapPolicy defaults to GapAbsent for an empty string.
func ParseGapPolicy(s string) (MonthlyGapPolicy, error) {
	switch MonthlyGapPolicy(strings.ToLower(s)) {
	case "", GapAbsent:
		return GapAbsent, nil
	case GapZero:
		return GapZero, nil
	default:
		return "", fmt.Errorf("unknown monthly gap policy %q (want absent or zero)", s)
	}
}

var monthKeys = [12]string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

const noDataMarker = "no data"

// NormalizeSummary maps an annual/monthly summary payload
// (outputs.avg_<attr>.{annual, monthly.jan..dec}) into a dataset.
func NormalizeSummary(body []byte, attrs []string, policy MonthlyGapPolicy) (*SolarDataset, error) {
	var payload struct {
		Version  string          `json:"version"`
		Warnings []string        `json:"warnings"`
		Errors   []string        `json:"errors"`
		Metadata any             `json:"metadata"`
		Outputs  json.RawMessage `json:"outputs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, NewMalformed(SourceNREL, "decode summary payload", err)
	}

	if len(payload.Errors) > 0 {
		joined := strings.Join(payload.Errors, "; ")
		if common.HasAny(joined, noDataMarker, "no data available", "outside") {
			return nil, NewNoData(SourceNREL, joined)
		}
		return nil, NewMalformed(SourceNREL, joined, nil)
	}

	if len(payload.Outputs) == 0 || string(payload.Outputs) == "null" {
		return nil, NewMalformed(SourceNREL, "missing outputs", nil)
	}

	var asString string
	if err := json.Unmarshal(payload.Outputs, &asString); err == nil {
		if strings.EqualFold(strings.TrimSpace(asString), noDataMarker) {
			return nil, NewNoData(SourceNREL, "outputs reported no data")
		}
		return nil, NewMalformed(SourceNREL, fmt.Sprintf("unexpected outputs value %q", asString), nil)
	}

	var outputs map[string]json.RawMessage
	if err := json.Unmarshal(payload.Outputs, &outputs); err != nil {
		return nil, NewMalformed(SourceNREL, "decode outputs", err)
	}

	ds := &SolarDataset{
		Source:   SourceNREL,
		Annual:   make(map[string]float64),
		Warnings: append([]string(nil), payload.Warnings...),
	}
	monthly := make([]map[string]float64, 12)
	noData := 0

	for _, attr := range attrs {
		key := "avg_" + attr
		raw, ok := outputs[key]
		if !ok {
			return nil, NewMalformed(SourceNREL, fmt.Sprintf("missing %s", key), nil)
		}

		var marker string
		if json.Unmarshal(raw, &marker) == nil {
			if strings.EqualFold(strings.TrimSpace(marker), noDataMarker) {
				noData++
				ds.Warnings = append(ds.Warnings, fmt.Sprintf("%s: no data", key))
				continue
			}
			return nil, NewMalformed(SourceNREL, fmt.Sprintf("%s is %q, want an object", key, marker), nil)
		}

		var block struct {
			Annual  any            `json:"annual"`
			Monthly map[string]any `json:"monthly"`
		}
		if err := json.Unmarshal(raw, &block); err != nil {
			return nil, NewMalformed(SourceNREL, "decode "+key, err)
		}
		annual, ok := block.Annual.(float64)
		if !ok {
			return nil, NewMalformed(SourceNREL, fmt.Sprintf("%s.annual missing or non-numeric", key), nil)
		}
		ds.Annual[attr] = annual

		for i, mk := range monthKeys {
			v, present := block.Monthly[mk]
			f, numeric := v.(float64)
			switch {
			case present && numeric:
			case present && !numeric:
				ds.Warnings = append(ds.Warnings, fmt.Sprintf("%s.monthly.%s non-numeric; left absent", key, mk))
				continue
			case policy == GapZero:
				f = 0
			default:
				continue
			}
			if monthly[i] == nil {
				monthly[i] = make(map[string]float64)
			}
			monthly[i][attr] = f
		}
	}

	if noData == len(attrs) {
		return nil, NewNoData(SourceNREL, "every requested attribute reported no data")
	}

	for i, values := range monthly {
		if len(values) > 0 {
			ds.Monthly = append(ds.Monthly, MonthlyEntry{Month: i + 1, Values: values})
		}
	}

	extra := make(map[string]any)
	if payload.Metadata != nil {
		extra["metadata"] = payload.Metadata
	}
	if payload.Version != "" {
		extra["version"] = payload.Version
	}
	if len(extra) > 0 {
		ds.RawExtra = extra
	}
	return ds, nil
}

// ArchiveFormat describes one version of the archive provider's CSV layout.
type ArchiveFormat struct {
	Name string
	// MetadataRows is the number of non-tabular rows preceding the column
	// header. The first row holds metadata keys, the second their values.
	MetadataRows int
}

// DefaultArchiveFormat is the layout served by the PSM v3 download endpoint.
const DefaultArchiveFormat = "psm3-v2"

// ArchiveFormats lists the known CSV layouts by version name.
var ArchiveFormats = map[string]ArchiveFormat{
	"psm3-v2": {Name: "psm3-v2", MetadataRows: 2},
}

// LookupArchiveFormat resolves a format name, defaulting to DefaultArchiveFormat.
func LookupArchiveFormat(name string) (ArchiveFormat, error) {
	if name == "" {
		name = DefaultArchiveFormat
	}
	f, ok := ArchiveFormats[name]
	if !ok {
		return ArchiveFormat{}, fmt.Errorf("unknown archive csv format %q", name)
	}
	return f, nil
}

// archiveColumns maps attribute names to the CSV column headers.
var archiveColumns = map[string]string{
	"ghi":                "GHI",
	"dni":                "DNI",
	"dhi":                "DHI",
	"air_temperature":    "Temperature",
	"wind_speed":         "Wind Speed",
	"surface_albedo":     "Surface Albedo",
	"solar_zenith_angle": "Solar Zenith Angle",
	"relative_humidity":  "Relative Humidity",
}

// ArchiveAttributes returns the attribute vocabulary of the archive CSV.
func ArchiveAttributes() []string {
	out := make([]string, 0, len(archiveColumns))
	for k := range archiveColumns {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func columnKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "")
	return strings.ReplaceAll(s, "_", "")
}

// NormalizeArchiveCSV parses a time-series CSV with leading metadata rows.
// Timestamps come from the Year/Month/Day/Hour/Minute columns; when utc is
// false they are read in the metadata "Time Zone" offset and stored as UTC.
// Monthly values are the unweighted mean of all rows in that month.
func NormalizeArchiveCSV(r io.Reader, format ArchiveFormat, attrs []string, utc bool) (*SolarDataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, NewMalformed(SourceNSRDB, "read csv", err)
	}
	if len(records) < format.MetadataRows+1 {
		return nil, NewMalformed(SourceNSRDB, fmt.Sprintf("expected %d metadata rows and a column header, got %d rows", format.MetadataRows, len(records)), nil)
	}

	metadata := make(map[string]any)
	if format.MetadataRows >= 2 {
		keys, values := records[0], records[1]
		for i, k := range keys {
			k = strings.TrimSpace(k)
			if k == "" || i >= len(values) {
				continue
			}
			metadata[k] = strings.TrimSpace(values[i])
		}
	}

	loc := time.UTC
	if !utc {
		if tz, ok := metadata["Time Zone"].(string); ok {
			if hours, err := strconv.ParseFloat(tz, 64); err == nil {
				loc = time.FixedZone("", int(hours*3600))
			}
		}
	}

	header := records[format.MetadataRows]
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[columnKey(h)] = i
	}

	timeCols := make(map[string]int)
	for _, name := range []string{"year", "month", "day", "hour"} {
		i, ok := index[name]
		if !ok {
			return nil, NewMalformed(SourceNSRDB, fmt.Sprintf("missing %q column", name), nil)
		}
		timeCols[name] = i
	}
	minuteCol, hasMinute := index["minute"]

	attrCols := make(map[string]int, len(attrs))
	for _, a := range attrs {
		col, ok := archiveColumns[a]
		if !ok {
			return nil, &FetchError{Kind: KindInvalidInput, Provider: SourceNSRDB, Detail: fmt.Sprintf("attribute %q has no archive column", a)}
		}
		i, ok := index[columnKey(col)]
		if !ok {
			return nil, NewMalformed(SourceNSRDB, fmt.Sprintf("missing %q column", col), nil)
		}
		attrCols[a] = i
	}

	ds := &SolarDataset{
		Source: SourceNSRDB,
		Annual: make(map[string]float64),
	}
	var (
		sums   [12]map[string]float64
		counts [12]int
		total  = make(map[string]float64)
	)

	rows := records[format.MetadataRows+1:]
	for n, row := range rows {
		line := format.MetadataRows + 2 + n
		if isBlankRow(row) {
			continue
		}

		parts := make(map[string]int, 5)
		for name, i := range timeCols {
			v, err := intCell(row, i)
			if err != nil {
				return nil, NewMalformed(SourceNSRDB, fmt.Sprintf("row %d: %s", line, name), err)
			}
			parts[name] = v
		}
		minute := 0
		if hasMinute {
			v, err := intCell(row, minuteCol)
			if err != nil {
				return nil, NewMalformed(SourceNSRDB, fmt.Sprintf("row %d: minute", line), err)
			}
			minute = v
		}
		if parts["month"] < 1 || parts["month"] > 12 {
			return nil, NewMalformed(SourceNSRDB, fmt.Sprintf("row %d: month %d out of range", line, parts["month"]), nil)
		}
		if days := daysIn(parts["year"], parts["month"]); parts["day"] < 1 || parts["day"] > days {
			return nil, NewMalformed(SourceNSRDB, fmt.Sprintf("row %d: day %d out of range", line, parts["day"]), nil)
		}
		if parts["hour"] < 0 || parts["hour"] > 23 {
			return nil, NewMalformed(SourceNSRDB, fmt.Sprintf("row %d: hour %d out of range", line, parts["hour"]), nil)
		}
		if minute < 0 || minute > 59 {
			return nil, NewMalformed(SourceNSRDB, fmt.Sprintf("row %d: minute %d out of range", line, minute), nil)
		}

		ts := time.Date(parts["year"], time.Month(parts["month"]), parts["day"], parts["hour"], minute, 0, 0, loc).UTC()

		values := make(map[string]float64, len(attrCols))
		for a, i := range attrCols {
			v, err := floatCell(row, i)
			if err != nil {
				return nil, NewMalformed(SourceNSRDB, fmt.Sprintf("row %d: %s", line, a), err)
			}
			values[a] = v
		}
		ds.TimeSeries = append(ds.TimeSeries, Sample{Timestamp: ts, Values: values})

		// Group on the calendar month of the row as published, not of the
		// UTC-shifted timestamp.
		m := parts["month"] - 1
		if sums[m] == nil {
			sums[m] = make(map[string]float64, len(values))
		}
		for a, v := range values {
			sums[m][a] += v
			total[a] += v
		}
		counts[m]++
	}

	if len(ds.TimeSeries) == 0 {
		return nil, NewNoData(SourceNSRDB, "csv contained no data rows")
	}

	for m := 0; m < 12; m++ {
		if counts[m] == 0 {
			continue
		}
		values := make(map[string]float64, len(sums[m]))
		for a, s := range sums[m] {
			values[a] = s / float64(counts[m])
		}
		ds.Monthly = append(ds.Monthly, MonthlyEntry{Month: m + 1, Values: values})
	}
	for a, s := range total {
		ds.Annual[a] = s / float64(len(ds.TimeSeries))
	}

	ds.RawExtra = map[string]any{
		"metadata":   metadata,
		"csv_format": format.Name,
	}
	return ds, nil
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func intCell(row []string, i int) (int, error) {
	if i >= len(row) {
		return 0, errors.New("missing cell")
	}
	s := strings.TrimSpace(row[i])
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	// Some exports write integral columns as "2020.0".
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return int(f), nil
}

func floatCell(row []string, i int) (float64, error) {
	if i >= len(row) {
		return 0, errors.New("missing cell")
	}
	s := strings.TrimSpace(row[i])
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return v, nil
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// InsightsAttributes is the monthly vocabulary of the building insights payload.
var InsightsAttributes = []string{"flux", "daylight_hours"}

// Building insights annual metric names.
const (
	MetricMaxSunshineHours = "max_sunshine_hours_per_year"
	MetricMaxArrayArea     = "max_array_area_m2"
	MetricMaxArrayPanels   = "max_array_panels_count"
	MetricFlux             = "flux"
	MetricDaylightHours    = "daylight_hours"
)

// optional fields copied untouched into RawExtra.
var (
	insightsTopLevelExtras  = []string{"name", "center", "imageryDate", "imageryQuality", "postalCode", "regionCode", "administrativeArea"}
	insightsPotentialExtras = []string{"roofSegmentStats", "dataLayers", "wholeRoofStats", "carbonOffsetFactorKgPerMwh", "panelCapacityWatts", "solarPanelConfigs"}
)

// NormalizeBuildingInsights maps a per-building insight payload into a
// dataset. monthlyFlux[i] is month i+1; a short array leaves trailing months
// absent.
func NormalizeBuildingInsights(body []byte, attrs []string) (*SolarDataset, error) {
	var payload struct {
		SolarPotential *struct {
			MaxArrayPanelsCount     *float64 `json:"maxArrayPanelsCount"`
			MaxArrayAreaMeters2     *float64 `json:"maxArrayAreaMeters2"`
			MaxSunshineHoursPerYear *float64 `json:"maxSunshineHoursPerYear"`
			MonthlyFlux             []struct {
				Flux          *float64 `json:"flux"`
				DaylightHours *float64 `json:"daylightHours"`
			} `json:"monthlyFlux"`
		} `json:"solarPotential"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, NewMalformed(SourceGoogleSolar, "decode building insights", err)
	}

	sp := payload.SolarPotential
	if sp == nil {
		return nil, NewMalformed(SourceGoogleSolar, "missing solarPotential", nil)
	}
	required := []struct {
		name  string
		field string
		v     *float64
	}{
		{MetricMaxSunshineHours, "maxSunshineHoursPerYear", sp.MaxSunshineHoursPerYear},
		{MetricMaxArrayArea, "maxArrayAreaMeters2", sp.MaxArrayAreaMeters2},
		{MetricMaxArrayPanels, "maxArrayPanelsCount", sp.MaxArrayPanelsCount},
	}

	ds := &SolarDataset{
		Source: SourceGoogleSolar,
		Annual: make(map[string]float64, len(required)+1),
	}
	for _, r := range required {
		if r.v == nil {
			return nil, NewMalformed(SourceGoogleSolar, fmt.Sprintf("missing solarPotential.%s", r.field), nil)
		}
		ds.Annual[r.name] = *r.v
	}

	wantFlux := slices.Contains(attrs, MetricFlux)
	wantDaylight := slices.Contains(attrs, MetricDaylightHours)

	if len(sp.MonthlyFlux) > 12 {
		ds.Warnings = append(ds.Warnings, fmt.Sprintf("monthlyFlux has %d entries; only the first 12 are used", len(sp.MonthlyFlux)))
	}
	var (
		annualFlux float64
		fluxMonths int
	)
	for i, mf := range sp.MonthlyFlux {
		if i >= 12 {
			break
		}
		values := make(map[string]float64, 2)
		if wantFlux && mf.Flux != nil {
			values[MetricFlux] = *mf.Flux
			annualFlux += *mf.Flux
			fluxMonths++
		}
		if wantDaylight && mf.DaylightHours != nil {
			values[MetricDaylightHours] = *mf.DaylightHours
		}
		if len(values) > 0 {
			ds.Monthly = append(ds.Monthly, MonthlyEntry{Month: i + 1, Values: values})
		}
	}
	if fluxMonths > 0 {
		ds.Annual[MetricFlux] = annualFlux
		if fluxMonths < 12 {
			ds.Warnings = append(ds.Warnings, fmt.Sprintf("annual flux sums %d of 12 months", fluxMonths))
		}
	}

	// Optional fields are passed through as generic JSON; any shape is accepted.
	var loose map[string]any
	if err := json.Unmarshal(body, &loose); err == nil {
		extra := make(map[string]any)
		for _, k := range insightsTopLevelExtras {
			if v, ok := loose[k]; ok {
				extra[k] = v
			}
		}
		if potential, ok := loose["solarPotential"].(map[string]any); ok {
			for _, k := range insightsPotentialExtras {
				if v, ok := potential[k]; ok {
					extra[k] = v
				}
			}
		}
		if len(extra) > 0 {
			ds.RawExtra = extra
		}
	}
	return ds, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
