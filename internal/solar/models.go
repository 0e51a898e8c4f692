package solar

import (
	"fmt"
	"time"
)

// Source identifies the upstream provider a dataset came from.
type Source string

const (
	SourceNREL        Source = "nrel"
	SourceGoogleSolar Source = "google_solar"
	SourceNSRDB       Source = "nsrdb"
)

// Sources lists every supported provider in a stable order.
var Sources = []Source{SourceNREL, SourceGoogleSolar, SourceNSRDB}

// ParseSource maps a string to a known Source.
func ParseSource(s string) (Source, error) {
	for _, src := range Sources {
		if string(src) == s {
			return src, nil
		}
	}
	return "", NewInvalidInput(fmt.Sprintf("unknown source %q", s))
}

// Accuracy is the coarse dataset vintage / quality setting.
type Accuracy string

const (
	AccuracyLow    Accuracy = "low"
	AccuracyMedium Accuracy = "medium"
	AccuracyHigh   Accuracy = "high"
)

// ParseAccuracy defaults to medium for an empty string.
func ParseAccuracy(s string) (Accuracy, error) {
	switch Accuracy(s) {
	case "":
		return AccuracyMedium, nil
	case AccuracyLow, AccuracyMedium, AccuracyHigh:
		return Accuracy(s), nil
	default:
		return "", NewInvalidInput(fmt.Sprintf("accuracy must be one of low, medium, high; got %q", s))
	}
}

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// Validate reports an InvalidInput error for out-of-range values.
func (c Coordinate) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return NewInvalidInput(fmt.Sprintf("latitude %v outside [-90, 90]", c.Lat))
	}
	if c.Lon < -180 || c.Lon > 180 {
		return NewInvalidInput(fmt.Sprintf("longitude %v outside [-180, 180]", c.Lon))
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.4f,%.4f", c.Lat, c.Lon)
}

// MonthlyEntry holds the metric values reported for one calendar month.
type MonthlyEntry struct {
	Month  int                `json:"month"`
	Values map[string]float64 `json:"values"`
}

// Sample is a single row of a high-resolution time series.
type Sample struct {
	Timestamp time.Time          `json:"timestamp"` // always UTC
	Values    map[string]float64 `json:"values"`
}

// SolarDataset is the provider-agnostic representation of one fetch.
//
// Monthly holds at most 12 entries ordered by Month, each month unique.
// A month the provider did not report is absent, not zero. RawExtra carries
// provider-specific payload (roof segments, CSV metadata) as JSON-native
// values so it survives an export round trip.
type SolarDataset struct {
	Source     Source             `json:"source"`
	Coordinate Coordinate         `json:"coordinate"`
	Annual     map[string]float64 `json:"annual"`
	Monthly    []MonthlyEntry     `json:"monthly"`
	TimeSeries []Sample           `json:"time_series,omitempty"`
	RawExtra   map[string]any     `json:"raw_extra,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
	FetchedAt  time.Time          `json:"fetched_at"`
}

// MonthValue returns the value of metric for month and whether it is present.
func (d *SolarDataset) MonthValue(month int, metric string) (float64, bool) {
	if d == nil {
		return 0, false
	}
	for _, m := range d.Monthly {
		if m.Month == month {
			v, ok := m.Values[metric]
			return v, ok
		}
	}
	return 0, false
}

// Attributes returns the sorted union of metric names in the monthly series.
func (d *SolarDataset) Attributes() []string {
	seen := make(map[string]struct{})
	for _, m := range d.Monthly {
		for k := range m.Values {
			seen[k] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// DerivedMetrics are display metrics computed from a dataset and panel parameters.
type DerivedMetrics struct {
	EnergyKWh    float64 `json:"energy_kwh"`
	SystemSizeKW float64 `json:"system_size_kw"`
	PeakSunHours float64 `json:"peak_sun_hours"`
}

// AlignedMonth pairs two providers' values for one month. Nil means absent.
type AlignedMonth struct {
	Month int      `json:"month"`
	A     *float64 `json:"a"`
	B     *float64 `json:"b"`
}

// ComparisonResult aligns two datasets on the month axis in kWh/m²/day.
type ComparisonResult struct {
	SourceA     Source         `json:"source_a,omitempty"`
	SourceB     Source         `json:"source_b,omitempty"`
	Unit        string         `json:"unit"`
	Entries     []AlignedMonth `json:"entries"`
	Approximate bool           `json:"approximate"`
	Notes       []string       `json:"notes,omitempty"`
}

var monthNames = [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// MonthName returns the three-letter English name for a 1-based month.
func MonthName(month int) string {
	if month < 1 || month > 12 {
		return ""
	}
	return monthNames[month-1]
}
