package solar

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ReportParameters records the inputs a report was produced with.
type ReportParameters struct {
	AreaM2     float64  `json:"area_m2"`
	Accuracy   Accuracy `json:"accuracy"`
	Year       string   `json:"year,omitempty"`
	Interval   string   `json:"interval,omitempty"`
	Attributes []string `json:"attributes,omitempty"`
}

// Report bundles everything a session fetched for download.
type Report struct {
	GeneratedAt time.Time                `json:"generated_at"`
	Coordinate  Coordinate               `json:"coordinate"`
	Parameters  ReportParameters         `json:"parameters"`
	Datasets    map[Source]*SolarDataset `json:"datasets"`
	Errors      map[Source]SourceError   `json:"errors,omitempty"`
	Comparison  *ComparisonResult        `json:"comparison,omitempty"`
}

// EncodeDataset writes ds as indented JSON.
func EncodeDataset(w io.Writer, ds *SolarDataset) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ds)
}

// DecodeDataset reads a dataset written by EncodeDataset.
func DecodeDataset(r io.Reader) (*SolarDataset, error) {
	var ds SolarDataset
	if err := json.NewDecoder(r).Decode(&ds); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	return &ds, nil
}

// EncodeReport writes the report as indented JSON.
func EncodeReport(w io.Writer, rep Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// DecodeReport reads a report written by EncodeReport.
func DecodeReport(r io.Reader) (Report, error) {
	var rep Report
	if err := json.NewDecoder(r).Decode(&rep); err != nil {
		return Report{}, fmt.Errorf("decode report: %w", err)
	}
	return rep, nil
}

// WriteMonthlyCSV writes the monthly series with one row per month and one
// column per attribute. Absent values are empty cells.
func WriteMonthlyCSV(w io.Writer, ds *SolarDataset) error {
	if ds == nil {
		return NewInvalidInput("dataset is required")
	}
	attrs := ds.Attributes()

	cw := csv.NewWriter(w)
	header := append([]string{"month", "month_name"}, attrs...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, e := range ds.Monthly {
		row := make([]string, 0, len(header))
		row = append(row, strconv.Itoa(e.Month), MonthName(e.Month))
		for _, a := range attrs {
			if v, ok := e.Values[a]; ok {
				row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
			} else {
				row = append(row, "")
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportFileName builds a timestamped download name such as
// "nrel_solar_data_20240101_120000.json".
func ExportFileName(prefix, ext string, at time.Time) string {
	return fmt.Sprintf("%s_%s.%s", prefix, at.Format("20060102_150405"), ext)
}
