package solar

import "fmt"

// unitProfile records how a source's primary metric converts to daily
// irradiance in kWh/m²/day, the common axis for metrics and comparison.
type unitProfile struct {
	// MonthlyMetric is the metric compared month by month.
	MonthlyMetric string
	// AnnualMetrics are candidate annual metrics in order of preference.
	AnnualMetrics []string
	AnnualToDaily  float64
	MonthlyToDaily float64
	Approximate    bool
	Note           string
}

const dailyUnit = "kWh/m²/day"

var unitProfiles = map[Source]unitProfile{
	SourceNREL: {
		MonthlyMetric:  "ghi",
		AnnualMetrics:  []string{"ghi"},
		AnnualToDaily:  1,
		MonthlyToDaily: 1,
	},
	SourceGoogleSolar: {
		MonthlyMetric:  MetricFlux,
		AnnualMetrics:  []string{MetricFlux, MetricMaxSunshineHours},
		AnnualToDaily:  1.0 / DaysPerYear,
		MonthlyToDaily: 1.0 / 30,
		Approximate:    true,
		Note:           "google_solar monthly flux (kWh/m²/month) divided by an assumed 30-day month",
	},
	SourceNSRDB: {
		MonthlyMetric:  "ghi",
		AnnualMetrics:  []string{"ghi"},
		AnnualToDaily:  24.0 / 1000,
		MonthlyToDaily: 24.0 / 1000,
		Approximate:    true,
		Note:           "nsrdb mean irradiance (W/m²) multiplied by 24 h / 1000 to approximate kWh/m²/day",
	},
}

func profileFor(src Source) (unitProfile, error) {
	p, ok := unitProfiles[src]
	if !ok {
		return unitProfile{}, NewInvalidInput(fmt.Sprintf("no unit profile for source %q", src))
	}
	return p, nil
}
