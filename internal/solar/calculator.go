package solar

import (
	"fmt"
	"math"
)

const (
	DefaultEfficiency = 0.20
	DefaultWattsPerM2 = 200.0
	DaysPerYear       = 365
)

// PanelParams are the user-supplied panel characteristics. Zero Efficiency
// and WattsPerM2 select the defaults.
type PanelParams struct {
	AreaM2     float64 `json:"area_m2"`
	Efficiency float64 `json:"efficiency,omitempty"`
	WattsPerM2 float64 `json:"watts_per_m2,omitempty"`
}

// EnergyKWh returns irradiance (kWh/m²/year) × area × efficiency.
func EnergyKWh(irradianceKWhPerM2Year, areaM2, efficiency float64) (float64, error) {
	if efficiency == 0 {
		efficiency = DefaultEfficiency
	}
	if !positive(areaM2) {
		return 0, NewInvalidInput(fmt.Sprintf("area must be positive, got %v m²", areaM2))
	}
	if !nonNegative(irradianceKWhPerM2Year) {
		return 0, NewInvalidInput(fmt.Sprintf("irradiance must not be negative, got %v", irradianceKWhPerM2Year))
	}
	if !(efficiency > 0 && efficiency <= 1) {
		return 0, NewInvalidInput(fmt.Sprintf("efficiency must be in (0, 1], got %v", efficiency))
	}
	return irradianceKWhPerM2Year * areaM2 * efficiency, nil
}

// SystemSizeKW returns area × watts-per-m² / 1000.
func SystemSizeKW(areaM2, wattsPerM2 float64) (float64, error) {
	if wattsPerM2 == 0 {
		wattsPerM2 = DefaultWattsPerM2
	}
	if !positive(areaM2) {
		return 0, NewInvalidInput(fmt.Sprintf("area must be positive, got %v m²", areaM2))
	}
	if !nonNegative(wattsPerM2) {
		return 0, NewInvalidInput(fmt.Sprintf("watts per m² must not be negative, got %v", wattsPerM2))
	}
	return areaM2 * wattsPerM2 / 1000, nil
}

// PeakSunHours is numerically the daily irradiance in kWh/m²: one peak sun
// hour is one hour at 1 kW/m².
func PeakSunHours(dailyKWhPerM2 float64) (float64, error) {
	if !nonNegative(dailyKWhPerM2) {
		return 0, NewInvalidInput(fmt.Sprintf("irradiance must not be negative, got %v", dailyKWhPerM2))
	}
	return dailyKWhPerM2, nil
}

// positive and nonNegative are false for NaN and infinities.
func positive(v float64) bool { return v > 0 && !math.IsInf(v, 1) }
func nonNegative(v float64) bool { return v >= 0 && !math.IsInf(v, 1) }

// DailyIrradiance converts the dataset's primary annual metric to
// kWh/m²/day and reports which metric was used.
func DailyIrradiance(ds *SolarDataset) (float64, string, error) {
	if ds == nil {
		return 0, "", NewInvalidInput("dataset is required")
	}
	p, err := profileFor(ds.Source)
	if err != nil {
		return 0, "", err
	}
	for _, metric := range p.AnnualMetrics {
		if v, ok := ds.Annual[metric]; ok {
			return v * p.AnnualToDaily, metric, nil
		}
	}
	return 0, "", NewInvalidInput(fmt.Sprintf("%s dataset has none of the annual metrics %v", ds.Source, p.AnnualMetrics))
}

// Derive computes display metrics for a dataset.
func Derive(ds *SolarDataset, params PanelParams) (DerivedMetrics, error) {
	daily, _, err := DailyIrradiance(ds)
	if err != nil {
		return DerivedMetrics{}, err
	}
	energy, err := EnergyKWh(daily*DaysPerYear, params.AreaM2, params.Efficiency)
	if err != nil {
		return DerivedMetrics{}, err
	}
	size, err := SystemSizeKW(params.AreaM2, params.WattsPerM2)
	if err != nil {
		return DerivedMetrics{}, err
	}
	psh, err := PeakSunHours(daily)
	if err != nil {
		return DerivedMetrics{}, err
	}
	return DerivedMetrics{
		EnergyKWh:    energy,
		SystemSizeKW: size,
		PeakSunHours: psh,
	}, nil
}
