// SPDX-License-Identifier: MIT

// Package observations defines the enriched output record and writes the
// per-batch and combined CSV files.
package observations

import (
	"strconv"
	"time"

	"github.com/Becca-90/SLSA-beach-analysis/internal/incidents"
	"github.com/Becca-90/SLSA-beach-analysis/internal/openmeteo"
	"github.com/Becca-90/SLSA-beach-analysis/internal/silo"
	"github.com/Becca-90/SLSA-beach-analysis/internal/waves"
)

// Record is one incident joined with the weather, climate and wave data
// closest to its time and place. Missing sections are left nil and their
// error column carries the reason.
type Record struct {
	Incident incidents.Incident

	Weather *openmeteo.HourlyObservation
	Climate *silo.DailyRecord
	Wave    *waves.Observation

	WeatherErr string
	ClimateErr string
	WaveErr    string
}

// Complete reports whether every section was enriched.
func (r Record) Complete() bool {
	return r.Weather != nil && r.Climate != nil && r.Wave != nil
}

// Failed reports whether no section could be enriched at all.
func (r Record) Failed() bool {
	return r.Weather == nil && r.Climate == nil && r.Wave == nil
}

// climateColumns is the fixed set of SILO columns carried into the
// output, in order.
var climateColumns = []string{"daily_rain_mm", "max_temp_Celsius", "min_temp_Celsius"}

// Header is the output CSV header, shared by batch and combined files.
func Header() []string {
	h := []string{
		"row", "lat", "lon", "local_time", "utc_time",
		"temperature_2m_C", "relative_humidity_pct", "precipitation_mm",
		"wind_speed_kmh", "wind_direction_deg", "wind_gusts_kmh", "weather_code",
	}
	h = append(h, climateColumns...)
	h = append(h,
		"wave_hs_m", "wave_period_s", "wave_direction_deg",
		"wave_source", "buoy_id", "buoy_distance_km",
		"weather_error", "climate_error", "wave_error",
	)
	return h
}

// Row renders the record in Header order. Missing values become empty
// cells.
func (r Record) Row() []string {
	inc := r.Incident
	row := []string{
		strconv.Itoa(inc.Row),
		formatFloat(inc.Location.Lat),
		formatFloat(inc.Location.Lon),
		inc.LocalTime.Format("2006-01-02 15:04:05"),
		inc.Time.UTC().Format(time.RFC3339),
	}

	if w := r.Weather; w != nil {
		row = append(row,
			formatFloat(w.TemperatureC),
			formatFloat(w.HumidityPct),
			formatFloat(w.PrecipMM),
			formatFloat(w.WindSpeedKMH),
			formatFloat(w.WindDirection),
			formatFloat(w.WindGustsKMH),
			strconv.Itoa(w.WeatherCode),
		)
	} else {
		row = append(row, "", "", "", "", "", "", "")
	}

	for _, col := range climateColumns {
		if r.Climate != nil {
			if v, ok := r.Climate.Values[col]; ok {
				row = append(row, formatFloat(v))
				continue
			}
		}
		row = append(row, "")
	}

	if w := r.Wave; w != nil {
		row = append(row,
			formatFloat(w.SignificantWaveHeightM),
			formatFloat(w.PrimaryWavePeriodS),
			formatFloat(w.PrimaryWaveDirectionDeg),
			w.Source,
			w.BuoyID,
		)
		if w.BuoyID != "" {
			row = append(row, formatFloat(w.BuoyDistanceKM))
		} else {
			row = append(row, "")
		}
	} else {
		row = append(row, "", "", "", "", "", "")
	}

	return append(row, r.WeatherErr, r.ClimateErr, r.WaveErr)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
