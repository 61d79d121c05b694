// SPDX-License-Identifier: MIT

package observations

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Becca-90/SLSA-beach-analysis/internal/geo"
	"github.com/Becca-90/SLSA-beach-analysis/internal/incidents"
	"github.com/Becca-90/SLSA-beach-analysis/internal/openmeteo"
	"github.com/Becca-90/SLSA-beach-analysis/internal/silo"
	"github.com/Becca-90/SLSA-beach-analysis/internal/waves"
)

func sampleRecord() Record {
	utc := time.Date(2020, 6, 1, 4, 30, 0, 0, time.UTC)
	return Record{
		Incident: incidents.Incident{
			Row:       3,
			Location:  geo.Point{Lat: -33.8915, Lon: 151.2767},
			Time:      utc,
			LocalTime: time.Date(2020, 6, 1, 14, 30, 0, 0, time.FixedZone("AEST", 10*3600)),
		},
		Weather: &openmeteo.HourlyObservation{
			Time:          utc,
			TemperatureC:  17.5,
			HumidityPct:   62,
			PrecipMM:      0.2,
			WindSpeedKMH:  21,
			WindDirection: 180,
			WindGustsKMH:  35,
			WeatherCode:   61,
		},
		Climate: &silo.DailyRecord{
			Date: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
			Values: map[string]float64{
				"daily_rain_mm":    4.6,
				"max_temp_Celsius": 18.2,
				"min_temp_Celsius": 11.4,
			},
		},
		Wave: &waves.Observation{
			Time:                    utc,
			SignificantWaveHeightM:  2.1,
			PrimaryWavePeriodS:      9.5,
			PrimaryWaveDirectionDeg: 145,
			Source:                  "imos",
			BuoyID:                  "SYD",
			BuoyDistanceKM:          18.3,
		},
	}
}

func TestRowMatchesHeader(t *testing.T) {
	rec := sampleRecord()
	header := Header()
	row := rec.Row()
	require.Len(t, row, len(header))

	byCol := make(map[string]string, len(header))
	for i, col := range header {
		byCol[col] = row[i]
	}

	assert.Equal(t, "3", byCol["row"])
	assert.Equal(t, "-33.8915", byCol["lat"])
	assert.Equal(t, "2020-06-01 14:30:00", byCol["local_time"])
	assert.Equal(t, "2020-06-01T04:30:00Z", byCol["utc_time"])
	assert.Equal(t, "17.5", byCol["temperature_2m_C"])
	assert.Equal(t, "61", byCol["weather_code"])
	assert.Equal(t, "4.6", byCol["daily_rain_mm"])
	assert.Equal(t, "2.1", byCol["wave_hs_m"])
	assert.Equal(t, "imos", byCol["wave_source"])
	assert.Equal(t, "SYD", byCol["buoy_id"])
	assert.Equal(t, "18.3", byCol["buoy_distance_km"])
	assert.Equal(t, "", byCol["wave_error"])
}

func TestRowWithMissingSections(t *testing.T) {
	rec := sampleRecord()
	rec.Weather = nil
	rec.Wave = nil
	rec.WeatherErr = "openmeteo: unexpected status 502"
	rec.WaveErr = "waves: all providers failed"

	header := Header()
	row := rec.Row()
	require.Len(t, row, len(header))

	byCol := make(map[string]string, len(header))
	for i, col := range header {
		byCol[col] = row[i]
	}

	assert.Equal(t, "", byCol["temperature_2m_C"])
	assert.Equal(t, "", byCol["wave_hs_m"])
	assert.Equal(t, "", byCol["buoy_distance_km"])
	assert.Equal(t, "4.6", byCol["daily_rain_mm"])
	assert.Equal(t, "openmeteo: unexpected status 502", byCol["weather_error"])
	assert.Equal(t, "waves: all providers failed", byCol["wave_error"])

	assert.False(t, rec.Complete())
	assert.False(t, rec.Failed())
}

func TestWriteBatchAndComplete(t *testing.T) {
	dir := t.TempDir()
	recs := []Record{sampleRecord()}

	path, err := WriteBatch(dir, 2, recs)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "wave_data_batch_2.csv"), path)

	complete, err := WriteComplete(dir, recs)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "wave_data_complete.csv"), complete)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Header(), rows[0])
	assert.Equal(t, recs[0].Row(), rows[1])
}

func TestWriteCSVOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")

	require.NoError(t, WriteCSV(path, []Record{sampleRecord()}))
	require.NoError(t, WriteCSV(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, len(splitLines(data)))

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCombineBatches(t *testing.T) {
	dir := t.TempDir()

	rec1 := sampleRecord()
	rec2 := sampleRecord()
	rec2.Incident.Row = 7

	_, err := WriteBatch(dir, 1, []Record{rec1})
	require.NoError(t, err)
	_, err = WriteBatch(dir, 2, []Record{rec2})
	require.NoError(t, err)

	n, err := CombineBatches(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := os.Open(filepath.Join(dir, CompleteFileName))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header(), rows[0])
	assert.Equal(t, "3", rows[1][0])
	assert.Equal(t, "7", rows[2][0])
}

func TestCombineBatchesMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := WriteBatch(dir, 1, []Record{sampleRecord()})
	require.NoError(t, err)

	_, err = CombineBatches(dir, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wave_data_batch_2.csv")
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
