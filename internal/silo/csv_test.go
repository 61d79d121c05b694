// SPDX-License-Identifier: MIT

package silo

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSV(t *testing.T) {
	data := []byte("YYYY-MM-DD,daily_rain,max_temp,metadata\n" +
		"2020-06-01,1.2,18.4,patched\n" +
		"2020-06-02,,17.9,patched\n")

	recs, err := ParseCSV(data)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	want := map[string]float64{
		"daily_rain_mm":    1.2,
		"max_temp_Celsius": 18.4,
	}
	if diff := cmp.Diff(want, recs[0].Values); diff != "" {
		t.Errorf("record values mismatch (-want +got):\n%s", diff)
	}

	// Empty rain cell is absent, not zero.
	_, ok := recs[1].Values["daily_rain_mm"]
	assert.False(t, ok)
	assert.Equal(t, 17.9, recs[1].Values["max_temp_Celsius"])
}

func TestParseCSVMissingDateColumn(t *testing.T) {
	_, err := ParseCSV([]byte("daily_rain,max_temp\n1.0,20.0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "date column")
}

func TestParseCSVAcceptsRenamedDate(t *testing.T) {
	recs, err := ParseCSV([]byte("date,daily_rain\n2020-06-01,3.4\n"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 3.4, recs[0].Values["daily_rain_mm"])
}

func TestOn(t *testing.T) {
	recs := []DailyRecord{
		{Date: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)},
		{Date: time.Date(2020, 6, 2, 0, 0, 0, 0, time.UTC), Values: map[string]float64{"daily_rain_mm": 9.1}},
	}

	rec, ok := On(recs, time.Date(2020, 6, 2, 14, 30, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, 9.1, rec.Values["daily_rain_mm"])

	_, ok = On(recs, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}
