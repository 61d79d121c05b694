// SPDX-License-Identifier: MIT

package silo

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// DailyRecord is one day of climate values keyed by unit-labelled column
// name (e.g. "daily_rain_mm").
type DailyRecord struct {
	Date   time.Time
	Values map[string]float64
}

// ParameterError is SILO's "Sorry ... missing essential parameters" body.
type ParameterError struct {
	Body string
}

func (e *ParameterError) Error() string {
	return "silo: request rejected: " + e.Body
}

// ParseCSV parses a SILO CSV payload. The date column arrives named
// "YYYY-MM-DD"; variable columns are renamed with their unit suffix.
func ParseCSV(data []byte) ([]DailyRecord, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("silo: read csv header: %w", err)
	}

	dateCol := -1
	names := make([]string, len(header))
	for i, col := range header {
		col = strings.TrimSpace(col)
		if col == "YYYY-MM-DD" || strings.EqualFold(col, "date") {
			dateCol = i
			continue
		}
		if unit, ok := UnitsByVariable[col]; ok {
			names[i] = col + "_" + unit
		} else {
			names[i] = col
		}
	}
	if dateCol == -1 {
		return nil, fmt.Errorf("silo: csv is missing the YYYY-MM-DD date column")
	}

	var out []DailyRecord
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("silo: read csv row: %w", err)
		}
		if len(row) != len(header) {
			continue
		}

		date, err := time.Parse("2006-01-02", strings.TrimSpace(row[dateCol]))
		if err != nil {
			return nil, fmt.Errorf("silo: parse date %q: %w", row[dateCol], err)
		}

		rec := DailyRecord{Date: date, Values: make(map[string]float64, len(row)-1)}
		for i, cell := range row {
			if i == dateCol || names[i] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				// Non-numeric columns (quality flags, metadata) are skipped.
				continue
			}
			rec.Values[names[i]] = v
		}
		out = append(out, rec)
	}
	return out, nil
}

// On returns the record for the given day, or false.
func On(records []DailyRecord, day time.Time) (DailyRecord, bool) {
	y, m, d := day.UTC().Date()
	for _, rec := range records {
		ry, rm, rd := rec.Date.Date()
		if ry == y && rm == m && rd == d {
			return rec, true
		}
	}
	return DailyRecord{}, false
}
