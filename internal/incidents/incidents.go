// SPDX-License-Identifier: MIT

// Package incidents reads the beach incident input file. Each row carries
// a location and a local timestamp; rows that cannot be parsed are
// reported and skipped rather than failing the whole run.
package incidents

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Becca-90/SLSA-beach-analysis/internal/geo"
	"github.com/Becca-90/SLSA-beach-analysis/internal/log"
	"github.com/Becca-90/SLSA-beach-analysis/internal/metrics"
)

// Incident is one row of the input file with its timestamp normalised
// to UTC.
type Incident struct {
	// Row is the 1-based data row number in the source file, used to
	// correlate output records back to the input.
	Row      int
	Location geo.Point
	// Time is the incident timestamp in UTC.
	Time time.Time
	// LocalTime preserves the timestamp as recorded at the beach.
	LocalTime time.Time
}

// Day returns the UTC calendar day of the incident, which is the unit
// the upstream archives are queried by.
func (i Incident) Day() time.Time {
	y, m, d := i.Time.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SkippedRow describes an input row that could not be used.
type SkippedRow struct {
	Row    int
	Reason string
}

// timeLayouts are tried in order against the date2 column. The source
// exports use a mix of day-first and ISO forms.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2/01/2006 15:04",
	"2/01/2006",
	"2006-01-02",
}

// Reader parses incident CSV files.
type Reader struct {
	loc *time.Location
}

// NewReader builds a reader that interprets incident timestamps in the
// named IANA timezone (typically "Australia/Sydney").
func NewReader(timezone string) (*Reader, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("incidents: load timezone %q: %w", timezone, err)
	}
	return &Reader{loc: loc}, nil
}

// ReadFile reads the incident file at path.
func (r *Reader) ReadFile(path string) ([]Incident, []SkippedRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("incidents: open %s: %w", path, err)
	}
	defer f.Close()
	return r.Read(f)
}

// Read parses incident rows from src. The header must contain lat, long
// (or lon) and date2 columns in any casing and order. Invalid rows are
// returned as SkippedRow entries, not errors.
func (r *Reader) Read(src io.Reader) ([]Incident, []SkippedRow, error) {
	logger := log.WithComponent("incidents")

	cr := csv.NewReader(src)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("incidents: read header: %w", err)
	}

	latCol, lonCol, dateCol := -1, -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "lat", "latitude":
			latCol = i
		case "long", "lon", "longitude":
			lonCol = i
		case "date2":
			dateCol = i
		}
	}
	if latCol == -1 || lonCol == -1 || dateCol == -1 {
		return nil, nil, fmt.Errorf("incidents: header must contain lat, long and date2 columns, got %v", header)
	}

	var (
		out     []Incident
		skipped []SkippedRow
		row     int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("incidents: read row: %w", err)
		}
		row++

		inc, reason := r.parseRow(rec, latCol, lonCol, dateCol)
		if reason != "" {
			metrics.IncIncidentSkipped()
			skipped = append(skipped, SkippedRow{Row: row, Reason: reason})
			logger.Warn().
				Str("event", "incidents.row_skipped").
				Int("row", row).
				Str("reason", reason).
				Msg("skipping invalid incident row")
			continue
		}
		inc.Row = row
		out = append(out, inc)
	}

	metrics.RecordIncidentsLoaded(len(out))
	logger.Info().
		Str("event", "incidents.loaded").
		Int("incidents", len(out)).
		Int("skipped", len(skipped)).
		Msg("incident file loaded")
	return out, skipped, nil
}

func (r *Reader) parseRow(rec []string, latCol, lonCol, dateCol int) (Incident, string) {
	if latCol >= len(rec) || lonCol >= len(rec) || dateCol >= len(rec) {
		return Incident{}, "short row"
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(rec[latCol]), 64)
	if err != nil {
		return Incident{}, fmt.Sprintf("invalid lat %q", rec[latCol])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(rec[lonCol]), 64)
	if err != nil {
		return Incident{}, fmt.Sprintf("invalid long %q", rec[lonCol])
	}
	p := geo.Point{Lat: lat, Lon: lon}
	if !p.Valid() {
		return Incident{}, fmt.Sprintf("coordinates %s out of range", p)
	}

	raw := strings.TrimSpace(rec[dateCol])
	var local time.Time
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, raw, r.loc); err == nil {
			local = t
			break
		}
	}
	if local.IsZero() {
		return Incident{}, fmt.Sprintf("unparseable date2 %q", raw)
	}

	return Incident{
		Location:  p,
		Time:      local.UTC(),
		LocalTime: local,
	}, ""
}
