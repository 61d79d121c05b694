// SPDX-License-Identifier: MIT

package waves

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Becca-90/SLSA-beach-analysis/internal/cache"
	"github.com/Becca-90/SLSA-beach-analysis/internal/geo"
)

// cawcrGridSpacing is the resolution of the CAWCR Australian hindcast
// grid, 4 arc-minutes.
const cawcrGridSpacing = 4.0 / 60.0

// cawcrGridOrigin anchors the hindcast grid at the south-west corner of
// the Australian domain.
var cawcrGridOrigin = geo.Point{Lat: geo.Australia.MinLat, Lon: geo.Australia.MinLon}

// CAWCR reads the CSIRO wave hindcast. It covers dates before the buoy
// and satellite records begin, at the cost of being modelled rather than
// observed.
type CAWCR struct {
	base string
	up   upstream
}

func NewCAWCR(base string, opts Options) *CAWCR {
	return &CAWCR{
		base: strings.TrimRight(base, "/"),
		up:   newUpstream("cawcr", opts),
	}
}

func (c *CAWCR) Name() string { return "cawcr" }

type cawcrPayload struct {
	Records []struct {
		Time         string  `json:"time"`
		Hs           float64 `json:"hs"`
		Tp           float64 `json:"t02"`
		DirectionDeg float64 `json:"dir"`
	} `json:"records"`
}

// GridPoint returns the hindcast grid node the given point snaps to.
func (c *CAWCR) GridPoint(lat, lon float64) geo.Point {
	return geo.SnapToGrid(geo.Point{Lat: lat, Lon: lon}, cawcrGridOrigin, cawcrGridSpacing)
}

// Fetch returns the hourly hindcast values at the nearest grid node for
// the given day.
func (c *CAWCR) Fetch(ctx context.Context, lat, lon float64, day time.Time) ([]Observation, error) {
	node := c.GridPoint(lat, lon)
	date := day.UTC().Format("2006-01-02")

	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.4f", node.Lat))
	q.Set("lon", fmt.Sprintf("%.4f", node.Lon))
	q.Set("date", date)

	var payload cawcrPayload
	key := cache.Key("cawcr", node.Lat, node.Lon, date)
	if err := c.up.cachedJSON(ctx, key, c.base+"/hindcast/point?"+q.Encode(), &payload); err != nil {
		return nil, err
	}
	if len(payload.Records) == 0 {
		return nil, fmt.Errorf("cawcr: no hindcast at grid node %s on %s", node, date)
	}

	out := make([]Observation, 0, len(payload.Records))
	for _, r := range payload.Records {
		t, err := time.Parse(time.RFC3339, r.Time)
		if err != nil {
			return nil, fmt.Errorf("cawcr: parse time %q: %w", r.Time, err)
		}
		out = append(out, Observation{
			Time:                    t,
			SignificantWaveHeightM:  r.Hs,
			PrimaryWavePeriodS:      r.Tp,
			PrimaryWaveDirectionDeg: r.DirectionDeg,
			Source:                  "cawcr",
		})
	}
	return out, nil
}
