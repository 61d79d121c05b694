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

// IMOS fetches hourly samples from the nearest IMOS wave buoy. It is the
// fallback when the AODN grid has no coverage at a point; buoys further
// than MaxBuoyDistanceKM are not considered representative.
type IMOS struct {
	base        string
	maxDistance float64
	up          upstream
}

func NewIMOS(base string, opts Options) *IMOS {
	maxDist := opts.MaxBuoyDistanceKM
	if maxDist == 0 {
		maxDist = 100
	}
	return &IMOS{
		base:        strings.TrimRight(base, "/"),
		maxDistance: maxDist,
		up:          newUpstream("imos", opts),
	}
}

func (m *IMOS) Name() string { return "imos" }

// Buoy is one station in the IMOS wave buoy network.
type Buoy struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

type buoyListPayload struct {
	Buoys []Buoy `json:"buoys"`
}

type buoyObsPayload struct {
	Observations []struct {
		Time         string  `json:"time"`
		Hs           float64 `json:"hs"`
		Tp           float64 `json:"tp"`
		DirectionDeg float64 `json:"dir"`
	} `json:"observations"`
}

// Buoys returns the buoy network. The list changes rarely, so it is
// cached under a fixed key.
func (m *IMOS) Buoys(ctx context.Context) ([]Buoy, error) {
	var payload buoyListPayload
	if err := m.up.cachedJSON(ctx, "imos:buoys", m.base+"/api/buoys", &payload); err != nil {
		return nil, err
	}
	return payload.Buoys, nil
}

// NearestBuoy returns the closest buoy to the point and its distance.
func (m *IMOS) NearestBuoy(ctx context.Context, lat, lon float64) (Buoy, float64, error) {
	buoys, err := m.Buoys(ctx)
	if err != nil {
		return Buoy{}, 0, err
	}
	points := make([]geo.Point, len(buoys))
	for i, b := range buoys {
		points[i] = geo.Point{Lat: b.Lat, Lon: b.Lon}
	}
	idx, dist := geo.Nearest(geo.Point{Lat: lat, Lon: lon}, points)
	if idx == -1 {
		return Buoy{}, 0, fmt.Errorf("imos: no buoys available")
	}
	return buoys[idx], dist, nil
}

// Fetch returns the hourly samples recorded by the nearest buoy on the
// given day.
func (m *IMOS) Fetch(ctx context.Context, lat, lon float64, day time.Time) ([]Observation, error) {
	buoy, dist, err := m.NearestBuoy(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	if dist > m.maxDistance {
		return nil, fmt.Errorf("imos: nearest buoy %s is %.0f km away (max %.0f km)",
			buoy.ID, dist, m.maxDistance)
	}

	date := day.UTC().Format("2006-01-02")
	q := url.Values{}
	q.Set("date", date)

	var payload buoyObsPayload
	key := cache.Key("imos", buoy.Lat, buoy.Lon, date)
	rawURL := fmt.Sprintf("%s/api/buoys/%s/observations?%s", m.base, url.PathEscape(buoy.ID), q.Encode())
	if err := m.up.cachedJSON(ctx, key, rawURL, &payload); err != nil {
		return nil, err
	}
	if len(payload.Observations) == 0 {
		return nil, fmt.Errorf("imos: buoy %s has no samples on %s", buoy.ID, date)
	}

	out := make([]Observation, 0, len(payload.Observations))
	for _, o := range payload.Observations {
		t, err := time.Parse(time.RFC3339, o.Time)
		if err != nil {
			return nil, fmt.Errorf("imos: parse time %q: %w", o.Time, err)
		}
		out = append(out, Observation{
			Time:                    t,
			SignificantWaveHeightM:  o.Hs,
			PrimaryWavePeriodS:      o.Tp,
			PrimaryWaveDirectionDeg: o.DirectionDeg,
			Source:                  "imos",
			BuoyID:                  buoy.ID,
			BuoyDistanceKM:          dist,
		})
	}
	return out, nil
}
