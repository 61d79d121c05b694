// SPDX-License-Identifier: MIT

package waves

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Becca-90/SLSA-beach-analysis/internal/cache"
)

// AODN serves 3-hourly coastal wave parameters from the AODN portal's
// gridded product. It is the primary wave source.
type AODN struct {
	base string
	up   upstream
}

func NewAODN(base string, opts Options) *AODN {
	return &AODN{
		base: strings.TrimRight(base, "/"),
		up:   newUpstream("aodn", opts),
	}
}

func (a *AODN) Name() string { return "aodn" }

type aodnPayload struct {
	Observations []struct {
		Time         string  `json:"time"`
		Hs           float64 `json:"hs"`
		Tp           float64 `json:"tp"`
		DirectionDeg float64 `json:"dir"`
	} `json:"observations"`
	Error string `json:"error,omitempty"`
}

// Fetch returns the 3-hourly samples for the given day (00:00 to 21:00
// UTC). An empty observation list is treated as no coverage, which
// triggers fallback in the chain.
func (a *AODN) Fetch(ctx context.Context, lat, lon float64, day time.Time) ([]Observation, error) {
	date := day.UTC().Format("2006-01-02")

	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.4f", lat))
	q.Set("lon", fmt.Sprintf("%.4f", lon))
	q.Set("date", date)

	var payload aodnPayload
	key := cache.Key("aodn", lat, lon, date)
	if err := a.up.cachedJSON(ctx, key, a.base+"/api/waves?"+q.Encode(), &payload); err != nil {
		return nil, err
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("aodn: %s", payload.Error)
	}
	if len(payload.Observations) == 0 {
		return nil, fmt.Errorf("aodn: no coverage at %.4f,%.4f on %s", lat, lon, date)
	}

	out := make([]Observation, 0, len(payload.Observations))
	for _, o := range payload.Observations {
		t, err := time.Parse(time.RFC3339, o.Time)
		if err != nil {
			return nil, fmt.Errorf("aodn: parse time %q: %w", o.Time, err)
		}
		out = append(out, Observation{
			Time:                    t,
			SignificantWaveHeightM:  o.Hs,
			PrimaryWavePeriodS:      o.Tp,
			PrimaryWaveDirectionDeg: o.DirectionDeg,
			Source:                  "aodn",
		})
	}
	return out, nil
}
