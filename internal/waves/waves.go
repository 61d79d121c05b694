// SPDX-License-Identifier: MIT

// Package waves fetches sea-state observations for incident locations.
// The primary source is the AODN portal; when it has no coverage near a
// point, the nearest IMOS wave buoy is used, and the CAWCR hindcast grid
// serves historical dates that pre-date the observation networks.
package waves

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Becca-90/SLSA-beach-analysis/internal/cache"
	"github.com/Becca-90/SLSA-beach-analysis/internal/log"
	"github.com/Becca-90/SLSA-beach-analysis/internal/metrics"
)

// Observation is one sea-state sample at a point in time.
type Observation struct {
	Time                    time.Time
	SignificantWaveHeightM  float64
	PrimaryWavePeriodS      float64
	PrimaryWaveDirectionDeg float64
	// Source names the provider that produced the sample
	// ("aodn", "imos" or "cawcr").
	Source string
	// Buoy metadata, set only for IMOS samples.
	BuoyID         string
	BuoyDistanceKM float64
}

// Provider fetches wave observations for one location and day.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, lat, lon float64, day time.Time) ([]Observation, error)
}

// Limiter gates outgoing requests; satisfied by ratelimit.Limiter.
type Limiter interface {
	Wait(ctx context.Context, source string) error
}

// Options configures a provider beyond its base URL.
type Options struct {
	Timeout time.Duration
	Cache   cache.Cache
	TTL     time.Duration
	Limiter Limiter
	// MaxBuoyDistanceKM bounds the IMOS nearest-buoy search.
	MaxBuoyDistanceKM float64
}

// Chain tries providers in order and returns the first successful result.
type Chain struct {
	providers []Provider
	logger    zerolog.Logger
}

// NewChain builds a fallback chain over the given providers.
func NewChain(providers ...Provider) *Chain {
	return &Chain{
		providers: providers,
		logger:    log.WithComponent("waves"),
	}
}

func (c *Chain) Name() string { return "chain" }

// Fetch walks the chain. A provider error triggers fallback to the next
// provider; only when every provider fails is an error returned.
func (c *Chain) Fetch(ctx context.Context, lat, lon float64, day time.Time) ([]Observation, error) {
	var lastErr error
	for i, p := range c.providers {
		obs, err := p.Fetch(ctx, lat, lon, day)
		if err == nil {
			return obs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i < len(c.providers)-1 {
			metrics.IncUpstreamRequest(p.Name(), "fallback")
			c.logger.Warn().
				Str("event", "waves.fallback").
				Str("from", p.Name()).
				Str("to", c.providers[i+1].Name()).
				Float64("lat", lat).
				Float64("lon", lon).
				Err(err).
				Msg("wave provider failed, trying next")
		}
	}
	if lastErr == nil {
		return nil, fmt.Errorf("waves: no providers configured")
	}
	return nil, fmt.Errorf("waves: all providers failed: %w", lastErr)
}

// At returns the observation closest in time to t, or false when obs is
// empty.
func At(obs []Observation, t time.Time) (Observation, bool) {
	if len(obs) == 0 {
		return Observation{}, false
	}
	best := 0
	bestDiff := absDuration(obs[0].Time.Sub(t))
	for i := 1; i < len(obs); i++ {
		if d := absDuration(obs[i].Time.Sub(t)); d < bestDiff {
			best = i
			bestDiff = d
		}
	}
	return obs[best], true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
