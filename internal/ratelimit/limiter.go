// SPDX-License-Identifier: MIT

// Package ratelimit paces requests to the upstream climate services. Each
// source (open-meteo, silo, aodn, imos, cawcr) gets its own token bucket so
// one slow service cannot starve the others of budget.
package ratelimit

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var throttleWaits = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "beach",
		Name:      "upstream_throttle_waits_total",
		Help:      "Times an upstream request had to wait for rate limit tokens",
	},
	[]string{"source"},
)

// SourceLimit configures one upstream's budget.
type SourceLimit struct {
	Rate  rate.Limit // requests per second
	Burst int
}

// Limiter manages per-source token buckets.
type Limiter struct {
	mu       sync.RWMutex
	limits   map[string]SourceLimit
	limiters map[string]*rate.Limiter
	fallback SourceLimit
}

// DefaultLimits mirror the pauses the upstream services tolerate.
func DefaultLimits() map[string]SourceLimit {
	return map[string]SourceLimit{
		"openmeteo": {Rate: 10, Burst: 10},
		"silo":      {Rate: 2, Burst: 2},
		"aodn":      {Rate: 5, Burst: 5},
		"imos":      {Rate: 5, Burst: 5},
		"cawcr":     {Rate: 1, Burst: 2},
	}
}

// New creates a limiter registry. Unknown sources fall back to 1 rps.
func New(limits map[string]SourceLimit) *Limiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Limiter{
		limits:   limits,
		limiters: make(map[string]*rate.Limiter),
		fallback: SourceLimit{Rate: 1, Burst: 1},
	}
}

func (l *Limiter) get(source string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[source]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[source]; ok {
		return lim
	}
	cfg, ok := l.limits[source]
	if !ok {
		cfg = l.fallback
	}
	lim = rate.NewLimiter(cfg.Rate, cfg.Burst)
	l.limiters[source] = lim
	return lim
}

// Wait blocks until the source has a token or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context, source string) error {
	lim := l.get(source)
	if lim.Allow() {
		return nil
	}
	throttleWaits.WithLabelValues(source).Inc()
	return lim.Wait(ctx)
}

// Allow reports whether a request may proceed without waiting.
func (l *Limiter) Allow(source string) bool {
	return l.get(source).Allow()
}

// SetLimit replaces the budget for a source, resetting its bucket.
func (l *Limiter) SetLimit(source string, limit SourceLimit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[source] = limit
	delete(l.limiters, source)
}
