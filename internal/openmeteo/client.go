// SPDX-License-Identifier: MIT

// Package openmeteo fetches hourly weather from the Open-Meteo archive API
// for incident locations and dates.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Becca-90/SLSA-beach-analysis/internal/cache"
	"github.com/Becca-90/SLSA-beach-analysis/internal/metrics"
)

// hourlyVariables is the fixed set requested from the archive endpoint.
const hourlyVariables = "temperature_2m,relative_humidity_2m,precipitation," +
	"wind_speed_10m,wind_direction_10m,wind_gusts_10m,weather_code"

// Limiter gates outgoing requests; satisfied by ratelimit.Limiter.
type Limiter interface {
	Wait(ctx context.Context, source string) error
}

// Options configures the client beyond its base URL.
type Options struct {
	Timeout time.Duration
	Cache   cache.Cache
	TTL     time.Duration
	Limiter Limiter
}

type Client struct {
	base    string
	http    *http.Client
	cache   cache.Cache
	ttl     time.Duration
	limiter Limiter
}

func New(base string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c := opts.Cache
	if c == nil {
		c = cache.NewNoOp()
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = 6 * time.Hour
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: timeout},
		cache:   c,
		ttl:     ttl,
		limiter: opts.Limiter,
	}
}

// hourlyPayload mirrors the archive API's parallel-array response.
type hourlyPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Hourly    struct {
		Time             []string  `json:"time"`
		Temperature2M    []float64 `json:"temperature_2m"`
		RelativeHumidity []float64 `json:"relative_humidity_2m"`
		Precipitation    []float64 `json:"precipitation"`
		WindSpeed10M     []float64 `json:"wind_speed_10m"`
		WindDirection10M []float64 `json:"wind_direction_10m"`
		WindGusts10M     []float64 `json:"wind_gusts_10m"`
		WeatherCode      []int     `json:"weather_code"`
	} `json:"hourly"`
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// HourlyObservation is one flattened hour of weather.
type HourlyObservation struct {
	Time          time.Time
	TemperatureC  float64
	HumidityPct   float64
	PrecipMM      float64
	WindSpeedKMH  float64
	WindDirection float64
	WindGustsKMH  float64
	WeatherCode   int
}

// Hourly fetches the hourly observations for one location and UTC day.
func (c *Client) Hourly(ctx context.Context, lat, lon float64, day time.Time) ([]HourlyObservation, error) {
	date := day.UTC().Format("2006-01-02")
	key := cache.Key("openmeteo", lat, lon, date)

	body, ok := c.cache.Get(key)
	if ok {
		metrics.IncCacheHit("openmeteo")
	} else {
		metrics.IncCacheMiss("openmeteo")
		var err error
		body, err = c.fetch(ctx, lat, lon, date)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, body, c.ttl)
	}

	var p hourlyPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, &Error{Kind: KindDecode, Err: err}
	}
	if p.Error {
		return nil, &Error{Kind: KindUpstream, Reason: p.Reason}
	}
	return flatten(p)
}

func (c *Client) fetch(ctx context.Context, lat, lon float64, date string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "openmeteo"); err != nil {
			return nil, err
		}
	}

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.5f", lat))
	q.Set("longitude", fmt.Sprintf("%.5f", lon))
	q.Set("start_date", date)
	q.Set("end_date", date)
	q.Set("hourly", hourlyVariables)
	q.Set("timezone", "UTC")

	u := c.base + "/v1/archive?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	res, err := c.http.Do(req)
	if err != nil {
		metrics.IncUpstreamRequest("openmeteo", "error")
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		metrics.IncUpstreamRequest("openmeteo", "error")
		return nil, err
	}

	// The archive API reports errors as JSON bodies on 4xx; surface the
	// reason when it parses, the status otherwise.
	if res.StatusCode != http.StatusOK {
		metrics.IncUpstreamRequest("openmeteo", "error")
		var p hourlyPayload
		if json.Unmarshal(body, &p) == nil && p.Reason != "" {
			return nil, &Error{Kind: KindUpstream, Status: res.StatusCode, Reason: p.Reason}
		}
		return nil, &Error{Kind: KindStatus, Status: res.StatusCode}
	}

	metrics.IncUpstreamRequest("openmeteo", "success")
	return body, nil
}

func flatten(p hourlyPayload) ([]HourlyObservation, error) {
	h := p.Hourly
	n := len(h.Time)
	out := make([]HourlyObservation, 0, n)
	for i, raw := range h.Time {
		// API emits "2006-01-02T15:04" in the requested timezone (UTC).
		ts, err := time.Parse("2006-01-02T15:04", raw)
		if err != nil {
			return nil, &Error{Kind: KindDecode, Err: fmt.Errorf("hourly time %q: %w", raw, err)}
		}
		obs := HourlyObservation{Time: ts.UTC()}
		if i < len(h.Temperature2M) {
			obs.TemperatureC = h.Temperature2M[i]
		}
		if i < len(h.RelativeHumidity) {
			obs.HumidityPct = h.RelativeHumidity[i]
		}
		if i < len(h.Precipitation) {
			obs.PrecipMM = h.Precipitation[i]
		}
		if i < len(h.WindSpeed10M) {
			obs.WindSpeedKMH = h.WindSpeed10M[i]
		}
		if i < len(h.WindDirection10M) {
			obs.WindDirection = h.WindDirection10M[i]
		}
		if i < len(h.WindGusts10M) {
			obs.WindGustsKMH = h.WindGusts10M[i]
		}
		if i < len(h.WeatherCode) {
			obs.WeatherCode = h.WeatherCode[i]
		}
		out = append(out, obs)
	}
	return out, nil
}

// At returns the observation closest in time to t, or false when obs is empty.
func At(obs []HourlyObservation, t time.Time) (HourlyObservation, bool) {
	if len(obs) == 0 {
		return HourlyObservation{}, false
	}
	best := obs[0]
	bestDelta := absDuration(t.Sub(obs[0].Time))
	for _, o := range obs[1:] {
		if d := absDuration(t.Sub(o.Time)); d < bestDelta {
			best = o
			bestDelta = d
		}
	}
	return best, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
