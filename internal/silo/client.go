// SPDX-License-Identifier: MIT

// Package silo fetches daily climate data from the Queensland LongPaddock
// SILO services: PatchedPoint (station) and DataDrill (gridded) CSV datasets
// plus the station metadata endpoint.
package silo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Becca-90/SLSA-beach-analysis/internal/cache"
	"github.com/Becca-90/SLSA-beach-analysis/internal/geo"
	"github.com/Becca-90/SLSA-beach-analysis/internal/metrics"
)

// UnitsByVariable labels result columns the way the SILO docs define them.
var UnitsByVariable = map[string]string{
	"daily_rain":          "mm",
	"max_temp":            "Celsius",
	"min_temp":            "Celsius",
	"vp":                  "hPa",
	"vp_deficit":          "hPa",
	"evap_pan":            "mm",
	"evap_syn":            "mm",
	"evap_comb":           "mm",
	"evap_morton_lake":    "mm",
	"radiation":           "MJm-2",
	"rh_tmax":             "%",
	"rh_tmin":             "%",
	"et_short_crop":       "mm",
	"et_tall_crop":        "mm",
	"et_morton_actual":    "mm",
	"et_morton_potential": "mm",
	"et_morton_wet":       "mm",
	"mslp":                "hPa",
}

// Limiter gates outgoing requests; satisfied by ratelimit.Limiter.
type Limiter interface {
	Wait(ctx context.Context, source string) error
}

// Options configures the client.
type Options struct {
	StationsURL string
	Username    string
	Password    string
	Timeout     time.Duration
	Cache       cache.Cache
	TTL         time.Duration
	Limiter     Limiter
	Logger      zerolog.Logger
}

type Client struct {
	base        string
	stationsURL string
	username    string
	password    string
	http        *http.Client
	cache       cache.Cache
	ttl         time.Duration
	limiter     Limiter
	logger      zerolog.Logger
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
	stations := opts.StationsURL
	if stations == "" {
		stations = "https://siloapi.longpaddock.qld.gov.au/stations"
	}
	return &Client{
		base:        strings.TrimRight(base, "/"),
		stationsURL: strings.TrimRight(stations, "/"),
		username:    opts.Username,
		password:    opts.Password,
		http:        &http.Client{Timeout: timeout},
		cache:       c,
		ttl:         ttl,
		limiter:     opts.Limiter,
		logger:      opts.Logger,
	}
}

// PointRequest selects either a station (PatchedPoint) or a grid point
// (DataDrill) and a date range.
type PointRequest struct {
	Station  int // station number; zero means use Lat/Lon
	Lat, Lon float64
	Start    time.Time
	Finish   time.Time
}

// PointData fetches daily climate records for the request. Columns are
// labelled with their units per UnitsByVariable.
func (c *Client) PointData(ctx context.Context, req PointRequest) ([]DailyRecord, error) {
	if req.Station == 0 && (req.Lat == 0 || req.Lon == 0) {
		return nil, fmt.Errorf("silo: lat and lon must be provided when station is not specified")
	}
	if req.Start.IsZero() || req.Finish.IsZero() {
		return nil, fmt.Errorf("silo: start and finish dates are required")
	}

	u := c.pointURL(req)
	key := cache.Key("silo", req.Lat, req.Lon,
		fmt.Sprintf("%d:%s:%s", req.Station, req.Start.Format("20060102"), req.Finish.Format("20060102")))

	body, ok := c.cache.Get(key)
	if ok {
		metrics.IncCacheHit("silo")
	} else {
		metrics.IncCacheMiss("silo")
		var err error
		body, err = c.fetch(ctx, u)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, body, c.ttl)
	}

	return ParseCSV(body)
}

// pointURL constructs the dataset URL. PatchedPoint serves station requests,
// DataDrill serves gridded lat/lon requests.
func (c *Client) pointURL(req PointRequest) string {
	endpoint := c.base + "/DataDrillDataset.php"
	if req.Station != 0 {
		endpoint = c.base + "/PatchedPointDataset.php"
	}

	q := url.Values{}
	q.Set("format", "csv")
	q.Set("dataset", "Official")
	q.Set("username", c.username)
	if c.password != "" {
		q.Set("password", c.password)
	}
	q.Set("start", req.Start.Format("20060102"))
	q.Set("finish", req.Finish.Format("20060102"))
	if req.Station != 0 {
		q.Set("station", fmt.Sprintf("%d", req.Station))
	} else {
		q.Set("lat", fmt.Sprintf("%g", req.Lat))
		q.Set("lon", fmt.Sprintf("%g", req.Lon))
	}
	q.Set("comment", "api_request")
	return endpoint + "?" + q.Encode()
}

func (c *Client) fetch(ctx context.Context, u string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "silo"); err != nil {
			return nil, err
		}
	}

	c.logger.Debug().
		Str("event", "silo.request").
		Str("url", Redact(u, c.username, c.password)).
		Msg("requesting SILO dataset")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		metrics.IncUpstreamRequest("silo", "error")
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		metrics.IncUpstreamRequest("silo", "error")
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		metrics.IncUpstreamRequest("silo", "error")
		return nil, fmt.Errorf("silo: unexpected status %d", res.StatusCode)
	}

	// SILO reports parameter errors as a 200 with an apology in the body.
	text := string(body)
	if strings.Contains(text, "Sorry") && strings.Contains(text, "missing essential parameters") {
		metrics.IncUpstreamRequest("silo", "error")
		return nil, &ParameterError{Body: firstLines(text, 5)}
	}

	metrics.IncUpstreamRequest("silo", "success")
	return body, nil
}

// Station is one entry from the station metadata endpoint.
type Station struct {
	Number int     `json:"number"`
	Name   string  `json:"name"`
	Lat    float64 `json:"latitude"`
	Lon    float64 `json:"longitude"`
}

// Point returns the station's coordinate.
func (s Station) Point() geo.Point {
	return geo.Point{Lat: s.Lat, Lon: s.Lon}
}

// Stations lists station metadata within the bounding box.
func (c *Client) Stations(ctx context.Context, box geo.BBox) ([]Station, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "silo"); err != nil {
			return nil, err
		}
	}

	u := c.stationsURL + "?bbox=" + url.QueryEscape(box.Query())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		metrics.IncUpstreamRequest("silo", "error")
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		metrics.IncUpstreamRequest("silo", "error")
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, fmt.Errorf("silo: stations status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Stations []Station `json:"stations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		metrics.IncUpstreamRequest("silo", "error")
		return nil, fmt.Errorf("silo: decode stations: %w", err)
	}
	metrics.IncUpstreamRequest("silo", "success")
	return payload.Stations, nil
}

// Nearest returns the station closest to p and its distance in km.
func Nearest(stations []Station, p geo.Point) (Station, float64, error) {
	if len(stations) == 0 {
		return Station{}, 0, fmt.Errorf("silo: no stations to choose from")
	}
	points := make([]geo.Point, len(stations))
	for i, s := range stations {
		points[i] = s.Point()
	}
	idx, dist := geo.Nearest(p, points)
	return stations[idx], dist, nil
}

// Redact masks credentials embedded in a dataset URL for logging.
func Redact(u, username, password string) string {
	if username != "" {
		u = strings.ReplaceAll(u, url.QueryEscape(username), "USERNAME")
		u = strings.ReplaceAll(u, username, "USERNAME")
	}
	if password != "" {
		u = strings.ReplaceAll(u, url.QueryEscape(password), "PASSWORD")
		u = strings.ReplaceAll(u, password, "PASSWORD")
	}
	return u
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
