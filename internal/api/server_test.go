// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Becca-90/SLSA-beach-analysis/internal/config"
	"github.com/Becca-90/SLSA-beach-analysis/internal/geo"
	"github.com/Becca-90/SLSA-beach-analysis/internal/jobs"
	"github.com/Becca-90/SLSA-beach-analysis/internal/silo"
)

type stubStations struct {
	stations []silo.Station
	err      error
}

func (s *stubStations) Stations(context.Context, geo.BBox) ([]silo.Station, error) {
	return s.stations, s.err
}

func newTestServer(t *testing.T, cfg config.APIConfig, opts Options) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(cfg, opts).Router())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{}, Options{})

	resp := get(t, srv.URL+"/healthz", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2 := get(t, srv.URL+"/readyz", "")
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	cfg := config.APIConfig{Token: "s3cret"}
	srv := newTestServer(t, cfg, Options{})

	resp := get(t, srv.URL+"/api/status", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp2 := get(t, srv.URL+"/api/status", "wrong")
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)

	resp3 := get(t, srv.URL+"/api/status", "s3cret")
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)

	// Probes stay open.
	resp4 := get(t, srv.URL+"/healthz", "")
	defer resp4.Body.Close()
	assert.Equal(t, http.StatusOK, resp4.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	server := New(config.APIConfig{}, Options{})
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp := get(t, ts.URL+"/api/status", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["running"])
	assert.Nil(t, body["last_run"])

	server.SetStatus(&jobs.Status{RunID: "run-1", Enriched: 10})

	resp2 := get(t, ts.URL+"/api/status", "")
	defer resp2.Body.Close()
	var body2 struct {
		LastRun jobs.Status `json:"last_run"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body2))
	assert.Equal(t, "run-1", body2.LastRun.RunID)
	assert.Equal(t, 10, body2.LastRun.Enriched)
}

func TestRunsWithoutArchive(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{}, Options{})

	resp := get(t, srv.URL+"/api/runs", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNearestStation(t *testing.T) {
	stations := &stubStations{stations: []silo.Station{
		{Number: 66062, Name: "SYDNEY (OBSERVATORY HILL)", Lat: -33.8607, Lon: 151.2050},
		{Number: 9021, Name: "PERTH AIRPORT", Lat: -31.9275, Lon: 115.9764},
	}}
	srv := newTestServer(t, config.APIConfig{}, Options{Stations: stations})

	resp := get(t, srv.URL+"/api/stations/nearest?lat=-33.8915&lon=151.2767", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Station    silo.Station `json:"station"`
		DistanceKM float64      `json:"distance_km"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 66062, body.Station.Number)
	assert.Less(t, body.DistanceKM, 15.0)
}

func TestNearestStationValidation(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{}, Options{Stations: &stubStations{}})

	for _, q := range []string{
		"lat=abc&lon=151",
		"lat=-33&lon=",
		"lat=-95&lon=151",
	} {
		resp := get(t, srv.URL+"/api/stations/nearest?"+q, "")
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestNearestStationUpstreamError(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{}, Options{
		Stations: &stubStations{err: errors.New("silo down")},
	})

	resp := get(t, srv.URL+"/api/stations/nearest?lat=-33&lon=151", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestEnrichSingleFlight(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	started := 0

	runner := func(ctx context.Context, resumeRunID string) (*jobs.Status, error) {
		mu.Lock()
		started++
		mu.Unlock()
		<-release
		return &jobs.Status{RunID: "run-1", Enriched: 5}, nil
	}

	server := New(config.APIConfig{}, Options{Runner: runner})
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/enrich", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Second trigger while the first is still running.
	resp2, err := http.Post(ts.URL+"/api/enrich", "application/json", nil)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)

	close(release)

	require.Eventually(t, func() bool {
		st := server.Status()
		return st != nil && st.RunID == "run-1"
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, started)
}

func TestEnrichResumeRunID(t *testing.T) {
	got := make(chan string, 1)
	runner := func(ctx context.Context, resumeRunID string) (*jobs.Status, error) {
		got <- resumeRunID
		return &jobs.Status{RunID: "run-7"}, nil
	}

	server := New(config.APIConfig{}, Options{Runner: runner})
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/enrich?run_id=run-7", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "run-7", body["run_id"])

	select {
	case id := <-got:
		assert.Equal(t, "run-7", id)
	case <-time.After(2 * time.Second):
		t.Fatal("runner was not invoked")
	}
}

// The startup run and API triggers share one guard, so a trigger during
// the initial run must get 409 rather than a second concurrent run.
func TestTryRunSharesSingleFlight(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	started := 0

	runner := func(ctx context.Context, resumeRunID string) (*jobs.Status, error) {
		mu.Lock()
		started++
		mu.Unlock()
		<-release
		return &jobs.Status{RunID: "run-init"}, nil
	}

	server := New(config.APIConfig{}, Options{Runner: runner})
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	require.True(t, server.TryRun(""))

	resp, err := http.Post(ts.URL+"/api/enrich", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	assert.False(t, server.TryRun(""))

	close(release)

	require.Eventually(t, func() bool {
		st := server.Status()
		return st != nil && st.RunID == "run-init"
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, started)
}

func TestTryRunWithoutRunner(t *testing.T) {
	server := New(config.APIConfig{}, Options{})
	assert.False(t, server.TryRun(""))
}

func TestEnrichWithoutRunner(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{}, Options{})

	resp, err := http.Post(srv.URL+"/api/enrich", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	cfg := config.APIConfig{RateLimitEnabled: true, RateLimitRPM: 3}
	srv := newTestServer(t, cfg, Options{})

	var last int
	for i := 0; i < 5; i++ {
		resp := get(t, srv.URL+"/api/status", "")
		resp.Body.Close()
		last = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
