// SPDX-License-Identifier: MIT

package waves

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Becca-90/SLSA-beach-analysis/internal/cache"
)

var testDay = time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

func aodnBody(hours ...int) string {
	body := `{"observations":[`
	for i, h := range hours {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"time":"2020-06-01T%02d:00:00Z","hs":%.1f,"tp":%.1f,"dir":%d}`,
			h, 1.0+float64(i)*0.1, 8.0, 180+h)
	}
	return body + `]}`
}

func TestAODNFetch(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/waves", r.URL.Path)
		gotQuery = map[string]string{
			"lat":  r.URL.Query().Get("lat"),
			"lon":  r.URL.Query().Get("lon"),
			"date": r.URL.Query().Get("date"),
		}
		fmt.Fprint(w, aodnBody(0, 3, 6, 9, 12, 15, 18, 21))
	}))
	defer srv.Close()

	p := NewAODN(srv.URL, Options{})
	obs, err := p.Fetch(context.Background(), -33.8915, 151.2767, testDay)
	require.NoError(t, err)
	require.Len(t, obs, 8)

	assert.Equal(t, "-33.8915", gotQuery["lat"])
	assert.Equal(t, "151.2767", gotQuery["lon"])
	assert.Equal(t, "2020-06-01", gotQuery["date"])

	assert.Equal(t, 1.0, obs[0].SignificantWaveHeightM)
	assert.Equal(t, "aodn", obs[0].Source)
	assert.Equal(t, 3, obs[1].Time.Hour())
}

func TestAODNNoCoverage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"observations":[]}`)
	}))
	defer srv.Close()

	p := NewAODN(srv.URL, Options{})
	_, err := p.Fetch(context.Background(), -33.0, 151.0, testDay)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no coverage")
}

func TestAODNUsesCache(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, aodnBody(0, 3))
	}))
	defer srv.Close()

	mem := cache.NewMemory(time.Minute)
	defer mem.Stop()

	p := NewAODN(srv.URL, Options{Cache: mem})
	for i := 0; i < 3; i++ {
		obs, err := p.Fetch(context.Background(), -33.0, 151.0, testDay)
		require.NoError(t, err)
		require.Len(t, obs, 2)
	}
	assert.Equal(t, 1, hits)
}

func newIMOSServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/buoys", func(w http.ResponseWriter, r *http.Request) {
		// Sydney and Torbay buoys; Sydney is nearest to Bondi.
		fmt.Fprint(w, `{"buoys":[
			{"id":"SYD","name":"Sydney","lat":-33.7717,"lon":151.4083},
			{"id":"TOR","name":"Torbay","lat":-35.0733,"lon":117.7617}
		]}`)
	})
	mux.HandleFunc("/api/buoys/SYD/observations", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "2020-06-01", r.URL.Query().Get("date"))
		fmt.Fprint(w, `{"observations":[
			{"time":"2020-06-01T10:00:00Z","hs":2.1,"tp":9.5,"dir":145},
			{"time":"2020-06-01T11:00:00Z","hs":2.3,"tp":9.8,"dir":150}
		]}`)
	})
	return httptest.NewServer(mux)
}

func TestIMOSFetch(t *testing.T) {
	srv := newIMOSServer(t)
	defer srv.Close()

	p := NewIMOS(srv.URL, Options{MaxBuoyDistanceKM: 100})
	obs, err := p.Fetch(context.Background(), -33.8915, 151.2767, testDay)
	require.NoError(t, err)
	require.Len(t, obs, 2)

	assert.Equal(t, "imos", obs[0].Source)
	assert.Equal(t, "SYD", obs[0].BuoyID)
	assert.InDelta(t, 18, obs[0].BuoyDistanceKM, 5)
	assert.Equal(t, 2.3, obs[1].SignificantWaveHeightM)
}

func TestIMOSRejectsDistantBuoy(t *testing.T) {
	srv := newIMOSServer(t)
	defer srv.Close()

	// Perth is ~400 km from the Torbay buoy and much further from Sydney.
	p := NewIMOS(srv.URL, Options{MaxBuoyDistanceKM: 100})
	_, err := p.Fetch(context.Background(), -31.9523, 115.8613, testDay)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "km away")
}

func TestCAWCRGridPoint(t *testing.T) {
	c := NewCAWCR("http://example.invalid", Options{})
	node := c.GridPoint(-33.8915, 151.2767)

	// Snapped coordinates sit on the 4 arc-minute grid.
	spacing := 4.0 / 60.0
	assert.InDelta(t, node.Lat, -33.8915, spacing/2+1e-9)
	assert.InDelta(t, node.Lon, 151.2767, spacing/2+1e-9)
}

func TestCAWCRFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/hindcast/point", r.URL.Path)
		fmt.Fprint(w, `{"records":[
			{"time":"2020-06-01T00:00:00Z","hs":1.8,"t02":7.2,"dir":200}
		]}`)
	}))
	defer srv.Close()

	c := NewCAWCR(srv.URL, Options{})
	obs, err := c.Fetch(context.Background(), -33.8915, 151.2767, testDay)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, 1.8, obs[0].SignificantWaveHeightM)
	assert.Equal(t, "cawcr", obs[0].Source)
}

type stubProvider struct {
	name string
	obs  []Observation
	err  error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Fetch(context.Context, float64, float64, time.Time) ([]Observation, error) {
	return s.obs, s.err
}

func TestChainFallsBack(t *testing.T) {
	want := []Observation{{Source: "imos", SignificantWaveHeightM: 1.5}}
	chain := NewChain(
		&stubProvider{name: "aodn", err: errors.New("no coverage")},
		&stubProvider{name: "imos", obs: want},
	)

	obs, err := chain.Fetch(context.Background(), -33.0, 151.0, testDay)
	require.NoError(t, err)
	assert.Equal(t, want, obs)
}

func TestChainAllFail(t *testing.T) {
	chain := NewChain(
		&stubProvider{name: "aodn", err: errors.New("down")},
		&stubProvider{name: "imos", err: errors.New("also down")},
	)

	_, err := chain.Fetch(context.Background(), -33.0, 151.0, testDay)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all providers failed")
	assert.Contains(t, err.Error(), "also down")
}

func TestAt(t *testing.T) {
	obs := []Observation{
		{Time: time.Date(2020, 6, 1, 9, 0, 0, 0, time.UTC), SignificantWaveHeightM: 1.0},
		{Time: time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC), SignificantWaveHeightM: 2.0},
	}

	got, ok := At(obs, time.Date(2020, 6, 1, 11, 15, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, 2.0, got.SignificantWaveHeightM)

	_, ok = At(nil, testDay)
	assert.False(t, ok)
}
