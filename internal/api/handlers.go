// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/Becca-90/SLSA-beach-analysis/internal/geo"
	"github.com/Becca-90/SLSA-beach-analysis/internal/log"
	"github.com/Becca-90/SLSA-beach-analysis/internal/silo"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"error": http.StatusText(status), "detail": detail})
}

// handleStatus returns the outcome of the most recent run.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.Status()
	if status == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"running":  s.running.Load(),
			"last_run": nil,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running":  s.running.Load(),
		"last_run": status,
	})
}

// handleRuns returns the run history from the archive.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "run archive is not configured")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := s.archive.RecentRuns(r.Context(), limit)
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str("event", "runs.query_error").Msg("failed to query run archive")
		writeError(w, http.StatusInternalServerError, "failed to query run archive")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleNearestStation resolves the closest SILO station to a point.
func (s *Server) handleNearestStation(w http.ResponseWriter, r *http.Request) {
	if s.stations == nil {
		writeError(w, http.StatusServiceUnavailable, "station lookup is not configured")
		return
	}

	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "lat must be a number")
		return
	}
	lon, err := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "lon must be a number")
		return
	}
	p := geo.Point{Lat: lat, Lon: lon}
	if !p.Valid() {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}

	stations, err := s.stations.Stations(r.Context(), geo.Australia)
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str("event", "stations.query_error").Msg("failed to fetch station list")
		writeError(w, http.StatusBadGateway, "failed to fetch station list")
		return
	}

	station, dist, err := silo.Nearest(stations, p)
	if err != nil {
		writeError(w, http.StatusNotFound, "no stations available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"station":     station,
		"distance_km": dist,
	})
}

// handleEnrich triggers a run. Only one run may be in flight; a second
// trigger gets 409. An optional run_id query parameter resumes an
// interrupted run, picking up at its first unfinished batch.
func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "enrichment is not configured")
		return
	}

	resumeRunID := strings.TrimSpace(r.URL.Query().Get("run_id"))
	if !s.TryRun(resumeRunID) {
		writeError(w, http.StatusConflict, "an enrichment run is already in progress")
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str("event", "enrich.triggered").
		Str("remote", r.RemoteAddr).
		Str("resume_run_id", resumeRunID).
		Msg("enrichment run triggered")

	resp := map[string]string{"status": "started"}
	if resumeRunID != "" {
		resp["run_id"] = resumeRunID
	}
	writeJSON(w, http.StatusAccepted, resp)
}
