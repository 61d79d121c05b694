// SPDX-License-Identifier: MIT

// Package api exposes the operator HTTP surface: health probes, run
// status and history, the nearest-station lookup and the enrich
// trigger.
package api

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Becca-90/SLSA-beach-analysis/internal/config"
	"github.com/Becca-90/SLSA-beach-analysis/internal/geo"
	"github.com/Becca-90/SLSA-beach-analysis/internal/health"
	"github.com/Becca-90/SLSA-beach-analysis/internal/jobs"
	"github.com/Becca-90/SLSA-beach-analysis/internal/log"
	"github.com/Becca-90/SLSA-beach-analysis/internal/silo"
	"github.com/Becca-90/SLSA-beach-analysis/internal/store"
)

// Runner starts an enrichment run; satisfied by a closure over
// jobs.Enrich in the daemon. A non-empty resumeRunID resumes an
// interrupted run instead of starting a fresh one.
type Runner func(ctx context.Context, resumeRunID string) (*jobs.Status, error)

// StationSource lists SILO stations; satisfied by silo.Client.
type StationSource interface {
	Stations(ctx context.Context, box geo.BBox) ([]silo.Station, error)
}

// Server holds the API dependencies.
type Server struct {
	cfg      config.APIConfig
	health   *health.Manager
	runner   Runner
	archive  *store.DB
	stations StationSource
	baseCtx  context.Context

	running atomic.Bool

	mu     sync.RWMutex
	status *jobs.Status
}

// Options are the optional Server dependencies. Archive and Stations
// may be nil; the corresponding endpoints then return 503.
type Options struct {
	Health   *health.Manager
	Runner   Runner
	Archive  *store.DB
	Stations StationSource
	// BaseCtx is the daemon lifetime context; triggered runs execute
	// under it rather than the request context.
	BaseCtx context.Context
}

// New builds the API server.
func New(cfg config.APIConfig, opts Options) *Server {
	h := opts.Health
	if h == nil {
		h = health.NewManager("", false)
	}
	baseCtx := opts.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Server{
		cfg:      cfg,
		health:   h,
		runner:   opts.Runner,
		archive:  opts.Archive,
		stations: opts.Stations,
		baseCtx:  baseCtx,
	}
}

// SetStatus records the outcome of the most recent run, from whichever
// caller triggered it.
func (s *Server) SetStatus(status *jobs.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Status returns the most recent run status, or nil.
func (s *Server) Status() *jobs.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// TryRun starts an enrichment run under the single-flight guard and
// reports whether it started. Every trigger path goes through here so
// two runs can never write batch files concurrently. The run executes
// under the daemon context and outlives the caller.
func (s *Server) TryRun(resumeRunID string) bool {
	if s.runner == nil {
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		return false
	}

	go func() {
		defer s.running.Store(false)

		status, err := s.runner(s.baseCtx, resumeRunID)
		if status != nil {
			s.SetStatus(status)
		}
		if err != nil {
			logger := log.WithComponent("api")
			logger.Error().Err(err).Str("event", "enrich.run_error").Msg("enrichment run failed")
		}
	}()
	return true
}

// Router assembles the chi router with the middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.RateLimitEnabled {
		r.Use(rateLimit(s.cfg.RateLimitRPM, time.Minute))
	}

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/status", s.handleStatus)
		r.Get("/runs", s.handleRuns)
		r.Get("/stations/nearest", s.handleNearestStation)
		r.Post("/enrich", s.handleEnrich)
	})

	return r
}
