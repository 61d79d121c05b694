// SPDX-License-Identifier: MIT

// Package jobs runs the enrichment pipeline: read incidents, fetch
// weather, climate and wave data for each one, and publish the batch
// and combined CSV files.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Becca-90/SLSA-beach-analysis/internal/incidents"
	"github.com/Becca-90/SLSA-beach-analysis/internal/log"
	"github.com/Becca-90/SLSA-beach-analysis/internal/metrics"
	"github.com/Becca-90/SLSA-beach-analysis/internal/observations"
	"github.com/Becca-90/SLSA-beach-analysis/internal/openmeteo"
	"github.com/Becca-90/SLSA-beach-analysis/internal/silo"
	"github.com/Becca-90/SLSA-beach-analysis/internal/store"
	"github.com/Becca-90/SLSA-beach-analysis/internal/waves"
)

// WeatherClient fetches hourly weather; satisfied by openmeteo.Client.
type WeatherClient interface {
	Hourly(ctx context.Context, lat, lon float64, day time.Time) ([]openmeteo.HourlyObservation, error)
}

// ClimateClient fetches daily climate records; satisfied by silo.Client.
type ClimateClient interface {
	PointData(ctx context.Context, req silo.PointRequest) ([]silo.DailyRecord, error)
}

// Deps are the upstream clients and stores the pipeline works against.
// Archive and Checkpoints are optional.
type Deps struct {
	Weather     WeatherClient
	Climate     ClimateClient
	Waves       waves.Provider
	Archive     *store.DB
	Checkpoints *store.CheckpointStore
}

// Validate checks that the required clients are present.
func (d Deps) Validate() error {
	if d.Weather == nil {
		return fmt.Errorf("jobs: weather client is required")
	}
	if d.Climate == nil {
		return fmt.Errorf("jobs: climate client is required")
	}
	if d.Waves == nil {
		return fmt.Errorf("jobs: wave provider is required")
	}
	return nil
}

// Config holds the pipeline settings for one run.
type Config struct {
	IncidentsPath  string
	OutputDir      string
	Timezone       string
	BatchSize      int
	MaxConcurrency int
	// Retries is the default per-section retry budget. WeatherRetries
	// and WaveRetries override it for their sections when positive;
	// the climate section always uses Retries.
	Retries        int
	WeatherRetries int
	WaveRetries    int
	BatchPause     time.Duration
	// ResumeRunID re-runs an interrupted run, skipping batches that
	// already have a checkpoint.
	ResumeRunID string
}

// Status summarises a finished run.
type Status struct {
	RunID     string    `json:"run_id"`
	LastRun   time.Time `json:"last_run"`
	Incidents int       `json:"incidents"`
	Skipped   int       `json:"skipped"`
	Enriched  int       `json:"enriched"`
	Failed    int       `json:"failed"`
	Resumed   int       `json:"resumed,omitempty"`
	Batches   int       `json:"batches"`
	// BySource counts wave records per originating provider.
	BySource map[string]int `json:"by_source"`
	Error    string         `json:"error,omitempty"`
}

// Enrich executes one complete run.
func Enrich(ctx context.Context, cfg Config, deps Deps) (*Status, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}

	runID := cfg.ResumeRunID
	resuming := runID != ""
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = log.ContextWithRunID(ctx, runID)
	logger := log.WithComponentFromContext(ctx, "jobs").With().Str("run_id", runID).Logger()

	logger.Info().
		Str("event", "enrich.start").
		Str("incidents_path", cfg.IncidentsPath).
		Bool("resuming", resuming).
		Msg("starting enrichment run")

	reader, err := incidents.NewReader(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	incs, skipped, err := reader.ReadFile(cfg.IncidentsPath)
	if err != nil {
		return nil, err
	}
	if len(incs) == 0 {
		return nil, fmt.Errorf("jobs: no usable incidents in %s", cfg.IncidentsPath)
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("jobs: create output dir: %w", err)
	}

	startedAt := time.Now()
	if deps.Archive != nil && !resuming {
		if err := deps.Archive.InsertRun(ctx, runID, startedAt, len(incs)); err != nil {
			return nil, err
		}
	}

	var done map[int]store.Checkpoint
	if deps.Checkpoints != nil && resuming {
		done, err = deps.Checkpoints.Completed(runID)
		if err != nil {
			return nil, err
		}
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	batches := (len(incs) + batchSize - 1) / batchSize

	status := &Status{
		RunID:     runID,
		LastRun:   startedAt,
		Incidents: len(incs),
		Skipped:   len(skipped),
		Batches:   batches,
		BySource:  make(map[string]int),
	}
	var runErr error

	for b := 0; b < batches; b++ {
		batchNum := b + 1
		lo := b * batchSize
		hi := min(lo+batchSize, len(incs))
		batch := incs[lo:hi]

		if cp, ok := done[batchNum]; ok {
			status.Resumed += cp.Records
			logger.Info().
				Str("event", "enrich.batch_skipped").
				Int("batch", batchNum).
				Msg("batch already checkpointed, skipping")
			continue
		}

		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}

		start := time.Now()
		recs := enrichBatch(ctx, cfg, deps, batch)
		metrics.ObserveBatchDuration(time.Since(start).Seconds())

		if _, err := observations.WriteBatch(cfg.OutputDir, batchNum, recs); err != nil {
			runErr = err
			break
		}
		if deps.Archive != nil {
			if err := deps.Archive.InsertObservations(ctx, runID, recs); err != nil {
				logger.Error().Err(err).Str("event", "enrich.archive_error").Msg("failed to archive batch")
			}
		}
		if deps.Checkpoints != nil {
			cp := store.Checkpoint{RunID: runID, Batch: batchNum, Records: len(recs), FinishedAt: time.Now()}
			if err := deps.Checkpoints.Mark(cp); err != nil {
				logger.Error().Err(err).Str("event", "enrich.checkpoint_error").Msg("failed to checkpoint batch")
			}
		}

		for _, rec := range recs {
			if rec.Failed() {
				status.Failed++
			} else {
				status.Enriched++
			}
			if rec.Wave != nil {
				status.BySource[rec.Wave.Source]++
			}
		}

		logger.Info().
			Str("event", "enrich.batch_done").
			Int("batch", batchNum).
			Int("batches", batches).
			Int("records", len(recs)).
			Dur("took", time.Since(start)).
			Msg("batch enriched")

		// Pause between batches to stay friendly to the upstreams.
		if batchNum < batches && cfg.BatchPause > 0 {
			select {
			case <-time.After(cfg.BatchPause):
			case <-ctx.Done():
				runErr = ctx.Err()
			}
			if runErr != nil {
				break
			}
		}
	}

	var written int
	if runErr == nil {
		written, err = observations.CombineBatches(cfg.OutputDir, batches)
		if err != nil {
			runErr = err
		} else if deps.Checkpoints != nil {
			if err := deps.Checkpoints.Clear(runID); err != nil {
				logger.Warn().Err(err).Str("event", "enrich.checkpoint_clear_error").Msg("failed to clear checkpoints")
			}
		}
	}

	if runErr != nil {
		status.Error = runErr.Error()
	}
	if deps.Archive != nil {
		if err := deps.Archive.CompleteRun(ctx, runID, time.Now(), status.Enriched, status.Failed, runErr); err != nil {
			logger.Error().Err(err).Str("event", "enrich.archive_error").Msg("failed to finalise run")
		}
	}

	metrics.RecordObservationsWritten(written)
	metrics.RecordRunCompleted(time.Now().Unix())

	if runErr != nil {
		metrics.IncEnrichFailure("run")
		logger.Error().
			Err(runErr).
			Str("event", "enrich.failed").
			Int("enriched", status.Enriched).
			Msg("enrichment run failed")
		return status, runErr
	}

	logger.Info().
		Str("event", "enrich.success").
		Int("incidents", status.Incidents).
		Int("enriched", status.Enriched).
		Int("failed", status.Failed).
		Int("batches", status.Batches).
		Int("written", written).
		Dur("took", time.Since(startedAt)).
		Msg("enrichment run complete")
	return status, nil
}

// enrichBatch fans the batch out over a bounded worker pool.
func enrichBatch(ctx context.Context, cfg Config, deps Deps, batch []incidents.Incident) []observations.Record {
	maxPar := clampConcurrency(cfg.MaxConcurrency, 5, 10)

	sem := make(chan struct{}, maxPar)
	results := make(chan observations.Record, len(batch))
	var wg sync.WaitGroup

	for _, inc := range batch {
		inc := inc
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results <- enrichOne(ctx, cfg, deps, inc)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	recs := make([]observations.Record, 0, len(batch))
	for rec := range results {
		recs = append(recs, rec)
	}

	// Workers finish in arbitrary order; restore input order.
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Incident.Row < recs[j].Incident.Row
	})
	return recs
}

// enrichOne joins a single incident with its three upstream sections.
// Each section fails independently so partial records still carry what
// could be fetched.
func enrichOne(ctx context.Context, cfg Config, deps Deps, inc incidents.Incident) observations.Record {
	logger := log.WithComponentFromContext(ctx, "jobs")
	rec := observations.Record{Incident: inc}
	day := inc.Day()

	hourly, err := withRetry(ctx, retriesFor(cfg.WeatherRetries, cfg.Retries), func(ctx context.Context) ([]openmeteo.HourlyObservation, error) {
		return deps.Weather.Hourly(ctx, inc.Location.Lat, inc.Location.Lon, day)
	})
	if err != nil {
		rec.WeatherErr = err.Error()
		metrics.IncEnrichFailure("weather")
	} else if obs, ok := openmeteo.At(hourly, inc.Time); ok {
		rec.Weather = &obs
	} else {
		rec.WeatherErr = "no hourly observation for incident time"
	}

	daily, err := withRetry(ctx, cfg.Retries, func(ctx context.Context) ([]silo.DailyRecord, error) {
		return deps.Climate.PointData(ctx, silo.PointRequest{
			Lat:    inc.Location.Lat,
			Lon:    inc.Location.Lon,
			Start:  day,
			Finish: day,
		})
	})
	if err != nil {
		rec.ClimateErr = err.Error()
		metrics.IncEnrichFailure("climate")
	} else if dayRec, ok := silo.On(daily, day); ok {
		rec.Climate = &dayRec
	} else {
		rec.ClimateErr = "no daily record for incident date"
	}

	waveObs, err := withRetry(ctx, retriesFor(cfg.WaveRetries, cfg.Retries), func(ctx context.Context) ([]waves.Observation, error) {
		return deps.Waves.Fetch(ctx, inc.Location.Lat, inc.Location.Lon, day)
	})
	if err != nil {
		rec.WaveErr = err.Error()
		metrics.IncEnrichFailure("waves")
	} else if obs, ok := waves.At(waveObs, inc.Time); ok {
		rec.Wave = &obs
	} else {
		rec.WaveErr = "no wave observation for incident time"
	}

	if rec.Failed() {
		metrics.IncRecordFailure()
		logger.Warn().
			Str("event", "enrich.record_failed").
			Int("row", inc.Row).
			Str("location", inc.Location.String()).
			Msg("no upstream data for incident")
	}
	return rec
}

// withRetry runs fn with quadratic backoff between attempts. Errors
// that declare themselves non-retryable (bad parameters, decode
// failures) fail immediately.
func withRetry[T any](ctx context.Context, retries int, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt*500) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var r interface{ Retryable() bool }
		if errors.As(err, &r) && !r.Retryable() {
			return zero, lastErr
		}
		if attempt > 0 {
			lastErr = fmt.Errorf("after %d retries: %w", attempt, err)
		}
	}
	return zero, lastErr
}

// retriesFor resolves a per-section retry budget against the default.
func retriesFor(override, def int) int {
	if override > 0 {
		return override
	}
	return def
}

func clampConcurrency(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
