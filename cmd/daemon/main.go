// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Becca-90/SLSA-beach-analysis/internal/api"
	"github.com/Becca-90/SLSA-beach-analysis/internal/cache"
	"github.com/Becca-90/SLSA-beach-analysis/internal/config"
	"github.com/Becca-90/SLSA-beach-analysis/internal/health"
	"github.com/Becca-90/SLSA-beach-analysis/internal/jobs"
	blog "github.com/Becca-90/SLSA-beach-analysis/internal/log"
	"github.com/Becca-90/SLSA-beach-analysis/internal/openmeteo"
	"github.com/Becca-90/SLSA-beach-analysis/internal/ratelimit"
	"github.com/Becca-90/SLSA-beach-analysis/internal/silo"
	"github.com/Becca-90/SLSA-beach-analysis/internal/store"
	"github.com/Becca-90/SLSA-beach-analysis/internal/waves"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	incidentsPath := flag.String("incidents", "", "path to the incident CSV (overrides config)")
	once := flag.Bool("once", false, "run one enrichment pass and exit")
	resume := flag.String("resume", "", "resume an interrupted run by its run ID")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until config is loaded.
	blog.Configure(blog.Config{
		Level:   "info",
		Service: "beach-analysis",
		Version: version,
	})
	logger := blog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Explicit -config wins; otherwise auto-load ${BEACH_DATA}/config.yaml
	// when present.
	effectiveConfigPath := strings.TrimSpace(*configPath)
	if effectiveConfigPath == "" {
		dataDir := strings.TrimSpace(config.ParseString("BEACH_DATA", "./data"))
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectiveConfigPath = autoPath
		}
	}

	loader := config.NewLoader(effectiveConfigPath, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}
	if *incidentsPath != "" {
		cfg.IncidentsPath = *incidentsPath
	}
	if cfg.IncidentsPath == "" {
		logger.Fatal().
			Str("event", "config.invalid").
			Msg("no incident file configured; set -incidents or BEACH_INCIDENTS")
	}

	blog.Configure(blog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: cfg.Version,
	})
	logger.Info().
		Str("event", "config.loaded").
		Str("config_path", effectiveConfigPath).
		Str("config", cfg.String()).
		Msg("configuration loaded")

	if err := run(ctx, cfg, effectiveConfigPath, *once, *resume); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
	}
	logger.Info().Str("event", "daemon.stopped").Msg("shutdown complete")
}

func run(ctx context.Context, cfg config.AppConfig, configPath string, once bool, resumeRunID string) error {
	logger := blog.WithComponent("daemon")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	limiter := newLimiter(cfg)
	upstreamCache, stopCache, err := newCache(cfg)
	if err != nil {
		return err
	}
	defer stopCache()

	weather := openmeteo.New(cfg.OpenMeteo.BaseURL, openmeteo.Options{
		Timeout: cfg.OpenMeteo.Timeout,
		Cache:   upstreamCache,
		TTL:     cfg.Cache.TTL,
		Limiter: limiter,
	})
	climate := silo.New(cfg.SILO.BaseURL, silo.Options{
		StationsURL: cfg.SILO.StationsURL,
		Username:    cfg.SILO.Username,
		Password:    cfg.SILO.Password,
		Timeout:     cfg.SILO.Timeout,
		Cache:       upstreamCache,
		TTL:         cfg.Cache.TTL,
		Limiter:     limiter,
		Logger:      blog.WithComponent("silo"),
	})

	waveOpts := waves.Options{
		Timeout:           cfg.Waves.Timeout,
		Cache:             upstreamCache,
		TTL:               cfg.Cache.TTL,
		Limiter:           limiter,
		MaxBuoyDistanceKM: cfg.Waves.MaxBuoyDistanceKM,
	}
	waveChain := waves.NewChain(
		waves.NewAODN(cfg.Waves.AODNBaseURL, waveOpts),
		waves.NewIMOS(cfg.Waves.IMOSBaseURL, waveOpts),
		waves.NewCAWCR(cfg.Waves.CAWCRBaseURL, waveOpts),
	)

	archive, err := store.Open(cfg.ArchivePath())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := archive.Close(); cerr != nil {
			logger.Error().Err(cerr).Str("event", "store.close_error").Msg("failed to close run archive")
		}
	}()

	checkpoints, err := store.OpenCheckpoints(cfg.CheckpointPath())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := checkpoints.Close(); cerr != nil {
			logger.Error().Err(cerr).Str("event", "store.close_error").Msg("failed to close checkpoint store")
		}
	}()

	jobCfg := jobs.Config{
		IncidentsPath:  cfg.IncidentsPath,
		OutputDir:      cfg.OutputDir(),
		Timezone:       cfg.Timezone,
		BatchSize:      cfg.BatchSize,
		MaxConcurrency: cfg.MaxConcurrency,
		Retries:        cfg.RetryAttempts,
		WeatherRetries: cfg.OpenMeteo.Retries,
		WaveRetries:    cfg.Waves.Retries,
		BatchPause:     cfg.BatchPause,
	}
	deps := jobs.Deps{
		Weather:     weather,
		Climate:     climate,
		Waves:       waveChain,
		Archive:     archive,
		Checkpoints: checkpoints,
	}

	if once {
		onceCfg := jobCfg
		onceCfg.ResumeRunID = resumeRunID
		status, err := jobs.Enrich(ctx, onceCfg, deps)
		if err != nil {
			return err
		}
		logger.Info().
			Str("event", "daemon.once_done").
			Str("run_id", status.RunID).
			Int("enriched", status.Enriched).
			Int("failed", status.Failed).
			Msg("single enrichment pass complete")
		return nil
	}

	healthMgr := health.NewManager(cfg.Version, cfg.ReadyStrict)
	healthMgr.RegisterChecker(health.NewFileChecker("incidents", cfg.IncidentsPath))
	healthMgr.RegisterChecker(health.NewPingChecker("archive", archive))
	healthMgr.RegisterChecker(health.NewHTTPChecker("open-meteo", cfg.OpenMeteo.BaseURL))
	if rc, ok := upstreamCache.(*cache.RedisCache); ok {
		healthMgr.RegisterChecker(health.NewCheckFunc("cache", func(ctx context.Context) health.CheckResult {
			if err := rc.HealthCheck(ctx); err != nil {
				return health.CheckResult{Status: health.StatusUnhealthy, Error: err.Error()}
			}
			return health.CheckResult{Status: health.StatusHealthy}
		}))
	}

	apiServer := api.New(cfg.API, api.Options{
		Health:   healthMgr,
		Archive:  archive,
		Stations: climate,
		BaseCtx:  ctx,
		Runner: func(runCtx context.Context, resumeID string) (*jobs.Status, error) {
			runCfg := jobCfg
			runCfg.ResumeRunID = resumeID
			return jobs.Enrich(runCtx, runCfg, deps)
		},
	})

	g, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:              cfg.API.ListenAddr,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error { return serve(gctx, httpServer, "api") })

	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error { return serve(gctx, metricsServer, "metrics") })
	}

	if configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, configPath, cfg.Version, func(next config.AppConfig) {
				blog.Configure(blog.Config{
					Level:   next.LogLevel,
					Service: next.LogService,
					Version: next.Version,
				})
				applyRateLimits(limiter, next)
				logger.Info().Str("event", "config.reloaded").Msg("configuration reloaded")
			})
		})
	}

	// A run the previous process left unfinished takes precedence over a
	// fresh initial run; -resume overrides the auto-detection.
	if resumeRunID == "" {
		if id, found, err := archive.LastIncompleteRun(ctx); err != nil {
			logger.Warn().Err(err).Str("event", "daemon.resume_check_failed").Msg("could not check for an interrupted run")
		} else if found {
			resumeRunID = id
			logger.Info().Str("event", "daemon.resume_detected").Str("run_id", id).Msg("resuming interrupted run")
		}
	}

	if cfg.EnrichOnStart || resumeRunID != "" {
		// The initial run goes through the same single-flight guard as
		// API-triggered runs; a failed run leaves the daemon up so the
		// operator can inspect and retrigger.
		if !apiServer.TryRun(resumeRunID) {
			logger.Error().Str("event", "daemon.initial_run_failed").Msg("initial enrichment run did not start")
		}
	}

	return g.Wait()
}

// serve runs an HTTP server until ctx is cancelled, then drains it.
func serve(ctx context.Context, srv *http.Server, name string) error {
	logger := blog.WithComponent("daemon")

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("event", "server.listen").
			Str("server", name).
			Str("addr", srv.Addr).
			Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s server shutdown: %w", name, err)
	}
	<-errCh
	logger.Info().Str("event", "server.stopped").Str("server", name).Msg("server stopped")
	return ctx.Err()
}

func newLimiter(cfg config.AppConfig) *ratelimit.Limiter {
	limiter := ratelimit.New(ratelimit.DefaultLimits())
	applyRateLimits(limiter, cfg)
	return limiter
}

func applyRateLimits(limiter *ratelimit.Limiter, cfg config.AppConfig) {
	limiter.SetLimit("openmeteo", ratelimit.SourceLimit{Rate: rate.Limit(cfg.OpenMeteo.RateLimit), Burst: cfg.OpenMeteo.RateBurst})
	limiter.SetLimit("silo", ratelimit.SourceLimit{Rate: rate.Limit(cfg.SILO.RateLimit), Burst: cfg.SILO.RateBurst})
	for _, source := range []string{"aodn", "imos", "cawcr"} {
		limiter.SetLimit(source, ratelimit.SourceLimit{Rate: rate.Limit(cfg.Waves.RateLimit), Burst: cfg.Waves.RateBurst})
	}
}

// newCache builds the upstream response cache for the configured
// backend. The returned stop func releases backend resources.
func newCache(cfg config.AppConfig) (cache.Cache, func(), error) {
	logger := blog.WithComponent("cache")

	switch cfg.Cache.Backend {
	case "redis":
		rc, err := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		return rc, func() {
			if cerr := rc.Close(); cerr != nil {
				logger.Error().Err(cerr).Msg("failed to close redis cache")
			}
		}, nil
	case "none":
		return cache.NewNoOp(), func() {}, nil
	default:
		mem := cache.NewMemory(10 * time.Minute)
		return mem, mem.Stop, nil
	}
}
