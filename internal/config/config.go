// SPDX-License-Identifier: MIT

// Package config provides configuration management for the beach-analysis
// daemon. Precedence is ENV > YAML file > defaults.
package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OpenMeteoConfig holds the Open-Meteo archive client settings.
type OpenMeteoConfig struct {
	BaseURL   string
	Timeout   time.Duration
	Retries   int
	RateLimit float64 // requests per second
	RateBurst int
}

// SILOConfig holds the SILO (LongPaddock) client settings.
type SILOConfig struct {
	BaseURL     string
	StationsURL string
	Username    string
	Password    string
	Variables   []string
	Timeout     time.Duration
	RateLimit   float64
	RateBurst   int
}

// WavesConfig holds the wave data source settings.
type WavesConfig struct {
	AODNBaseURL  string
	IMOSBaseURL  string
	CAWCRBaseURL string
	Timeout      time.Duration
	Retries      int
	RateLimit    float64
	RateBurst    int
	// Max buoy distance considered "nearby" for the IMOS fallback.
	MaxBuoyDistanceKM float64
}

// CacheConfig selects the upstream response cache backend.
type CacheConfig struct {
	Backend       string // "memory", "redis" or "none"
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// APIConfig holds the HTTP API settings.
type APIConfig struct {
	ListenAddr       string
	Token            string
	RateLimitEnabled bool
	RateLimitRPM     int
}

// AppConfig holds all configuration for the daemon.
type AppConfig struct {
	Version    string
	DataDir    string
	LogLevel   string
	LogService string

	// Input
	IncidentsPath string // CSV with lat, long, date2 columns
	Timezone      string // incident timestamps are local; default Australia/Sydney

	// Enrichment job
	BatchSize      int
	MaxConcurrency int
	RetryAttempts  int
	BatchPause     time.Duration
	EnrichOnStart  bool

	OpenMeteo OpenMeteoConfig
	SILO      SILOConfig
	Waves     WavesConfig
	Cache     CacheConfig
	API       APIConfig

	MetricsEnabled bool
	MetricsAddr    string

	// Storage
	DBPath        string // sqlite archive
	CheckpointDir string // badger checkpoint store

	// ReadyStrict gates readiness on upstream reachability.
	ReadyStrict bool
}

// OutputDir is where batch and combined CSVs are written.
func (c AppConfig) OutputDir() string {
	return filepath.Join(c.DataDir, "aus_wave_data_output")
}

// ArchivePath is the SQLite run archive location, under DataDir unless
// overridden.
func (c AppConfig) ArchivePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, "runs.db")
}

// CheckpointPath is the Badger checkpoint store location, under DataDir
// unless overridden.
func (c AppConfig) CheckpointPath() string {
	if c.CheckpointDir != "" {
		return c.CheckpointDir
	}
	return filepath.Join(c.DataDir, "checkpoints")
}

// FileConfig is the YAML configuration structure. Optional scalars use
// pointers so "explicitly zero" is distinguishable from "unset".
type FileConfig struct {
	DataDir       string `yaml:"dataDir,omitempty"`
	LogLevel      string `yaml:"logLevel,omitempty"`
	IncidentsPath string `yaml:"incidentsPath,omitempty"`
	Timezone      string `yaml:"timezone,omitempty"`

	Job struct {
		BatchSize      *int   `yaml:"batchSize,omitempty"`
		MaxConcurrency *int   `yaml:"maxConcurrency,omitempty"`
		RetryAttempts  *int   `yaml:"retryAttempts,omitempty"`
		BatchPause     string `yaml:"batchPause,omitempty"`
		EnrichOnStart  *bool  `yaml:"enrichOnStart,omitempty"`
	} `yaml:"job,omitempty"`

	OpenMeteo struct {
		BaseURL   string   `yaml:"baseUrl,omitempty"`
		Timeout   string   `yaml:"timeout,omitempty"`
		Retries   *int     `yaml:"retries,omitempty"`
		RateLimit *float64 `yaml:"rateLimit,omitempty"`
	} `yaml:"openMeteo,omitempty"`

	SILO struct {
		BaseURL     string   `yaml:"baseUrl,omitempty"`
		StationsURL string   `yaml:"stationsUrl,omitempty"`
		Username    string   `yaml:"username,omitempty"`
		Password    string   `yaml:"password,omitempty"`
		Variables   []string `yaml:"variables,omitempty"`
		Timeout     string   `yaml:"timeout,omitempty"`
		RateLimit   *float64 `yaml:"rateLimit,omitempty"`
	} `yaml:"silo,omitempty"`

	Waves struct {
		AODNBaseURL  string   `yaml:"aodnBaseUrl,omitempty"`
		IMOSBaseURL  string   `yaml:"imosBaseUrl,omitempty"`
		CAWCRBaseURL string   `yaml:"cawcrBaseUrl,omitempty"`
		Timeout      string   `yaml:"timeout,omitempty"`
		Retries      *int     `yaml:"retries,omitempty"`
		RateLimit    *float64 `yaml:"rateLimit,omitempty"`
	} `yaml:"waves,omitempty"`

	Cache struct {
		Backend       string `yaml:"backend,omitempty"`
		TTL           string `yaml:"ttl,omitempty"`
		RedisAddr     string `yaml:"redisAddr,omitempty"`
		RedisPassword string `yaml:"redisPassword,omitempty"`
		RedisDB       *int   `yaml:"redisDb,omitempty"`
	} `yaml:"cache,omitempty"`

	API struct {
		ListenAddr       string `yaml:"listenAddr,omitempty"`
		Token            string `yaml:"token,omitempty"`
		RateLimitEnabled *bool  `yaml:"rateLimitEnabled,omitempty"`
		RateLimitRPM     *int   `yaml:"rateLimitRpm,omitempty"`
	} `yaml:"api,omitempty"`

	Metrics struct {
		Enabled    *bool  `yaml:"enabled,omitempty"`
		ListenAddr string `yaml:"listenAddr,omitempty"`
	} `yaml:"metrics,omitempty"`

	Store struct {
		DBPath        string `yaml:"dbPath,omitempty"`
		CheckpointDir string `yaml:"checkpointDir,omitempty"`
	} `yaml:"store,omitempty"`

	ReadyStrict *bool `yaml:"readyStrict,omitempty"`
}

// Loader handles configuration loading with precedence.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a configuration loader.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load loads configuration with precedence ENV > File > Defaults and
// validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := defaults()

	if l.configPath != "" {
		fileCfg, err := loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w", err)
		}
	}

	mergeEnvConfig(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func defaults() AppConfig {
	return AppConfig{
		DataDir:        "./data",
		LogLevel:       "info",
		LogService:     "beach-analysis",
		Timezone:       "Australia/Sydney",
		BatchSize:      10,
		MaxConcurrency: 5,
		RetryAttempts:  2,
		BatchPause:     2 * time.Second,
		EnrichOnStart:  false,
		OpenMeteo: OpenMeteoConfig{
			BaseURL:   "https://archive-api.open-meteo.com",
			Timeout:   30 * time.Second,
			Retries:   2,
			RateLimit: 10,
			RateBurst: 10,
		},
		SILO: SILOConfig{
			BaseURL:     "https://www.longpaddock.qld.gov.au/cgi-bin/silo",
			StationsURL: "https://siloapi.longpaddock.qld.gov.au/stations",
			Variables:   []string{"daily_rain", "max_temp", "min_temp"},
			Timeout:     30 * time.Second,
			RateLimit:   2,
			RateBurst:   2,
		},
		Waves: WavesConfig{
			AODNBaseURL:       "https://portal.aodn.org.au",
			IMOSBaseURL:       "https://portal.aodn.org.au",
			CAWCRBaseURL:      "http://data-cbr.csiro.au/thredds",
			Timeout:           30 * time.Second,
			Retries:           2,
			RateLimit:         5,
			RateBurst:         5,
			MaxBuoyDistanceKM: 100,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     6 * time.Hour,
		},
		API: APIConfig{
			ListenAddr:       ":8080",
			RateLimitEnabled: true,
			RateLimitRPM:     120,
		},
		MetricsAddr: ":9090",
		DBPath:      "", // resolved under DataDir when empty
	}
}

// loadFile loads configuration from a YAML file with strict parsing.
// Unknown fields are fatal to prevent silent misconfiguration.
func loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration paths come from the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

func parseFileDuration(name, raw string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = d
	return nil
}

func mergeFileConfig(dst *AppConfig, src *FileConfig) error {
	if src.DataDir != "" {
		dst.DataDir = os.ExpandEnv(src.DataDir)
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.IncidentsPath != "" {
		dst.IncidentsPath = os.ExpandEnv(src.IncidentsPath)
	}
	if src.Timezone != "" {
		dst.Timezone = src.Timezone
	}

	if src.Job.BatchSize != nil {
		dst.BatchSize = *src.Job.BatchSize
	}
	if src.Job.MaxConcurrency != nil {
		dst.MaxConcurrency = *src.Job.MaxConcurrency
	}
	if src.Job.RetryAttempts != nil {
		dst.RetryAttempts = *src.Job.RetryAttempts
	}
	if err := parseFileDuration("job.batchPause", src.Job.BatchPause, &dst.BatchPause); err != nil {
		return err
	}
	if src.Job.EnrichOnStart != nil {
		dst.EnrichOnStart = *src.Job.EnrichOnStart
	}

	if src.OpenMeteo.BaseURL != "" {
		dst.OpenMeteo.BaseURL = os.ExpandEnv(src.OpenMeteo.BaseURL)
	}
	if err := parseFileDuration("openMeteo.timeout", src.OpenMeteo.Timeout, &dst.OpenMeteo.Timeout); err != nil {
		return err
	}
	if src.OpenMeteo.Retries != nil {
		dst.OpenMeteo.Retries = *src.OpenMeteo.Retries
	}
	if src.OpenMeteo.RateLimit != nil {
		dst.OpenMeteo.RateLimit = *src.OpenMeteo.RateLimit
	}

	if src.SILO.BaseURL != "" {
		dst.SILO.BaseURL = os.ExpandEnv(src.SILO.BaseURL)
	}
	if src.SILO.StationsURL != "" {
		dst.SILO.StationsURL = os.ExpandEnv(src.SILO.StationsURL)
	}
	if src.SILO.Username != "" {
		dst.SILO.Username = os.ExpandEnv(src.SILO.Username)
	}
	if src.SILO.Password != "" {
		dst.SILO.Password = os.ExpandEnv(src.SILO.Password)
	}
	if len(src.SILO.Variables) > 0 {
		dst.SILO.Variables = append([]string(nil), src.SILO.Variables...)
	}
	if err := parseFileDuration("silo.timeout", src.SILO.Timeout, &dst.SILO.Timeout); err != nil {
		return err
	}
	if src.SILO.RateLimit != nil {
		dst.SILO.RateLimit = *src.SILO.RateLimit
	}

	if src.Waves.AODNBaseURL != "" {
		dst.Waves.AODNBaseURL = os.ExpandEnv(src.Waves.AODNBaseURL)
	}
	if src.Waves.IMOSBaseURL != "" {
		dst.Waves.IMOSBaseURL = os.ExpandEnv(src.Waves.IMOSBaseURL)
	}
	if src.Waves.CAWCRBaseURL != "" {
		dst.Waves.CAWCRBaseURL = os.ExpandEnv(src.Waves.CAWCRBaseURL)
	}
	if err := parseFileDuration("waves.timeout", src.Waves.Timeout, &dst.Waves.Timeout); err != nil {
		return err
	}
	if src.Waves.Retries != nil {
		dst.Waves.Retries = *src.Waves.Retries
	}
	if src.Waves.RateLimit != nil {
		dst.Waves.RateLimit = *src.Waves.RateLimit
	}

	if src.Cache.Backend != "" {
		dst.Cache.Backend = src.Cache.Backend
	}
	if err := parseFileDuration("cache.ttl", src.Cache.TTL, &dst.Cache.TTL); err != nil {
		return err
	}
	if src.Cache.RedisAddr != "" {
		dst.Cache.RedisAddr = os.ExpandEnv(src.Cache.RedisAddr)
	}
	if src.Cache.RedisPassword != "" {
		dst.Cache.RedisPassword = os.ExpandEnv(src.Cache.RedisPassword)
	}
	if src.Cache.RedisDB != nil {
		dst.Cache.RedisDB = *src.Cache.RedisDB
	}

	if src.API.ListenAddr != "" {
		dst.API.ListenAddr = os.ExpandEnv(src.API.ListenAddr)
	}
	if src.API.Token != "" {
		dst.API.Token = os.ExpandEnv(src.API.Token)
	}
	if src.API.RateLimitEnabled != nil {
		dst.API.RateLimitEnabled = *src.API.RateLimitEnabled
	}
	if src.API.RateLimitRPM != nil {
		dst.API.RateLimitRPM = *src.API.RateLimitRPM
	}

	if src.Metrics.Enabled != nil {
		dst.MetricsEnabled = *src.Metrics.Enabled
	}
	if src.Metrics.ListenAddr != "" {
		dst.MetricsAddr = os.ExpandEnv(src.Metrics.ListenAddr)
	}

	if src.Store.DBPath != "" {
		dst.DBPath = os.ExpandEnv(src.Store.DBPath)
	}
	if src.Store.CheckpointDir != "" {
		dst.CheckpointDir = os.ExpandEnv(src.Store.CheckpointDir)
	}

	if src.ReadyStrict != nil {
		dst.ReadyStrict = *src.ReadyStrict
	}
	return nil
}

// mergeEnvConfig merges environment variables; ENV has the highest precedence.
func mergeEnvConfig(cfg *AppConfig) {
	cfg.DataDir = ParseString("BEACH_DATA", cfg.DataDir)
	cfg.LogLevel = ParseString("BEACH_LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = ParseString("BEACH_LOG_SERVICE", cfg.LogService)
	cfg.IncidentsPath = ParseString("BEACH_INCIDENTS", cfg.IncidentsPath)
	cfg.Timezone = ParseString("BEACH_TZ", cfg.Timezone)

	cfg.BatchSize = ParseInt("BEACH_BATCH_SIZE", cfg.BatchSize)
	cfg.MaxConcurrency = ParseInt("BEACH_MAX_CONCURRENCY", cfg.MaxConcurrency)
	cfg.RetryAttempts = ParseInt("BEACH_RETRIES", cfg.RetryAttempts)
	cfg.BatchPause = ParseDuration("BEACH_BATCH_PAUSE", cfg.BatchPause)
	cfg.EnrichOnStart = ParseBool("BEACH_ENRICH_ON_START", cfg.EnrichOnStart)

	cfg.OpenMeteo.BaseURL = ParseString("BEACH_OPENMETEO_BASE", cfg.OpenMeteo.BaseURL)
	cfg.OpenMeteo.Timeout = ParseDuration("BEACH_OPENMETEO_TIMEOUT", cfg.OpenMeteo.Timeout)
	cfg.OpenMeteo.Retries = ParseInt("BEACH_OPENMETEO_RETRIES", cfg.OpenMeteo.Retries)
	cfg.OpenMeteo.RateLimit = ParseFloat("BEACH_OPENMETEO_RATE", cfg.OpenMeteo.RateLimit)

	cfg.SILO.BaseURL = ParseString("BEACH_SILO_BASE", cfg.SILO.BaseURL)
	cfg.SILO.StationsURL = ParseString("BEACH_SILO_STATIONS", cfg.SILO.StationsURL)
	cfg.SILO.Username = ParseString("BEACH_SILO_USER", cfg.SILO.Username)
	cfg.SILO.Password = ParseString("BEACH_SILO_PASS", cfg.SILO.Password)
	cfg.SILO.Timeout = ParseDuration("BEACH_SILO_TIMEOUT", cfg.SILO.Timeout)
	cfg.SILO.RateLimit = ParseFloat("BEACH_SILO_RATE", cfg.SILO.RateLimit)

	cfg.Waves.AODNBaseURL = ParseString("BEACH_AODN_BASE", cfg.Waves.AODNBaseURL)
	cfg.Waves.IMOSBaseURL = ParseString("BEACH_IMOS_BASE", cfg.Waves.IMOSBaseURL)
	cfg.Waves.CAWCRBaseURL = ParseString("BEACH_CAWCR_BASE", cfg.Waves.CAWCRBaseURL)
	cfg.Waves.Timeout = ParseDuration("BEACH_WAVES_TIMEOUT", cfg.Waves.Timeout)
	cfg.Waves.Retries = ParseInt("BEACH_WAVES_RETRIES", cfg.Waves.Retries)
	cfg.Waves.RateLimit = ParseFloat("BEACH_WAVES_RATE", cfg.Waves.RateLimit)

	cfg.Cache.Backend = ParseString("BEACH_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.TTL = ParseDuration("BEACH_CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.RedisAddr = ParseString("BEACH_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = ParseString("BEACH_REDIS_PASS", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = ParseInt("BEACH_REDIS_DB", cfg.Cache.RedisDB)

	cfg.API.ListenAddr = ParseString("BEACH_LISTEN", cfg.API.ListenAddr)
	cfg.API.Token = ParseString("BEACH_API_TOKEN", cfg.API.Token)
	cfg.API.RateLimitEnabled = ParseBool("BEACH_RATE_LIMIT_ENABLED", cfg.API.RateLimitEnabled)
	cfg.API.RateLimitRPM = ParseInt("BEACH_RATE_LIMIT_RPM", cfg.API.RateLimitRPM)

	if addr := ParseString("BEACH_METRICS_LISTEN", ""); addr != "" {
		cfg.MetricsAddr = addr
		cfg.MetricsEnabled = true
	}

	cfg.DBPath = ParseString("BEACH_DB_PATH", cfg.DBPath)
	cfg.CheckpointDir = ParseString("BEACH_CHECKPOINT_DIR", cfg.CheckpointDir)
	cfg.ReadyStrict = ParseBool("BEACH_READY_STRICT", cfg.ReadyStrict)
}

// Validate checks the assembled configuration.
func Validate(cfg AppConfig) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data dir is empty")
	}
	for name, raw := range map[string]string{
		"openMeteo.baseUrl": cfg.OpenMeteo.BaseURL,
		"silo.baseUrl":      cfg.SILO.BaseURL,
		"silo.stationsUrl":  cfg.SILO.StationsURL,
		"waves.aodnBaseUrl": cfg.Waves.AODNBaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("unsupported %s scheme %q", name, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("%s %q is missing host", name, raw)
		}
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1, got %d", cfg.BatchSize)
	}
	if cfg.MaxConcurrency < 1 || cfg.MaxConcurrency > 10 {
		return fmt.Errorf("max concurrency must be in [1,10], got %d", cfg.MaxConcurrency)
	}
	if cfg.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts must be >= 0, got %d", cfg.RetryAttempts)
	}
	switch cfg.Cache.Backend {
	case "memory", "none":
	case "redis":
		if cfg.Cache.RedisAddr == "" {
			return fmt.Errorf("cache backend is redis but redis addr is empty")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	return nil
}

// String implements fmt.Stringer with secrets masked so the config can be
// logged safely.
func (c AppConfig) String() string {
	masked := c
	if masked.SILO.Password != "" {
		masked.SILO.Password = "***"
	}
	if masked.API.Token != "" {
		masked.API.Token = "***"
	}
	if masked.Cache.RedisPassword != "" {
		masked.Cache.RedisPassword = "***"
	}
	return fmt.Sprintf("%+v", struct {
		DataDir, IncidentsPath, Timezone string
		BatchSize, MaxConcurrency        int
		OpenMeteoBase, SILOBase          string
		CacheBackend, ListenAddr         string
	}{
		masked.DataDir, masked.IncidentsPath, masked.Timezone,
		masked.BatchSize, masked.MaxConcurrency,
		masked.OpenMeteo.BaseURL, masked.SILO.BaseURL,
		masked.Cache.Backend, masked.API.ListenAddr,
	})
}
