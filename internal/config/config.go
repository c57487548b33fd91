// Package config loads scanner configuration from the environment, with
// optional .env overrides for deployments.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is the complete runtime configuration of the scanner process.
type Config struct {
	// Process
	DataDir    string
	ListenAddr string // health + metrics listener
	LogLevel   string
	LogFormat  string

	// Scheduler
	TickInterval        time.Duration
	HeartbeatInterval   time.Duration
	StaleJobMaxAge      time.Duration
	ShutdownGrace       time.Duration
	DueJobLimit         int
	MaxContributorScans int
	MaxPlatformCrawls   int
	MaxMaintenanceJobs  int

	// Ingestion
	DownloadMaxBytes int64
	DownloadTimeout  time.Duration
	TempDir          string
	FaceWorkers      int
	FaceModelName    string
	FaceWorkerURL    string // face detection sidecar

	// Matching
	MatchLimit            int
	ThresholdLow          float32
	ThresholdMedium       float32
	ThresholdHigh         float32
	ScorerVariant         string // "static" or "ml"
	ScorerRefreshEvery    int
	ScorerRefreshInterval time.Duration

	// Providers
	AIDetectionURL    string
	AIDetectionKey    string
	ReverseImageURL   string
	ReverseImageKey   string
	PlatformCrawlURL  string
	ProviderTimeout   time.Duration
	CrawlPlatforms    []string
	CrawlTags         []string
	ReferenceBaseURL  string // public base for reference photo keys

	// Observer
	ObserverFlushSize     int
	ObserverFlushInterval time.Duration
	ObserverBufferCap     int
}

// Load reads configuration from the environment, applying defaults for
// anything unset. A .env file in the data directory or working directory is
// honored for deployment overrides.
func Load() (*Config, error) {
	dataDir := envStr("FACETRACE_DATA_DIR", "/var/lib/facetrace")

	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		}
	}
	// Also try the working directory for development.
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:    envStr("FACETRACE_DATA_DIR", dataDir),
		ListenAddr: envStr("FACETRACE_LISTEN", ":9601"),
		LogLevel:   envStr("LOG_LEVEL", "info"),
		LogFormat:  envStr("LOG_FORMAT", "auto"),

		TickInterval:        envDuration("TICK_INTERVAL", 5*time.Second),
		HeartbeatInterval:   envDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		StaleJobMaxAge:      envDuration("STALE_JOB_MAX_AGE", 30*time.Minute),
		ShutdownGrace:       envDuration("SHUTDOWN_GRACE", 30*time.Second),
		DueJobLimit:         envInt("DUE_JOB_LIMIT", 10),
		MaxContributorScans: envInt("MAX_CONTRIBUTOR_SCANS", 4),
		MaxPlatformCrawls:   envInt("MAX_PLATFORM_CRAWLS", 2),
		MaxMaintenanceJobs:  envInt("MAX_MAINTENANCE_JOBS", 1),

		DownloadMaxBytes: envInt64("DOWNLOAD_MAX_BYTES", 20<<20),
		DownloadTimeout:  envDuration("DOWNLOAD_TIMEOUT", 30*time.Second),
		TempDir:          envStr("FACETRACE_TEMP_DIR", os.TempDir()),
		FaceWorkers:      envInt("FACE_WORKERS", 2),
		FaceModelName:    envStr("FACE_MODEL", "buffalo_l"),
		FaceWorkerURL:    envStr("FACE_WORKER_URL", "http://127.0.0.1:8791"),

		MatchLimit:            envInt("MATCH_LIMIT", 20),
		ThresholdLow:          envFloat32("THRESHOLD_LOW", 0.50),
		ThresholdMedium:       envFloat32("THRESHOLD_MEDIUM", 0.65),
		ThresholdHigh:         envFloat32("THRESHOLD_HIGH", 0.85),
		ScorerVariant:         envStr("SCORER_VARIANT", "ml"),
		ScorerRefreshEvery:    envInt("SCORER_REFRESH_EVERY", 100),
		ScorerRefreshInterval: envDuration("SCORER_REFRESH_INTERVAL", 5*time.Minute),

		AIDetectionURL:   envStr("AI_DETECTION_URL", "https://api.thehive.ai/api/v2/task/sync"),
		AIDetectionKey:   envStr("AI_DETECTION_KEY", ""),
		ReverseImageURL:  envStr("REVERSE_IMAGE_URL", "https://api.tineye.com/rest"),
		ReverseImageKey:  envStr("REVERSE_IMAGE_KEY", ""),
		PlatformCrawlURL: envStr("PLATFORM_CRAWL_URL", "https://civitai.com/api/v1"),
		ProviderTimeout:  envDuration("PROVIDER_TIMEOUT", 20*time.Second),
		CrawlPlatforms:   envList("CRAWL_PLATFORMS", []string{"civitai"}),
		CrawlTags:        envList("CRAWL_TAGS", []string{"portrait", "photorealistic", "selfie"}),
		ReferenceBaseURL: envStr("REFERENCE_BASE_URL", ""),

		ObserverFlushSize:     envInt("OBSERVER_FLUSH_SIZE", 50),
		ObserverFlushInterval: envDuration("OBSERVER_FLUSH_INTERVAL", 30*time.Second),
		ObserverBufferCap:     envInt("OBSERVER_BUFFER_CAP", 500),
	}

	if cfg.ThresholdLow > cfg.ThresholdMedium || cfg.ThresholdMedium > cfg.ThresholdHigh {
		log.Warn().
			Float32("low", cfg.ThresholdLow).
			Float32("medium", cfg.ThresholdMedium).
			Float32("high", cfg.ThresholdHigh).
			Msg("Threshold ordering violated, reverting to defaults")
		cfg.ThresholdLow, cfg.ThresholdMedium, cfg.ThresholdHigh = 0.50, 0.65, 0.85
	}

	return cfg, nil
}

// DBPath returns the SQLite database path under the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "facetrace.db")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
	}
	return fallback
}

func envFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid float in environment, using default")
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration in environment, using default")
	}
	return fallback
}
