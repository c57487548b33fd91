package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/facetrace/facetrace/internal/config"
	"github.com/facetrace/facetrace/internal/discovery"
	"github.com/facetrace/facetrace/internal/evidence"
	"github.com/facetrace/facetrace/internal/ingest"
	"github.com/facetrace/facetrace/internal/logging"
	"github.com/facetrace/facetrace/internal/match"
	"github.com/facetrace/facetrace/internal/models"
	"github.com/facetrace/facetrace/internal/observer"
	"github.com/facetrace/facetrace/internal/platform"
	"github.com/facetrace/facetrace/internal/providers"
	"github.com/facetrace/facetrace/internal/resilience"
	"github.com/facetrace/facetrace/internal/scheduler"
	"github.com/facetrace/facetrace/internal/store"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "facetrace",
	Short:   "Facetrace - continuous face-match scanning service",
	Long:    `Facetrace continuously scans platforms and the open web for unauthorized uses of registered contributors' likenesses.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runScanner()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Facetrace %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runScanner() {
	// Baseline logger for early startup lines; reconfigured once config loads.
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "facetrace"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "facetrace"})

	log.Info().Str("version", Version).Str("data_dir", cfg.DataDir).Msg("Starting facetrace scanner")

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		// Database unavailable on startup is fatal; the supervisor restarts us.
		log.Fatal().Err(err).Str("path", cfg.DBPath()).Msg("Failed to open store")
	}
	defer st.Close()

	limiters := resilience.NewLimiterRegistry()
	breakers := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig())
	registry := providers.NewRegistry(cfg, st, limiters, breakers)

	obs := observer.New(st, cfg.ObserverFlushSize, cfg.ObserverFlushInterval, cfg.ObserverBufferCap)

	allowlist, err := match.NewAllowlist(st)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build allowlist cache")
	}

	evidenceSvc := evidence.NewService(
		evidence.NewFSObjectStore(cfg.DataDir), nil, st, 64)

	var detector match.AIDetector
	if ai := registry.AIDetection(); ai != nil {
		detector = ai
	}
	matcher := match.NewMatcher(st, match.NewComparator(st), registry.MatchScorer(), allowlist,
		detector, evidenceSvc, obs, cfg.ThresholdLow, cfg.MatchLimit)

	downloader := ingest.NewDownloader(cfg.DownloadMaxBytes, cfg.DownloadTimeout, cfg.TempDir)
	pipeline := ingest.NewPipeline(st, downloader, registry.FaceDetection(), cfg.FaceWorkers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := registry.FaceDetection().InitModel(ctx, cfg.FaceModelName); err != nil {
		log.Warn().Err(err).Str("model", cfg.FaceModelName).Msg("Face model init failed, ingestion will retry per call")
	}

	reverse := discovery.NewReverseImageSource(cfg.ReverseImageURL, cfg.ReverseImageKey,
		cfg.ProviderTimeout, referenceResolver{base: cfg.ReferenceBaseURL}, limiters, breakers)
	urlCheck := discovery.NewURLCheckSource(cfg.ProviderTimeout)

	crawlSources := make(map[string]discovery.Source, len(cfg.CrawlPlatforms))
	for _, p := range cfg.CrawlPlatforms {
		baseURL := cfg.PlatformCrawlURL
		if p != "civitai" {
			baseURL = "https://" + p + "/api/v1"
		}
		crawlSources[p] = discovery.NewPlatformCrawlSource(p, baseURL, cfg.ProviderTimeout, limiters, breakers)
	}

	harvester := discovery.NewLinkHarvestSource(st, cfg.CrawlPlatforms)

	sched := scheduler.New(st, scheduler.Config{
		TickInterval:        cfg.TickInterval,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		StaleJobMaxAge:      cfg.StaleJobMaxAge,
		ShutdownGrace:       cfg.ShutdownGrace,
		DueJobLimit:         cfg.DueJobLimit,
		MaxContributorScans: cfg.MaxContributorScans,
		MaxPlatformCrawls:   cfg.MaxPlatformCrawls,
		MaxMaintenanceJobs:  cfg.MaxMaintenanceJobs,
	}, obs)

	newCrawlSource := func(platformName string) discovery.Source {
		return discovery.NewPlatformCrawlSource(platformName, "https://"+platformName+"/api/v1",
			cfg.ProviderTimeout, limiters, breakers)
	}

	sched.Register(models.JobContributorScan, scheduler.NewContributorScanHandler(st, reverse, urlCheck, pipeline, matcher))
	sched.Register(models.JobPlatformCrawl, scheduler.NewPlatformCrawlHandler(st, crawlSources, cfg.CrawlTags, pipeline, matcher))
	sched.Register(models.JobCleanup, scheduler.NewCleanupHandler(st, downloader))
	sched.Register(models.JobScout, scheduler.NewScoutHandler(st,
		platform.NewScout(harvester, cfg.ProviderTimeout, obs)))
	sched.Register(models.JobMapper, scheduler.NewMapperHandler(st, crawlSources, newCrawlSource, cfg.CrawlTags))
	sched.Register(models.JobAnalyzer, scheduler.NewAnalyzerHandler(platform.NewAnalyzer(st, obs, 0)))

	if err := scheduler.SeedJobs(st, cfg.CrawlPlatforms); err != nil {
		log.Error().Err(err).Msg("Failed to seed standing jobs")
	}

	startHealthServer(ctx, cfg.ListenAddr)

	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		sched.RequestShutdown()
		cancel()
		if err := <-schedDone; err != nil {
			log.Error().Err(err).Msg("Scheduler shutdown reported an error")
		}
	case err := <-schedDone:
		if err != nil {
			log.Error().Err(err).Msg("Scheduler exited with error")
		}
	}

	evidenceSvc.Shutdown()
	obs.Shutdown()
	log.Info().Msg("Facetrace scanner stopped")
}

// referenceResolver maps reference photo keys onto a public base URL the
// reverse-image API can fetch.
type referenceResolver struct {
	base string
}

func (r referenceResolver) ResolveURL(key string) (string, error) {
	if r.base == "" {
		return "", errors.New("no reference base URL configured")
	}
	return r.base + "/" + key, nil
}

func startHealthServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("Health and metrics listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Health listener failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
