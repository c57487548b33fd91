// Package scheduler drives the scan pipeline: it leases due jobs from the
// job store, dispatches them to kind-specific handlers under per-kind
// concurrency caps, heartbeats their leases, and recovers work lost to
// crashes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/facetrace/facetrace/internal/models"
	"github.com/facetrace/facetrace/internal/store"
)

var jobRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "facetrace",
		Subsystem: "scheduler",
		Name:      "job_runs_total",
		Help:      "Job runs by kind and outcome.",
	},
	[]string{"kind", "outcome"},
)

func init() {
	prometheus.MustRegister(jobRuns)
}

// Handler executes one leased job and returns a summary for the job row.
type Handler interface {
	Run(ctx context.Context, job models.ScanJob) (summary string, err error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job models.ScanJob) (string, error)

// Run implements Handler.
func (f HandlerFunc) Run(ctx context.Context, job models.ScanJob) (string, error) {
	return f(ctx, job)
}

// SignalEmitter receives feedback signals.
type SignalEmitter interface {
	Emit(sig models.FeedbackSignal)
}

// Config bounds the loop's timing and concurrency.
type Config struct {
	TickInterval      time.Duration
	HeartbeatInterval time.Duration
	StaleJobMaxAge    time.Duration
	ShutdownGrace     time.Duration
	DueJobLimit       int

	MaxContributorScans int
	MaxPlatformCrawls   int
	MaxMaintenanceJobs  int
}

// kindOrder is the dispatch order within a tick. Contributor scans first;
// maintenance kinds last.
var kindOrder = []models.JobKind{
	models.JobContributorScan,
	models.JobPlatformCrawl,
	models.JobCleanup,
	models.JobMapper,
	models.JobScout,
	models.JobAnalyzer,
}

// Scheduler is the cooperative tick loop.
type Scheduler struct {
	store    *store.Store
	cfg      Config
	owner    string
	handlers map[models.JobKind]Handler
	observer SignalEmitter

	shutdown atomic.Bool
	wg       sync.WaitGroup
	slots    map[models.JobKind]chan struct{}
}

// New creates a scheduler. The owner string identifies this process on job
// leases so a restart can tell its own stale work apart.
func New(st *store.Store, cfg Config, observer SignalEmitter) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.StaleJobMaxAge <= 0 {
		cfg.StaleJobMaxAge = 30 * time.Minute
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	if cfg.DueJobLimit <= 0 {
		cfg.DueJobLimit = 10
	}

	hostname, _ := os.Hostname()
	s := &Scheduler{
		store:    st,
		cfg:      cfg,
		owner:    fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		handlers: make(map[models.JobKind]Handler),
		observer: observer,
		slots:    make(map[models.JobKind]chan struct{}),
	}

	scanSlots := make(chan struct{}, max(cfg.MaxContributorScans, 1))
	crawlSlots := make(chan struct{}, max(cfg.MaxPlatformCrawls, 1))
	maintSlots := make(chan struct{}, max(cfg.MaxMaintenanceJobs, 1))
	s.slots[models.JobContributorScan] = scanSlots
	s.slots[models.JobPlatformCrawl] = crawlSlots
	for _, kind := range []models.JobKind{models.JobCleanup, models.JobMapper, models.JobScout, models.JobAnalyzer} {
		s.slots[kind] = maintSlots
	}
	return s
}

// Register installs the handler for a job kind.
func (s *Scheduler) Register(kind models.JobKind, h Handler) {
	s.handlers[kind] = h
}

// Owner returns this process's lease owner string.
func (s *Scheduler) Owner() string { return s.owner }

// Run executes the tick loop until ctx is canceled, then drains in-flight
// jobs within the grace period and interrupts whatever is left.
func (s *Scheduler) Run(ctx context.Context) error {
	if n, err := s.store.RecoverStale(s.cfg.StaleJobMaxAge, time.Now()); err != nil {
		log.Error().Err(err).Msg("Stale job recovery failed")
	} else if n > 0 {
		log.Info().Int("jobs", n).Msg("Recovered stale jobs from previous run")
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			s.shutdown.Store(true)
			return s.drain()
		case <-ticker.C:
		}
	}
}

// RequestShutdown sets the shutdown flag so no further job starts. The loop
// itself stops when its context is canceled.
func (s *Scheduler) RequestShutdown() {
	s.shutdown.Store(true)
}

// tick leases and dispatches due jobs for every kind. One job's failure to
// lease or run never aborts the tick.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	for _, kind := range kindOrder {
		if s.shutdown.Load() || ctx.Err() != nil {
			return
		}
		handler, ok := s.handlers[kind]
		if !ok {
			continue
		}

		due, err := s.store.DueJobs(kind, now, s.cfg.DueJobLimit)
		if err != nil {
			log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to fetch due jobs")
			continue
		}

		for _, job := range due {
			if s.shutdown.Load() || ctx.Err() != nil {
				return
			}
			slots := s.slots[kind]
			select {
			case slots <- struct{}{}:
			default:
				// Concurrency cap reached; the job stays due for the
				// next tick.
				continue
			}

			runID, err := s.store.Lease(job.ID, s.owner, time.Now())
			if err != nil {
				<-slots
				if !errors.Is(err, store.ErrAlreadyLeased) {
					log.Error().Err(err).Int64("job", job.ID).Msg("Lease failed")
				}
				continue
			}

			s.wg.Add(1)
			go func(job models.ScanJob, runID string, slots chan struct{}) {
				defer s.wg.Done()
				defer func() { <-slots }()
				s.runJob(ctx, handler, job, runID)
			}(job, runID, slots)
		}
	}
}

// runJob executes one leased job with a heartbeat ticker. Panics and errors
// mark the job failed; neither propagates.
func (s *Scheduler) runJob(ctx context.Context, handler Handler, job models.ScanJob, runID string) {
	started := time.Now()
	stopHeartbeat := s.startHeartbeat(runID)
	defer stopHeartbeat()

	var summary string
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		summary, err = handler.Run(ctx, job)
	}()

	elapsed := time.Since(started)
	if err != nil {
		jobRuns.WithLabelValues(string(job.Kind), "failed").Inc()
		log.Error().Err(err).
			Int64("job", job.ID).
			Str("kind", string(job.Kind)).
			Str("target", job.Target).
			Dur("elapsed", elapsed).
			Msg("Job failed")
		if ferr := s.store.Fail(runID, err.Error(), time.Now()); ferr != nil {
			log.Error().Err(ferr).Str("run", runID).Msg("Failed to record job failure")
		}
		return
	}

	jobRuns.WithLabelValues(string(job.Kind), "completed").Inc()
	log.Info().
		Int64("job", job.ID).
		Str("kind", string(job.Kind)).
		Str("target", job.Target).
		Dur("elapsed", elapsed).
		Str("summary", summary).
		Msg("Job completed")
	if cerr := s.store.Complete(runID, summary, time.Now()); cerr != nil {
		log.Error().Err(cerr).Str("run", runID).Msg("Failed to record job completion")
	}

	s.observer.Emit(models.FeedbackSignal{
		SignalType: completionSignal(job.Kind),
		EntityType: "scan_job",
		EntityID:   fmt.Sprint(job.ID),
		Actor:      "scheduler",
		Context: map[string]any{
			"kind":       string(job.Kind),
			"target":     job.Target,
			"elapsed_ms": elapsed.Milliseconds(),
			"summary":    summary,
		},
	})
}

func completionSignal(kind models.JobKind) string {
	if kind == models.JobPlatformCrawl {
		return models.SignalCrawlCompleted
	}
	return models.SignalScanCompleted
}

// startHeartbeat refreshes the lease until the returned stop func is called.
func (s *Scheduler) startHeartbeat(runID string) func() {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := s.store.Heartbeat(runID, time.Now()); err != nil {
					log.Warn().Err(err).Str("run", runID).Msg("Heartbeat failed")
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// drain waits for in-flight jobs up to the grace period, then interrupts
// whatever this process still holds.
func (s *Scheduler) drain() error {
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		log.Info().Msg("All in-flight jobs drained")
	case <-time.After(s.cfg.ShutdownGrace):
		log.Warn().Dur("grace", s.cfg.ShutdownGrace).Msg("Shutdown grace elapsed with jobs in flight")
	}

	n, err := s.store.InterruptRunning(s.owner)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info().Int("jobs", n).Msg("Interrupted running jobs for handoff")
	}
	return nil
}
