package providers

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	scanerrors "github.com/facetrace/facetrace/internal/errors"
	"github.com/facetrace/facetrace/internal/models"
)

// StaticThresholds are the similarity boundaries between confidence tiers.
// The high boundary is inclusive.
type StaticThresholds struct {
	Low    float32
	Medium float32
	High   float32
}

func (t StaticThresholds) valid() bool {
	return t.Low >= 0 && t.Low <= t.Medium && t.Medium <= t.High
}

func (t StaticThresholds) bucket(similarity float32) models.ConfidenceTier {
	switch {
	case similarity >= t.High:
		return models.ConfidenceHigh
	case similarity >= t.Medium:
		return models.ConfidenceMedium
	case similarity >= t.Low:
		return models.ConfidenceLow
	default:
		return models.ConfidenceNone
	}
}

// StaticScorer buckets similarity against fixed configured thresholds.
type StaticScorer struct {
	thresholds StaticThresholds
}

// NewStaticScorer creates a scorer over fixed thresholds.
func NewStaticScorer(t StaticThresholds) *StaticScorer {
	return &StaticScorer{thresholds: t}
}

// Score maps a similarity to its confidence tier.
func (s *StaticScorer) Score(similarity float32) models.ConfidenceTier {
	return s.thresholds.bucket(similarity)
}

// ModelStateReader is the slice of the store the ML scorer reads from.
type ModelStateReader interface {
	LatestModelState(modelName string) (models.MLModelState, error)
}

// MLScorer buckets similarity against thresholds learned by the threshold
// optimizer, refreshed from the model state table every refreshEvery calls
// and at least every refreshInterval. Invalid or missing learned thresholds
// fall back to the static defaults.
type MLScorer struct {
	defaults StaticThresholds
	store    ModelStateReader

	refreshEvery    int
	refreshInterval time.Duration

	mu          sync.Mutex
	current     StaticThresholds
	calls       int
	lastRefresh time.Time
	version     int
}

// NewMLScorer creates the learned-threshold scorer.
func NewMLScorer(defaults StaticThresholds, store ModelStateReader,
	refreshEvery int, refreshInterval time.Duration) *MLScorer {
	if refreshEvery <= 0 {
		refreshEvery = 100
	}
	if refreshInterval <= 0 {
		refreshInterval = 5 * time.Minute
	}
	return &MLScorer{
		defaults:        defaults,
		store:           store,
		refreshEvery:    refreshEvery,
		refreshInterval: refreshInterval,
		current:         defaults,
	}
}

// Score maps a similarity to its confidence tier, refreshing the learned
// thresholds when the call count or interval says it is time.
func (s *MLScorer) Score(similarity float32) models.ConfidenceTier {
	s.mu.Lock()
	s.calls++
	if s.calls >= s.refreshEvery || time.Since(s.lastRefresh) >= s.refreshInterval {
		s.refreshLocked()
	}
	t := s.current
	s.mu.Unlock()
	return t.bucket(similarity)
}

// Thresholds returns the thresholds currently in effect.
func (s *MLScorer) Thresholds() StaticThresholds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *MLScorer) refreshLocked() {
	s.calls = 0
	s.lastRefresh = time.Now()

	st, err := s.store.LatestModelState(models.ThresholdOptimizerModel)
	if errors.Is(err, scanerrors.ErrNotFound) {
		s.current = s.defaults
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("Failed to refresh scorer thresholds, keeping current")
		return
	}
	if st.Version == s.version {
		return
	}

	learned := StaticThresholds{
		Low:    paramOr(st.Parameters, "threshold_low", s.defaults.Low),
		Medium: paramOr(st.Parameters, "threshold_medium", s.defaults.Medium),
		High:   paramOr(st.Parameters, "threshold_high", s.defaults.High),
	}
	if !learned.valid() {
		log.Warn().
			Int("version", st.Version).
			Float32("low", learned.Low).
			Float32("medium", learned.Medium).
			Float32("high", learned.High).
			Msg("Learned thresholds violate ordering, keeping current")
		return
	}
	s.current = learned
	s.version = st.Version
	log.Info().
		Int("version", st.Version).
		Float32("low", learned.Low).
		Float32("medium", learned.Medium).
		Float32("high", learned.High).
		Msg("Scorer thresholds refreshed from model state")
}

func paramOr(params map[string]float64, key string, fallback float32) float32 {
	if v, ok := params[key]; ok {
		return float32(v)
	}
	return fallback
}
