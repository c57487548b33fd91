// Package providers holds the pluggable capabilities behind the pipeline:
// face detection, AI-generated-content classification and match scoring.
// Providers are lazy singletons; nothing dials out until first use.
package providers

import (
	"sync"

	"github.com/facetrace/facetrace/internal/config"
	"github.com/facetrace/facetrace/internal/match"
	"github.com/facetrace/facetrace/internal/resilience"
	"github.com/facetrace/facetrace/internal/store"
)

// Service names used for rate limiter and circuit breaker registration.
const (
	ServiceAIDetection   = "ai_detection"
	ServiceReverseImage  = "reverse_image"
	ServicePlatformCrawl = "platform_crawl"
	ServiceFaceWorker    = "face_worker"
)

// Registry hands out provider singletons, constructing each on first use.
type Registry struct {
	cfg      *config.Config
	store    *store.Store
	limiters *resilience.LimiterRegistry
	breakers *resilience.BreakerRegistry

	faceOnce sync.Once
	face     FaceDetectionProvider

	aiOnce sync.Once
	ai     *AIDetectionClient

	scorerOnce sync.Once
	scorer     match.Scorer
}

// NewRegistry creates a provider registry. Nothing is constructed yet.
func NewRegistry(cfg *config.Config, st *store.Store,
	limiters *resilience.LimiterRegistry, breakers *resilience.BreakerRegistry) *Registry {
	return &Registry{cfg: cfg, store: st, limiters: limiters, breakers: breakers}
}

// FaceDetection returns the shared face detection provider.
func (r *Registry) FaceDetection() FaceDetectionProvider {
	r.faceOnce.Do(func() {
		r.face = NewFaceWorkerClient(r.cfg.FaceWorkerURL, r.cfg.ProviderTimeout)
	})
	return r.face
}

// AIDetection returns the shared AI-generated-content classifier, or nil when
// no API key is configured.
func (r *Registry) AIDetection() *AIDetectionClient {
	r.aiOnce.Do(func() {
		if r.cfg.AIDetectionKey == "" {
			return
		}
		r.ai = NewAIDetectionClient(r.cfg.AIDetectionURL, r.cfg.AIDetectionKey,
			r.cfg.ProviderTimeout, r.limiters, r.breakers)
	})
	return r.ai
}

// MatchScorer returns the configured similarity scorer. The "ml" variant
// layers learned thresholds from the model state table over the static
// defaults; anything else is the static scorer.
func (r *Registry) MatchScorer() match.Scorer {
	r.scorerOnce.Do(func() {
		static := StaticThresholds{
			Low:    r.cfg.ThresholdLow,
			Medium: r.cfg.ThresholdMedium,
			High:   r.cfg.ThresholdHigh,
		}
		if r.cfg.ScorerVariant == "ml" {
			r.scorer = NewMLScorer(static, r.store, r.cfg.ScorerRefreshEvery, r.cfg.ScorerRefreshInterval)
			return
		}
		r.scorer = NewStaticScorer(static)
	})
	return r.scorer
}
