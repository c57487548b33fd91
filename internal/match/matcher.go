package match

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/facetrace/facetrace/internal/models"
	"github.com/facetrace/facetrace/internal/store"
)

// Scorer buckets a raw similarity into a confidence tier.
type Scorer interface {
	Score(similarity float32) models.ConfidenceTier
}

// AIVerdict is the result of an AI-generated-content classification.
type AIVerdict struct {
	Generated bool
	Score     float64
	Generator string
}

// AIDetector classifies an image as AI-generated or not.
type AIDetector interface {
	Detect(ctx context.Context, imageURL string) (AIVerdict, error)
}

// EvidenceSink accepts screenshot capture tasks for gated matches.
type EvidenceSink interface {
	EnqueueScreenshot(ctx context.Context, contributorID, matchID, pageURL string) error
}

// SignalEmitter receives feedback signals. Emit never fails.
type SignalEmitter interface {
	Emit(sig models.FeedbackSignal)
}

// MatchStore is the slice of the store the matcher writes through.
type MatchStore interface {
	InsertMatch(m models.Match) error
	SetMatchAIVerdict(matchID string, generated bool, score float64, generator string) error
	InsertNotification(n models.Notification) error
	SetImageStatus(imageID string, status models.ImageStatus, reason string) error
}

// Matcher runs the per-image matching stage: comparator search, confidence
// tiering, allowlist check, then tier-gated AI detection, evidence capture
// and notification.
type Matcher struct {
	store      MatchStore
	comparator *Comparator
	scorer     Scorer
	allowlist  *Allowlist
	detector   AIDetector
	evidence   EvidenceSink
	observer   SignalEmitter

	threshold float32 // comparator floor, the low-tier boundary
	limit     int     // max matches persisted per image
}

// NewMatcher wires the matching stage. detector and evidence may be nil when
// the deployment carries no such provider; gating then skips those actions.
func NewMatcher(store MatchStore, comparator *Comparator, scorer Scorer, allowlist *Allowlist,
	detector AIDetector, evidence EvidenceSink, observer SignalEmitter,
	threshold float32, limit int) *Matcher {
	return &Matcher{
		store:      store,
		comparator: comparator,
		scorer:     scorer,
		allowlist:  allowlist,
		detector:   detector,
		evidence:   evidence,
		observer:   observer,
		threshold:  threshold,
		limit:      limit,
	}
}

// ProcessImage matches one embedded image against the registry and returns
// the number of match rows persisted. The image ends up in status matched or
// no_match. Per-candidate failures are logged and skipped; only comparator
// errors abort the stage.
func (m *Matcher) ProcessImage(ctx context.Context, img models.DiscoveredImage, face models.DiscoveredFaceEmbedding) (int, error) {
	// Over-fetch so allowlist and scorer drops cannot starve the result set.
	candidates, err := m.comparator.Compare(face.Vector, m.threshold, false, m.limit*2)
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, cand := range candidates {
		if stored >= m.limit {
			break
		}
		if ctx.Err() != nil {
			break
		}

		confidence := m.scorer.Score(cand.Similarity)
		if confidence == models.ConfidenceNone {
			continue
		}

		known := m.isKnownAccount(cand.ContributorID, img.PageURL)

		match := models.Match{
			ID:             store.NewID(),
			ImageID:        img.ID,
			ContributorID:  cand.ContributorID,
			Similarity:     cand.Similarity,
			ConfidenceTier: confidence,
			KnownAccount:   known,
		}
		if err := m.store.InsertMatch(match); err != nil {
			log.Error().Err(err).
				Str("image", img.ID).
				Str("contributor", cand.ContributorID).
				Msg("Failed to persist match")
			continue
		}
		stored++

		cfg := models.ConfigForTier(cand.Tier)
		m.runGatedActions(ctx, cfg, match, img, confidence, known)

		m.observer.Emit(models.FeedbackSignal{
			SignalType: models.SignalMatchCreated,
			EntityType: "match",
			EntityID:   match.ID,
			Actor:      "matcher",
			Context: map[string]any{
				"contributor_id": cand.ContributorID,
				"similarity":     float64(cand.Similarity),
				"confidence":     string(confidence),
				"known_account":  known,
			},
		})
	}

	status := models.ImageNoMatch
	if stored > 0 {
		status = models.ImageMatched
	}
	if err := m.store.SetImageStatus(img.ID, status, ""); err != nil {
		return stored, err
	}
	return stored, nil
}

// runGatedActions applies the downstream actions the tier config admits.
// Known-account matches never trigger any of them.
func (m *Matcher) runGatedActions(ctx context.Context, cfg models.TierConfig, match models.Match,
	img models.DiscoveredImage, confidence models.ConfidenceTier, known bool) {

	if m.detector != nil && cfg.ShouldRunAIDetection(confidence, known) {
		verdict, err := m.detector.Detect(ctx, img.SourceURL)
		if err != nil {
			log.Warn().Err(err).Str("match", match.ID).Msg("AI detection failed")
		} else if err := m.store.SetMatchAIVerdict(match.ID, verdict.Generated, verdict.Score, verdict.Generator); err != nil {
			log.Error().Err(err).Str("match", match.ID).Msg("Failed to record AI verdict")
		}
	}

	if m.evidence != nil && cfg.ShouldCaptureEvidence(confidence, known) {
		if err := m.evidence.EnqueueScreenshot(ctx, match.ContributorID, match.ID, img.PageURL); err != nil {
			log.Warn().Err(err).Str("match", match.ID).Msg("Failed to enqueue evidence capture")
		}
	}

	if cfg.ShouldNotify(confidence, known) {
		n := models.Notification{
			ContributorID: match.ContributorID,
			MatchID:       match.ID,
			Message:       notificationMessage(img, confidence),
		}
		if err := m.store.InsertNotification(n); err != nil {
			log.Error().Err(err).Str("match", match.ID).Msg("Failed to enqueue notification")
		}
	}
}

func (m *Matcher) isKnownAccount(contributorID, pageURL string) bool {
	if m.allowlist == nil || pageURL == "" {
		return false
	}
	acct, err := m.allowlist.Lookup(contributorID, pageURL)
	if err != nil {
		log.Warn().Err(err).Str("contributor", contributorID).Msg("Allowlist lookup failed")
		return false
	}
	return acct != nil
}

func notificationMessage(img models.DiscoveredImage, confidence models.ConfidenceTier) string {
	where := img.Platform
	if where == "" {
		where = img.SourceName
	}
	if where == "" {
		where = "the web"
	}
	return fmt.Sprintf("A possible image of you was found on %s (%s confidence).", where, confidence)
}
