package observer

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/facetrace/facetrace/internal/models"
	"github.com/facetrace/facetrace/internal/store"
)

// ReviewStore is the slice of the store the review surface writes through.
type ReviewStore interface {
	GetMatch(id string) (models.Match, error)
	GetContributor(id string) (models.Contributor, error)
	UpdateReviewStatus(matchID string, status models.ReviewStatus) error
	InsertTakedown(t models.Takedown) error
}

// ReviewSurface applies human review decisions to matches. Review signals
// are flushed immediately so the admin surface reads its own writes.
type ReviewSurface struct {
	store    ReviewStore
	observer *Observer
}

// NewReviewSurface wires the review surface.
func NewReviewSurface(st ReviewStore, obs *Observer) *ReviewSurface {
	return &ReviewSurface{store: st, observer: obs}
}

// Apply records a review decision, emits the mapped signal and flushes. An
// unknown status is logged and dropped without touching the match. Confirming
// a match drafts a pending takedown when the contributor's tier carries the
// flag.
func (r *ReviewSurface) Apply(matchID string, status models.ReviewStatus, actor string) error {
	var signalType string
	switch status {
	case models.ReviewConfirmed:
		signalType = models.SignalMatchConfirmed
	case models.ReviewRejected, models.ReviewDismissed:
		signalType = models.SignalMatchDismissed
	default:
		log.Warn().Str("match", matchID).Str("status", string(status)).Msg("Unknown review status dropped")
		return nil
	}

	m, err := r.store.GetMatch(matchID)
	if err != nil {
		return err
	}
	if err := r.store.UpdateReviewStatus(matchID, status); err != nil {
		return err
	}

	if status == models.ReviewConfirmed {
		r.draftTakedown(m)
	}

	r.observer.Emit(models.FeedbackSignal{
		SignalType: signalType,
		EntityType: "match",
		EntityID:   matchID,
		Actor:      actor,
		Context: map[string]any{
			"review_status": string(status),
			"similarity":    float64(m.Similarity),
			"confidence":    string(m.ConfidenceTier),
		},
	})
	return r.observer.Flush()
}

func (r *ReviewSurface) draftTakedown(m models.Match) {
	contributor, err := r.store.GetContributor(m.ContributorID)
	if err != nil {
		log.Warn().Err(err).Str("match", m.ID).Msg("Cannot resolve contributor for takedown draft")
		return
	}
	if !models.ConfigForTier(contributor.Tier).GenerateTakedown {
		return
	}
	t := models.Takedown{
		ID:      store.NewID(),
		MatchID: m.ID,
		Body: fmt.Sprintf("Takedown request for confirmed match %s (similarity %.2f, %s confidence).",
			m.ID, m.Similarity, m.ConfidenceTier),
	}
	if err := r.store.InsertTakedown(t); err != nil {
		log.Error().Err(err).Str("match", m.ID).Msg("Failed to draft takedown")
	}
}
