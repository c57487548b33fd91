package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facetrace/facetrace/internal/models"
)

func TestMatchRoundTrip(t *testing.T) {
	s := newTestStore(t)

	m := models.Match{
		ImageID:        "img1",
		ContributorID:  "c1",
		Similarity:     0.87,
		ConfidenceTier: models.ConfidenceHigh,
		KnownAccount:   true,
	}
	require.NoError(t, s.InsertMatch(m))

	// The id was generated at insert.
	var id string
	require.NoError(t, s.db.QueryRow(`SELECT id FROM matches WHERE image_id = 'img1'`).Scan(&id))

	got, err := s.GetMatch(id)
	require.NoError(t, err)
	require.Equal(t, models.ConfidenceHigh, got.ConfidenceTier)
	require.Equal(t, models.ReviewNew, got.ReviewStatus)
	require.True(t, got.KnownAccount)
	require.Nil(t, got.AIGenerated, "no verdict recorded yet")
	require.InDelta(t, 0.87, float64(got.Similarity), 1e-6)
}

func TestSetMatchAIVerdict(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertMatch(models.Match{
		ID: "m1", ImageID: "img1", ContributorID: "c1",
		Similarity: 0.9, ConfidenceTier: models.ConfidenceHigh,
	}))

	require.NoError(t, s.SetMatchAIVerdict("m1", true, 0.93, "diffusion"))

	got, err := s.GetMatch("m1")
	require.NoError(t, err)
	require.NotNil(t, got.AIGenerated)
	require.True(t, *got.AIGenerated)
	require.Equal(t, "diffusion", got.AIGenerator)
}

func TestReviewStatusAndTakedown(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertMatch(models.Match{
		ID: "m1", ImageID: "img1", ContributorID: "c1",
		Similarity: 0.9, ConfidenceTier: models.ConfidenceHigh,
	}))

	require.NoError(t, s.UpdateReviewStatus("m1", models.ReviewConfirmed))
	got, err := s.GetMatch("m1")
	require.NoError(t, err)
	require.Equal(t, models.ReviewConfirmed, got.ReviewStatus)

	require.NoError(t, s.InsertTakedown(models.Takedown{MatchID: "m1", Body: "notice"}))
	var state string
	require.NoError(t, s.db.QueryRow(`SELECT state FROM takedowns WHERE match_id = 'm1'`).Scan(&state))
	require.Equal(t, "pending", state, "drafted takedowns start pending")
}

func TestCountMatchArtifacts(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.InsertEvidence("m1", "evidence/c1/m1/x.png", 1024, "abc"))
	require.NoError(t, s.InsertNotification(models.Notification{ContributorID: "c1", MatchID: "m1"}))

	evidence, notifications, err := s.CountMatchArtifacts("m1")
	require.NoError(t, err)
	require.Equal(t, 1, evidence)
	require.Equal(t, 1, notifications)

	evidence, notifications, err = s.CountMatchArtifacts("m2")
	require.NoError(t, err)
	require.Zero(t, evidence)
	require.Zero(t, notifications)
}

func TestLatestModelStatePicksHighestVersion(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PromoteModelState(models.MLModelState{
		ModelName: "match_scorer", Version: 1,
		Parameters: map[string]float64{"threshold_high": 0.85},
	}))
	require.NoError(t, s.PromoteModelState(models.MLModelState{
		ModelName: "match_scorer", Version: 2,
		Parameters: map[string]float64{"threshold_high": 0.88},
	}))

	st, err := s.LatestModelState("match_scorer")
	require.NoError(t, err)
	require.Equal(t, 2, st.Version)
	require.Equal(t, 0.88, st.Parameters["threshold_high"])
}

func TestNewIDsAreSortableAndUnique(t *testing.T) {
	a := NewID()
	time.Sleep(2 * time.Millisecond)
	b := NewID()
	require.NotEqual(t, a, b)
	require.Less(t, a, b, "ulids order by creation time")
}
