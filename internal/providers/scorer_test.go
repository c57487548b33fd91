package providers

import (
	"errors"
	"testing"
	"time"

	scanerrors "github.com/facetrace/facetrace/internal/errors"
	"github.com/facetrace/facetrace/internal/models"
)

var defaultThresholds = StaticThresholds{Low: 0.50, Medium: 0.65, High: 0.85}

func TestStaticScorerBoundariesInclusive(t *testing.T) {
	s := NewStaticScorer(defaultThresholds)

	tests := []struct {
		similarity float32
		want       models.ConfidenceTier
	}{
		{0.49, models.ConfidenceNone},
		{0.50, models.ConfidenceLow},
		{0.64, models.ConfidenceLow},
		{0.65, models.ConfidenceMedium},
		{0.84, models.ConfidenceMedium},
		{0.85, models.ConfidenceHigh},
		{0.99, models.ConfidenceHigh},
		{-0.3, models.ConfidenceNone},
	}
	for _, tc := range tests {
		if got := s.Score(tc.similarity); got != tc.want {
			t.Errorf("Score(%v) = %s, want %s", tc.similarity, got, tc.want)
		}
	}
}

type fakeStateReader struct {
	state models.MLModelState
	err   error
}

func (f *fakeStateReader) LatestModelState(modelName string) (models.MLModelState, error) {
	if f.err != nil {
		return models.MLModelState{}, f.err
	}
	return f.state, nil
}

func TestMLScorerUsesDefaultsWhenNoState(t *testing.T) {
	reader := &fakeStateReader{err: scanerrors.ErrNotFound}
	s := NewMLScorer(defaultThresholds, reader, 1, time.Minute)

	if got := s.Score(0.70); got != models.ConfidenceMedium {
		t.Fatalf("Score(0.70) = %s, want medium under defaults", got)
	}
	if s.Thresholds() != defaultThresholds {
		t.Fatalf("thresholds = %+v, want defaults", s.Thresholds())
	}
}

func TestMLScorerAdoptsLearnedThresholds(t *testing.T) {
	reader := &fakeStateReader{state: models.MLModelState{
		ModelName: models.ThresholdOptimizerModel,
		Version:   3,
		Parameters: map[string]float64{
			"threshold_low": 0.40, "threshold_medium": 0.60, "threshold_high": 0.80,
		},
	}}
	s := NewMLScorer(defaultThresholds, reader, 1, time.Minute)

	if got := s.Score(0.82); got != models.ConfidenceHigh {
		t.Fatalf("Score(0.82) = %s, want high under learned thresholds", got)
	}
	want := StaticThresholds{Low: 0.40, Medium: 0.60, High: 0.80}
	if s.Thresholds() != want {
		t.Fatalf("thresholds = %+v, want %+v", s.Thresholds(), want)
	}
}

func TestMLScorerRejectsInvalidOrdering(t *testing.T) {
	reader := &fakeStateReader{state: models.MLModelState{
		Version: 1,
		Parameters: map[string]float64{
			"threshold_low": 0.90, "threshold_medium": 0.60, "threshold_high": 0.80,
		},
	}}
	s := NewMLScorer(defaultThresholds, reader, 1, time.Minute)

	s.Score(0.70)
	if s.Thresholds() != defaultThresholds {
		t.Fatalf("thresholds = %+v, invalid ordering must keep current", s.Thresholds())
	}
}

func TestMLScorerKeepsCurrentOnReadError(t *testing.T) {
	reader := &fakeStateReader{state: models.MLModelState{
		Version:    2,
		Parameters: map[string]float64{"threshold_high": 0.80},
	}}
	s := NewMLScorer(defaultThresholds, reader, 1, time.Minute)

	s.Score(0.70)
	adopted := s.Thresholds()
	if adopted.High != 0.80 {
		t.Fatalf("high = %v, want 0.80 after first refresh", adopted.High)
	}

	reader.err = errors.New("db locked")
	s.Score(0.70)
	if s.Thresholds() != adopted {
		t.Fatalf("thresholds = %+v, read errors must keep current", s.Thresholds())
	}
}

func TestMLScorerMissingParamsFallBackToDefaults(t *testing.T) {
	reader := &fakeStateReader{state: models.MLModelState{
		Version:    1,
		Parameters: map[string]float64{"threshold_high": 0.90},
	}}
	s := NewMLScorer(defaultThresholds, reader, 1, time.Minute)

	s.Score(0.70)
	got := s.Thresholds()
	if got.Low != defaultThresholds.Low || got.Medium != defaultThresholds.Medium {
		t.Fatalf("thresholds = %+v, missing params must keep defaults", got)
	}
	if got.High != 0.90 {
		t.Fatalf("high = %v, want learned 0.90", got.High)
	}
}
