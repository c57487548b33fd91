package models

import "testing"

func TestConfigForTierUnknownFallsBackToFree(t *testing.T) {
	got := ConfigForTier(Tier("enterprise"))
	if got != tierConfigs[TierFree] {
		t.Fatalf("unknown tier config = %+v, want free config", got)
	}
}

func TestFreeTierIsPrimaryOnly(t *testing.T) {
	if !ConfigForTier(TierFree).PrimaryOnly() {
		t.Fatal("free tier should match primary embeddings only")
	}
	if ConfigForTier(TierProtected).PrimaryOnly() {
		t.Fatal("protected tier should match all embeddings")
	}
	if ConfigForTier(TierPremium).PrimaryOnly() {
		t.Fatal("premium tier should match all embeddings")
	}
}

func TestGatingMatrix(t *testing.T) {
	cases := []struct {
		name         string
		tier         Tier
		confidence   ConfidenceTier
		knownAccount bool
		wantAI       bool
		wantEvidence bool
		wantNotify   bool
	}{
		{"free known account high", TierFree, ConfidenceHigh, true, false, false, false},
		{"free unknown high", TierFree, ConfidenceHigh, false, false, false, true},
		{"protected unknown medium", TierProtected, ConfidenceMedium, false, true, true, true},
		{"protected known medium", TierProtected, ConfidenceMedium, true, false, false, false},
		{"premium low confidence", TierPremium, ConfidenceLow, false, false, false, false},
		{"protected low confidence", TierProtected, ConfidenceLow, false, false, false, false},
		{"free low confidence", TierFree, ConfidenceLow, false, false, false, false},
		{"premium unknown high", TierPremium, ConfidenceHigh, false, true, true, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := ConfigForTier(tc.tier)
			if got := cfg.ShouldRunAIDetection(tc.confidence, tc.knownAccount); got != tc.wantAI {
				t.Errorf("ShouldRunAIDetection = %v, want %v", got, tc.wantAI)
			}
			if got := cfg.ShouldCaptureEvidence(tc.confidence, tc.knownAccount); got != tc.wantEvidence {
				t.Errorf("ShouldCaptureEvidence = %v, want %v", got, tc.wantEvidence)
			}
			if got := cfg.ShouldNotify(tc.confidence, tc.knownAccount); got != tc.wantNotify {
				t.Errorf("ShouldNotify = %v, want %v", got, tc.wantNotify)
			}
		})
	}
}
