package models

// TierConfig enumerates what a subscription tier is entitled to. The values
// are read-only at runtime; changing them means shipping a new build.
type TierConfig struct {
	ReverseImageIntervalHours float64
	ReverseImageMaxPhotos     int
	CrawlRegistryEmbeddings   int // 0 means all embeddings, 1 means primary only
	CaptureEvidence           bool
	AIDetection               bool
	GenerateTakedown          bool
	URLCheck                  bool
	NotifyOnMatch             bool
	StoreMatch                bool
	PlatformCrawlMatching     bool
	ShowFullDetails           bool
	MaxKnownAccounts          int
	PriorityScanning          bool
}

var tierConfigs = map[Tier]TierConfig{
	TierFree: {
		ReverseImageIntervalHours: 168,
		ReverseImageMaxPhotos:     3,
		CrawlRegistryEmbeddings:   1,
		CaptureEvidence:           false,
		AIDetection:               false,
		GenerateTakedown:          false,
		URLCheck:                  false,
		NotifyOnMatch:             true,
		StoreMatch:                true,
		PlatformCrawlMatching:     true,
		ShowFullDetails:           false,
		MaxKnownAccounts:          3,
		PriorityScanning:          false,
	},
	TierProtected: {
		ReverseImageIntervalHours: 24,
		ReverseImageMaxPhotos:     10,
		CrawlRegistryEmbeddings:   0,
		CaptureEvidence:           true,
		AIDetection:               true,
		GenerateTakedown:          true,
		URLCheck:                  true,
		NotifyOnMatch:             true,
		StoreMatch:                true,
		PlatformCrawlMatching:     true,
		ShowFullDetails:           true,
		MaxKnownAccounts:          10,
		PriorityScanning:          false,
	},
	TierPremium: {
		ReverseImageIntervalHours: 6,
		ReverseImageMaxPhotos:     20,
		CrawlRegistryEmbeddings:   0,
		CaptureEvidence:           true,
		AIDetection:               true,
		GenerateTakedown:          true,
		URLCheck:                  true,
		NotifyOnMatch:             true,
		StoreMatch:                true,
		PlatformCrawlMatching:     true,
		ShowFullDetails:           true,
		MaxKnownAccounts:          25,
		PriorityScanning:          true,
	},
}

// ConfigForTier returns the entitlement set for a tier. Unknown tiers get the
// free configuration.
func ConfigForTier(t Tier) TierConfig {
	if cfg, ok := tierConfigs[t]; ok {
		return cfg
	}
	return tierConfigs[TierFree]
}

// PrimaryOnly reports whether registry matching for this tier is restricted
// to primary embeddings.
func (c TierConfig) PrimaryOnly() bool {
	return c.CrawlRegistryEmbeddings == 1
}

// ShouldRunAIDetection applies the three-way gate for AI classification:
// never for known accounts, never for low confidence, and only when the tier
// carries the flag.
func (c TierConfig) ShouldRunAIDetection(confidence ConfidenceTier, knownAccount bool) bool {
	return c.AIDetection && gateOpen(confidence, knownAccount)
}

// ShouldCaptureEvidence applies the same gate to screenshot capture.
func (c TierConfig) ShouldCaptureEvidence(confidence ConfidenceTier, knownAccount bool) bool {
	return c.CaptureEvidence && gateOpen(confidence, knownAccount)
}

// ShouldNotify applies the same gate to user notification.
func (c TierConfig) ShouldNotify(confidence ConfidenceTier, knownAccount bool) bool {
	return c.NotifyOnMatch && gateOpen(confidence, knownAccount)
}

func gateOpen(confidence ConfidenceTier, knownAccount bool) bool {
	if knownAccount {
		return false
	}
	return confidence == ConfidenceMedium || confidence == ConfidenceHigh
}
