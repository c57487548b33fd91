// Package models defines the core entities shared by the scanning pipeline:
// contributors, embeddings, discovered images, matches, scan jobs and the
// feedback signals emitted while processing them.
package models

import (
	"time"
)

// EmbeddingDim is the fixed dimensionality of every face embedding.
const EmbeddingDim = 512

// Tier is a contributor's subscription class.
type Tier string

const (
	TierFree      Tier = "free"
	TierProtected Tier = "protected"
	TierPremium   Tier = "premium"
)

// ParseTier maps a stored tier string to a Tier, falling back to free for
// anything unrecognized.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierFree, TierProtected, TierPremium:
		return Tier(s)
	default:
		return TierFree
	}
}

// ImageStatus is the processing status of a discovered image.
type ImageStatus string

const (
	ImagePending  ImageStatus = "pending"
	ImageHasFace  ImageStatus = "has_face"
	ImageNoFace   ImageStatus = "no_face"
	ImageEmbedded ImageStatus = "embedded"
	ImageMatched  ImageStatus = "matched"
	ImageNoMatch  ImageStatus = "no_match"
	ImageFailed   ImageStatus = "failed"
)

// Failure reason codes recorded on discovered images. Short by design: they
// end up in status_reason columns and log fields.
const (
	ReasonMultipleFaces = "multiple_faces"
	ReasonOversized     = "oversized"
	ReasonBadContent    = "bad_content_type"
	ReasonUnreadable    = "unreadable"
	ReasonModelError    = "model_error"
	ReasonDownloadError = "download_error"
)

// ConfidenceTier buckets a similarity score.
type ConfidenceTier string

const (
	ConfidenceNone   ConfidenceTier = "none"
	ConfidenceLow    ConfidenceTier = "low"
	ConfidenceMedium ConfidenceTier = "medium"
	ConfidenceHigh   ConfidenceTier = "high"
)

// ReviewStatus is the human review state of a match.
type ReviewStatus string

const (
	ReviewNew       ReviewStatus = "new"
	ReviewConfirmed ReviewStatus = "confirmed"
	ReviewRejected  ReviewStatus = "rejected"
	ReviewDismissed ReviewStatus = "dismissed"
)

// JobKind identifies the work a scan job performs.
type JobKind string

const (
	JobContributorScan JobKind = "contributor_scan"
	JobPlatformCrawl   JobKind = "platform_crawl"
	JobCleanup         JobKind = "cleanup"
	JobMapper          JobKind = "mapper"
	JobScout           JobKind = "scout"
	JobAnalyzer        JobKind = "analyzer"
)

// LeaseState is the scheduler-owned lifecycle state of a scan job.
type LeaseState string

// Completed runs return to idle with last_run_at stamped; failed is the only
// terminal state persisted between runs.
const (
	LeaseIdle        LeaseState = "idle"
	LeaseRunning     LeaseState = "running"
	LeaseInterrupted LeaseState = "interrupted"
	LeaseFailed      LeaseState = "failed"
)

// Contributor is a registered user whose likeness the scanner protects.
type Contributor struct {
	ID          string
	DisplayName string
	Tier        Tier
	CreatedAt   time.Time
}

// Embedding is a reference face embedding owned by a contributor.
// Vector is unit-norm, EmbeddingDim wide.
type Embedding struct {
	ID            string
	ContributorID string
	Vector        []float32
	Primary       bool
	CreatedAt     time.Time
}

// KnownAccount is an allowlisted platform handle or domain declared by a
// contributor as their own.
type KnownAccount struct {
	ID            string
	ContributorID string
	Platform      string
	Handle        string
	Domain        string
}

// DiscoveredImage is a candidate image found by a discovery source.
type DiscoveredImage struct {
	ID           string
	SourceURL    string
	PageURL      string
	PageTitle    string
	Platform     string
	SourceName   string
	Status       ImageStatus
	StatusReason string
	DiscoveredAt time.Time
	UpdatedAt    time.Time
}

// DiscoveredFaceEmbedding is the single face extracted from a discovered image.
type DiscoveredFaceEmbedding struct {
	ID             string
	ImageID        string
	Vector         []float32
	DetectionScore float64
	CreatedAt      time.Time
}

// Match links a discovered face to a contributor.
type Match struct {
	ID             string
	ImageID        string
	ContributorID  string
	Similarity     float32
	ConfidenceTier ConfidenceTier
	KnownAccount   bool
	AIGenerated    *bool
	AIScore        *float64
	AIGenerator    string
	ReviewStatus   ReviewStatus
	CreatedAt      time.Time
}

// Takedown is a drafted notice anchored to a match. It stays pending until a
// human submits it; the scanner never submits takedowns itself.
type Takedown struct {
	ID        string
	MatchID   string
	Body      string
	State     string
	CreatedAt time.Time
}

// ScanJob is a durable unit of scheduled work keyed by (kind, target).
type ScanJob struct {
	ID            int64
	Kind          JobKind
	Target        string
	IntervalHours float64
	LastRunAt     time.Time
	LeaseState    LeaseState
	LeaseOwner    string
	HeartbeatAt   time.Time
	RunID         string
	LastResult    string
	LastError     string
}

// CrawlSchedule carries per-platform crawl cadence and resumption cursors.
type CrawlSchedule struct {
	Platform      string
	IntervalHours float64
	NextCursor    string
	SearchCursors map[string]string
	TagCursors    map[string]string
	UpdatedAt     time.Time
}

// FeedbackSignal is an append-only event describing something noteworthy the
// pipeline observed. Context is free-form JSON so new signal types need no
// schema change.
type FeedbackSignal struct {
	ID         string
	SignalType string
	EntityType string
	EntityID   string
	Context    map[string]any
	Actor      string
	EmittedAt  time.Time
}

// Recognized signal types. The set is open: anything else is stored as-is.
const (
	SignalCrawlCompleted = "crawl_completed"
	SignalScanCompleted  = "scan_completed"
	SignalMatchCreated   = "match_created"
	SignalMatchConfirmed = "match_confirmed"
	SignalMatchDismissed = "match_dismissed"
	SignalPlatformDrift  = "platform_drift"
)

// MLModelState is the most recent persisted state of a named tuning model.
type MLModelState struct {
	ModelName  string
	Version    int
	Parameters map[string]float64
	UpdatedAt  time.Time
}

// ThresholdOptimizerModel names the model whose parameters carry learned
// similarity thresholds.
const ThresholdOptimizerModel = "threshold_optimizer"

// Notification is a user-visible row enqueued when a match clears gating.
type Notification struct {
	ID            string
	ContributorID string
	MatchID       string
	Message       string
	Read          bool
	CreatedAt     time.Time
	ReadAt        time.Time
}
