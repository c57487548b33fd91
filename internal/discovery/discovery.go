// Package discovery finds candidate images across platforms. Every source
// implements the same contract: given a context describing what to look for
// and where to resume, return candidates plus the cursors needed to resume
// next run. Deduplication happens downstream by source URL.
package discovery

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/facetrace/facetrace/internal/models"
)

// SourceType classifies how a source finds images.
type SourceType string

const (
	TypeReverseImage  SourceType = "reverse_image"
	TypePlatformCrawl SourceType = "platform_crawl"
	TypeURLCheck      SourceType = "url_check"
	TypeLinkHarvest   SourceType = "link_harvest"
)

// Context tells a source what to discover and where to resume. Only the
// fields relevant to the source type are set.
type Context struct {
	// Reverse-image search
	ContributorID string
	ReferenceKeys []string

	// Platform crawl
	Platform      string
	SearchTerms   []string
	Cursor        string
	SearchCursors map[string]string
	TagCursors    map[string]string

	// URL check
	URLs []string

	Limit int
}

// Result is what one discovery pass produced: candidates plus resumption
// cursors. TagsTotal and TagsExhausted describe crawl progress through the
// platform's tag space.
type Result struct {
	Images        []models.DiscoveredImage
	NextCursor    string
	SearchCursors map[string]string
	ModelCursors  map[string]string
	Domains       []string // link-harvest only
	TagsTotal     int
	TagsExhausted bool
}

// Source is one way of finding candidate images.
type Source interface {
	Discover(ctx context.Context, dctx Context) (Result, error)
	SourceType() SourceType
	SourceName() string
}

var discoveredImages = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "facetrace",
		Subsystem: "discovery",
		Name:      "images_total",
		Help:      "Candidate images emitted per source.",
	},
	[]string{"source", "type"},
)

func init() {
	prometheus.MustRegister(discoveredImages)
}

func countDiscovered(s Source, n int) {
	if n > 0 {
		discoveredImages.WithLabelValues(s.SourceName(), string(s.SourceType())).Add(float64(n))
	}
}
