package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/facetrace/facetrace/internal/discovery"
	"github.com/facetrace/facetrace/internal/ingest"
	"github.com/facetrace/facetrace/internal/match"
	"github.com/facetrace/facetrace/internal/models"
	"github.com/facetrace/facetrace/internal/platform"
	"github.com/facetrace/facetrace/internal/store"
)

// matchBatch bounds how many embedded images one job run pushes through the
// matcher.
const matchBatch = 200

// urlCheckLimit bounds how many previously matched pages one scan re-checks.
const urlCheckLimit = 25

// ContributorScanHandler runs one contributor's scan: reverse-image
// discovery with the contributor's reference photos, a tier-gated recheck of
// previously matched pages, then ingestion, then a matching pass over
// whatever is embedded. Discovery precedes ingestion precedes matching
// within the run.
type ContributorScanHandler struct {
	store    *store.Store
	source   discovery.Source
	urlcheck discovery.Source
	pipeline *ingest.Pipeline
	matcher  *match.Matcher
}

// NewContributorScanHandler wires the contributor scan. urlcheck may be nil;
// re-verification is then skipped for every tier.
func NewContributorScanHandler(st *store.Store, source, urlcheck discovery.Source,
	pipeline *ingest.Pipeline, matcher *match.Matcher) *ContributorScanHandler {
	return &ContributorScanHandler{store: st, source: source, urlcheck: urlcheck, pipeline: pipeline, matcher: matcher}
}

// Run implements Handler. The job target is the contributor id.
func (h *ContributorScanHandler) Run(ctx context.Context, job models.ScanJob) (string, error) {
	contributor, err := h.store.GetContributor(job.Target)
	if err != nil {
		return "", fmt.Errorf("resolve contributor %s: %w", job.Target, err)
	}
	cfg := models.ConfigForTier(contributor.Tier)

	refs, err := h.store.ReferenceKeys(contributor.ID, cfg.ReverseImageMaxPhotos)
	if err != nil {
		return "", err
	}

	discovered := 0
	if len(refs) > 0 {
		res, err := h.source.Discover(ctx, discovery.Context{
			ContributorID: contributor.ID,
			ReferenceKeys: refs,
			Limit:         matchBatch,
		})
		if err != nil {
			// Discovery failing leaves previously found images to process;
			// the run continues so the contributor still gets results.
			log.Warn().Err(err).Str("contributor", contributor.ID).Msg("Reverse-image discovery failed")
		}
		discovered = insertCandidates(h.store, res.Images)
	}

	if cfg.URLCheck && h.urlcheck != nil {
		discovered += h.recheckMatchedPages(ctx, contributor.ID)
	}

	stats, err := h.pipeline.ProcessPending(ctx, matchBatch)
	if err != nil {
		return "", err
	}

	matched, err := runMatchPass(ctx, h.store, h.matcher)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("discovered=%d %s matches=%d", discovered, stats, matched), nil
}

// recheckMatchedPages re-verifies the pages behind the contributor's prior
// matches. Pages that still serve content come back as candidates and flow
// through ingestion like any other discovery. Failures only cost this run's
// re-verification.
func (h *ContributorScanHandler) recheckMatchedPages(ctx context.Context, contributorID string) int {
	urls, err := h.store.MatchedPageURLs(contributorID, urlCheckLimit)
	if err != nil {
		log.Warn().Err(err).Str("contributor", contributorID).Msg("Failed to load matched page URLs")
		return 0
	}
	if len(urls) == 0 {
		return 0
	}
	res, err := h.urlcheck.Discover(ctx, discovery.Context{URLs: urls, Limit: len(urls)})
	if err != nil {
		log.Warn().Err(err).Str("contributor", contributorID).Msg("URL re-verification failed")
		return 0
	}
	return insertCandidates(h.store, res.Images)
}

// PlatformCrawlHandler crawls one platform from its saved cursors, then runs
// ingestion and matching over the haul.
type PlatformCrawlHandler struct {
	store    *store.Store
	sources  map[string]discovery.Source
	tags     []string
	pipeline *ingest.Pipeline
	matcher  *match.Matcher
}

// NewPlatformCrawlHandler wires the crawl. sources maps platform name to its
// crawl source; tags is the census of search tags to iterate.
func NewPlatformCrawlHandler(st *store.Store, sources map[string]discovery.Source, tags []string,
	pipeline *ingest.Pipeline, matcher *match.Matcher) *PlatformCrawlHandler {
	return &PlatformCrawlHandler{store: st, sources: sources, tags: tags, pipeline: pipeline, matcher: matcher}
}

// Run implements Handler. The job target is the platform name.
func (h *PlatformCrawlHandler) Run(ctx context.Context, job models.ScanJob) (string, error) {
	source, ok := h.sources[job.Target]
	if !ok {
		return "", fmt.Errorf("no crawl source for platform %s", job.Target)
	}

	sched, err := h.store.CrawlSchedule(job.Target)
	if err != nil {
		return "", err
	}

	res, err := source.Discover(ctx, discovery.Context{
		Platform:      job.Target,
		SearchTerms:   h.tags,
		Cursor:        sched.NextCursor,
		SearchCursors: sched.SearchCursors,
		TagCursors:    sched.TagCursors,
		Limit:         matchBatch,
	})
	if err != nil {
		return "", err
	}
	inserted := insertCandidates(h.store, res.Images)

	if err := h.store.SaveCrawlCursors(job.Target, res.NextCursor, res.SearchCursors, res.ModelCursors); err != nil {
		return "", err
	}

	stats, err := h.pipeline.ProcessPending(ctx, matchBatch)
	if err != nil {
		return "", err
	}
	matched, err := runMatchPass(ctx, h.store, h.matcher)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("crawled=%d new=%d %s matches=%d tags_exhausted=%t",
		len(res.Images), inserted, stats, matched, res.TagsExhausted), nil
}

// CleanupHandler ages out rows per retention class and purges stale temp
// downloads.
type CleanupHandler struct {
	store      *store.Store
	downloader *ingest.Downloader
}

// NewCleanupHandler wires the cleanup job.
func NewCleanupHandler(st *store.Store, dl *ingest.Downloader) *CleanupHandler {
	return &CleanupHandler{store: st, downloader: dl}
}

// Run implements Handler.
func (h *CleanupHandler) Run(ctx context.Context, job models.ScanJob) (string, error) {
	res := h.store.Cleanup(time.Now())
	purged := 0
	if h.downloader != nil {
		purged = h.downloader.PurgeTemp(24 * time.Hour)
	}
	return fmt.Sprintf("%s temp=%d", res, purged), nil
}

// ScoutHandler probes harvested domains and seeds mapper jobs for the
// promising ones.
type ScoutHandler struct {
	store *store.Store
	scout *platform.Scout
}

// NewScoutHandler wires the scout job.
func NewScoutHandler(st *store.Store, sc *platform.Scout) *ScoutHandler {
	return &ScoutHandler{store: st, scout: sc}
}

// Run implements Handler.
func (h *ScoutHandler) Run(ctx context.Context, job models.ScanJob) (string, error) {
	promising, summary, err := h.scout.Run(ctx, 25)
	if err != nil {
		return "", err
	}
	for _, domain := range promising {
		if err := h.store.EnsureJob(models.JobMapper, domain, 168); err != nil {
			log.Warn().Err(err).Str("domain", domain).Msg("Failed to seed mapper job")
		}
	}
	return summary, nil
}

// MapperHandler snapshots one platform's structure. Platforms seeded by the
// scout have no preconfigured source, so unknown targets get one built on
// the fly.
type MapperHandler struct {
	store     *store.Store
	sources   map[string]discovery.Source
	newSource func(platformName string) discovery.Source
	tags      []string
}

// NewMapperHandler wires the mapper job.
func NewMapperHandler(st *store.Store, sources map[string]discovery.Source,
	newSource func(platformName string) discovery.Source, tags []string) *MapperHandler {
	return &MapperHandler{store: st, sources: sources, newSource: newSource, tags: tags}
}

// Run implements Handler. The job target is the platform name.
func (h *MapperHandler) Run(ctx context.Context, job models.ScanJob) (string, error) {
	source, ok := h.sources[job.Target]
	if !ok {
		source = h.newSource(job.Target)
	}
	mapper := platform.NewMapper(h.store, source)
	snapshot, err := mapper.Run(ctx, job.Target, h.tags, 50)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("sections=%d tags=%d", len(snapshot.Sections), len(snapshot.Tags)), nil
}

// AnalyzerHandler compares the latest two snapshots of a platform.
type AnalyzerHandler struct {
	analyzer *platform.Analyzer
}

// NewAnalyzerHandler wires the analyzer job.
func NewAnalyzerHandler(a *platform.Analyzer) *AnalyzerHandler {
	return &AnalyzerHandler{analyzer: a}
}

// Run implements Handler. The job target is the platform name.
func (h *AnalyzerHandler) Run(ctx context.Context, job models.ScanJob) (string, error) {
	drifted, err := h.analyzer.Run(ctx, job.Target)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("drifted_sections=%d", len(drifted)), nil
}

// insertCandidates stores discovery output, counting only rows that were new
// by source URL.
func insertCandidates(st *store.Store, images []models.DiscoveredImage) int {
	inserted := 0
	for _, img := range images {
		created, err := st.InsertDiscoveredImage(img)
		if err != nil {
			log.Warn().Err(err).Str("url", img.SourceURL).Msg("Failed to insert discovered image")
			continue
		}
		if created {
			inserted++
		}
	}
	return inserted
}

// runMatchPass pushes embedded images through the matcher. Images without a
// face row are marked failed rather than retried forever.
func runMatchPass(ctx context.Context, st *store.Store, matcher *match.Matcher) (int, error) {
	images, err := st.EmbeddedImages(matchBatch)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, img := range images {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		face, err := st.FaceEmbeddingForImage(img.ID)
		if err != nil {
			log.Warn().Err(err).Str("image", img.ID).Msg("Embedded image has no face row")
			if serr := st.SetImageStatus(img.ID, models.ImageFailed, models.ReasonModelError); serr != nil {
				log.Error().Err(serr).Str("image", img.ID).Msg("Failed to update image status")
			}
			continue
		}
		n, err := matcher.ProcessImage(ctx, img, face)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
