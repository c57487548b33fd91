package ingest

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/facetrace/facetrace/internal/models"
	"github.com/facetrace/facetrace/internal/providers"
	"github.com/facetrace/facetrace/internal/store"
)

var ingestOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "facetrace",
		Subsystem: "ingest",
		Name:      "images_total",
		Help:      "Ingestion outcomes by resulting image status.",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(ingestOutcomes)
}

// Stats summarizes one ingestion pass.
type Stats struct {
	Processed int
	Embedded  int
	NoFace    int
	Failed    int
}

func (s Stats) String() string {
	return fmt.Sprintf("processed=%d embedded=%d no_face=%d failed=%d",
		s.Processed, s.Embedded, s.NoFace, s.Failed)
}

// ImageStore is the slice of the store the pipeline reads and writes.
type ImageStore interface {
	PendingImages(limit int) ([]models.DiscoveredImage, error)
	SetImageStatus(imageID string, status models.ImageStatus, reason string) error
	InsertFaceEmbedding(f models.DiscoveredFaceEmbedding) error
}

// Pipeline drains pending images through download and face detection with a
// bounded worker pool. Face detection is the expensive step, so the pool is
// sized to the detector, not the network.
type Pipeline struct {
	store      ImageStore
	downloader *Downloader
	detector   providers.FaceDetectionProvider
	workers    int
}

// NewPipeline wires the ingestion stage.
func NewPipeline(st ImageStore, dl *Downloader, detector providers.FaceDetectionProvider, workers int) *Pipeline {
	if workers <= 0 {
		workers = 2
	}
	return &Pipeline{store: st, downloader: dl, detector: detector, workers: workers}
}

// ProcessPending ingests up to limit pending images. Per-image failures are
// recorded on the row and counted; they never abort the pass.
func (p *Pipeline) ProcessPending(ctx context.Context, limit int) (Stats, error) {
	images, err := p.store.PendingImages(limit)
	if err != nil {
		return Stats{}, err
	}

	results := make([]models.ImageStatus, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, img := range images {
		g.Go(func() error {
			results[i] = p.processOne(gctx, img)
			return nil
		})
	}
	_ = g.Wait()

	var stats Stats
	for i := range images {
		switch results[i] {
		case "":
			// Worker never ran, likely shutdown mid-pass.
		case models.ImageEmbedded:
			stats.Processed++
			stats.Embedded++
		case models.ImageNoFace:
			stats.Processed++
			stats.NoFace++
		default:
			stats.Processed++
			stats.Failed++
		}
	}
	return stats, ctx.Err()
}

// processOne runs one image through download and detection and returns the
// terminal status it recorded.
func (p *Pipeline) processOne(ctx context.Context, img models.DiscoveredImage) models.ImageStatus {
	if ctx.Err() != nil {
		return ""
	}

	path, reason, err := p.downloader.Fetch(ctx, img.SourceURL)
	if err != nil {
		return p.finish(img, models.ImageFailed, reason, err)
	}
	defer os.Remove(path)

	faces, err := p.detector.Detect(ctx, path)
	if err != nil {
		return p.finish(img, models.ImageFailed, models.ReasonModelError, err)
	}

	switch {
	case len(faces) == 0:
		return p.finish(img, models.ImageNoFace, "", nil)
	case len(faces) > 1:
		// Only single-subject frames feed the matcher.
		return p.finish(img, models.ImageNoFace, models.ReasonMultipleFaces, nil)
	}

	// The intermediate state is visible between detection and embedding so a
	// crash mid-step leaves a row the next pass can resume.
	if err := p.store.SetImageStatus(img.ID, models.ImageHasFace, ""); err != nil {
		log.Error().Err(err).Str("image", img.ID).Msg("Failed to update image status")
	}

	face := faces[0]
	err = p.store.InsertFaceEmbedding(models.DiscoveredFaceEmbedding{
		ID:             store.NewID(),
		ImageID:        img.ID,
		Vector:         face.Embedding,
		DetectionScore: face.DetectionScore,
	})
	if err != nil {
		return p.finish(img, models.ImageFailed, models.ReasonModelError, err)
	}
	return p.finish(img, models.ImageEmbedded, "", nil)
}

func (p *Pipeline) finish(img models.DiscoveredImage, status models.ImageStatus, reason string, cause error) models.ImageStatus {
	if cause != nil {
		log.Debug().Err(cause).
			Str("image", img.ID).
			Str("status", string(status)).
			Str("reason", reason).
			Msg("Image ingestion ended with failure")
	}
	if err := p.store.SetImageStatus(img.ID, status, reason); err != nil {
		log.Error().Err(err).Str("image", img.ID).Msg("Failed to update image status")
	}
	ingestOutcomes.WithLabelValues(string(status)).Inc()
	return status
}
