package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facetrace/facetrace/internal/models"
)

func insertImage(t *testing.T, s *Store, id, sourceURL, pageURL string) {
	t.Helper()
	created, err := s.InsertDiscoveredImage(models.DiscoveredImage{
		ID:        id,
		SourceURL: sourceURL,
		PageURL:   pageURL,
	})
	require.NoError(t, err)
	require.True(t, created)
}

func TestMatchedPageURLsDedupesAndOrders(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().Add(-time.Hour)

	insertImage(t, s, "i1", "https://cdn/1.jpg", "https://a.example/post/1")
	insertImage(t, s, "i2", "https://cdn/2.jpg", "https://a.example/post/1")
	insertImage(t, s, "i3", "https://cdn/3.jpg", "")
	insertImage(t, s, "i4", "https://cdn/4.jpg", "https://b.example/post/2")
	insertImage(t, s, "i5", "https://cdn/5.jpg", "https://c.example/post/3")

	match := func(contributor, image string, at time.Time) {
		require.NoError(t, s.InsertMatch(models.Match{
			ImageID:        image,
			ContributorID:  contributor,
			Similarity:     0.7,
			ConfidenceTier: models.ConfidenceMedium,
			CreatedAt:      at,
		}))
	}
	match("c1", "i1", base)
	match("c1", "i2", base.Add(time.Minute))
	match("c1", "i3", base.Add(2*time.Minute))
	match("c1", "i5", base.Add(3*time.Minute))
	match("c2", "i4", base.Add(4*time.Minute))

	urls, err := s.MatchedPageURLs("c1", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"https://c.example/post/3", "https://a.example/post/1"}, urls,
		"shared pages collapse to one entry, empty pages and other contributors are excluded")

	capped, err := s.MatchedPageURLs("c1", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"https://c.example/post/3"}, capped)
}

func TestPendingImagesIncludesStrandedHasFaceRows(t *testing.T) {
	s := newTestStore(t)
	insertImage(t, s, "i1", "https://cdn/1.jpg", "")
	insertImage(t, s, "i2", "https://cdn/2.jpg", "")
	insertImage(t, s, "i3", "https://cdn/3.jpg", "")

	// i2 crashed between detection and embedding; i3 finished.
	require.NoError(t, s.SetImageStatus("i2", models.ImageHasFace, ""))
	require.NoError(t, s.SetImageStatus("i3", models.ImageEmbedded, ""))

	pending, err := s.PendingImages(10)
	require.NoError(t, err)
	ids := make([]string, 0, len(pending))
	for _, img := range pending {
		ids = append(ids, img.ID)
	}
	require.ElementsMatch(t, []string{"i1", "i2"}, ids,
		"has_face rows are retried, embedded rows are not")
}

func TestHarvestPageDomainsExcludesKnownPlatforms(t *testing.T) {
	s := newTestStore(t)
	insertImage(t, s, "i1", "https://cdn/1.jpg", "https://www.newsite.com/gallery/1")
	insertImage(t, s, "i2", "https://cdn/2.jpg", "https://newsite.com/gallery/2")
	insertImage(t, s, "i3", "https://cdn/3.jpg", "https://civitai.com/images/9")

	domains, err := s.HarvestPageDomains([]string{"civitai.com"}, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"newsite.com"}, domains,
		"hosts dedupe across www and excluded platforms are dropped")
}
