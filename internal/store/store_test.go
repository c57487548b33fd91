package store

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/facetrace/facetrace/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "scanner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestVectorRoundTrip(t *testing.T) {
	v := []float32{0.5, -1.25, 3.75, 0}
	got := decodeVector(encodeVector(v))
	require.Equal(t, v, got)
}

func TestEmbeddingRegistryNormalizesAtRest(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddContributor(models.Contributor{ID: "c1", Tier: models.TierProtected}))

	// Deliberately not unit-norm; AddEmbedding must normalize before storing.
	vec := make([]float32, models.EmbeddingDim)
	vec[0] = 3
	vec[1] = 4
	require.NoError(t, s.AddEmbedding(models.Embedding{
		ID: "e1", ContributorID: "c1", Vector: vec, Primary: true,
	}))

	entries, err := s.EmbeddingRegistry(false)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var norm float64
	for _, x := range entries[0].Embedding.Vector {
		norm += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, math.Sqrt(norm), 1e-3)
	require.Equal(t, models.TierProtected, entries[0].Tier)
	require.True(t, entries[0].Embedding.Primary)
}

func TestEmbeddingRegistryPrimaryOnly(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddContributor(models.Contributor{ID: "c1", Tier: models.TierFree}))

	vec := make([]float32, models.EmbeddingDim)
	vec[0] = 1
	require.NoError(t, s.AddEmbedding(models.Embedding{ID: "p", ContributorID: "c1", Vector: vec, Primary: true}))
	require.NoError(t, s.AddEmbedding(models.Embedding{ID: "s", ContributorID: "c1", Vector: vec, Primary: false}))

	all, err := s.EmbeddingRegistry(false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	primary, err := s.EmbeddingRegistry(true)
	require.NoError(t, err)
	require.Len(t, primary, 1)
	require.Equal(t, "p", primary[0].Embedding.ID)
}

func TestReferenceKeysPrimaryFirst(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddContributor(models.Contributor{ID: "c1", Tier: models.TierPremium}))

	vec := make([]float32, models.EmbeddingDim)
	vec[0] = 1
	require.NoError(t, s.AddEmbedding(models.Embedding{ID: "sec", ContributorID: "c1", Vector: vec}))
	require.NoError(t, s.AddEmbedding(models.Embedding{ID: "pri", ContributorID: "c1", Vector: vec, Primary: true}))

	keys, err := s.ReferenceKeys("c1", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"refs/c1/pri.jpg", "refs/c1/sec.jpg"}, keys)

	keys, err = s.ReferenceKeys("c1", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"refs/c1/pri.jpg"}, keys)
}

func TestGetContributorNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetContributor("nobody")
	require.Error(t, err)
}

func TestInsertDiscoveredImageDeduplicatesBySourceURL(t *testing.T) {
	s := newTestStore(t)

	created, err := s.InsertDiscoveredImage(models.DiscoveredImage{SourceURL: "https://cdn.example.com/a.jpg"})
	require.NoError(t, err)
	require.True(t, created)

	created, err = s.InsertDiscoveredImage(models.DiscoveredImage{SourceURL: "https://cdn.example.com/a.jpg"})
	require.NoError(t, err)
	require.False(t, created, "second insert of the same source URL must be a no-op")

	pending, err := s.PendingImages(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestImageStatusTransitions(t *testing.T) {
	s := newTestStore(t)

	_, err := s.InsertDiscoveredImage(models.DiscoveredImage{ID: "img1", SourceURL: "https://x/a.jpg"})
	require.NoError(t, err)

	require.NoError(t, s.SetImageStatus("img1", models.ImageEmbedded, ""))

	embedded, err := s.EmbeddedImages(10)
	require.NoError(t, err)
	require.Len(t, embedded, 1)
	require.Equal(t, "img1", embedded[0].ID)

	pending, err := s.PendingImages(10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestFaceEmbeddingForImagePicksBestDetection(t *testing.T) {
	s := newTestStore(t)

	vec := make([]float32, models.EmbeddingDim)
	vec[0] = 1
	require.NoError(t, s.InsertFaceEmbedding(models.DiscoveredFaceEmbedding{
		ID: "f-low", ImageID: "img1", Vector: vec, DetectionScore: 0.6,
	}))
	require.NoError(t, s.InsertFaceEmbedding(models.DiscoveredFaceEmbedding{
		ID: "f-high", ImageID: "img1", Vector: vec, DetectionScore: 0.95,
	}))

	f, err := s.FaceEmbeddingForImage("img1")
	require.NoError(t, err)
	require.Equal(t, "f-high", f.ID)
	require.Equal(t, vec, f.Vector)
}
