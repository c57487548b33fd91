package match

import (
	"sort"

	"github.com/facetrace/facetrace/internal/models"
	"github.com/facetrace/facetrace/internal/store"
)

// Candidate is one registry hit for a query embedding.
type Candidate struct {
	ContributorID string
	EmbeddingID   string
	Similarity    float32
	Primary       bool
	Tier          models.Tier
}

// RegistryLoader is the slice of the store the comparator needs.
type RegistryLoader interface {
	EmbeddingRegistry(primaryOnly bool) ([]store.RegistryEntry, error)
}

// Comparator runs nearest-neighbor search over the contributor embedding
// registry. Vectors are unit-norm, so cosine similarity is a dot product in
// float32.
type Comparator struct {
	registry RegistryLoader
}

// NewComparator creates a comparator over the registry.
func NewComparator(registry RegistryLoader) *Comparator {
	return &Comparator{registry: registry}
}

// Compare returns up to limit candidates above threshold, sorted by
// descending similarity, at most one per contributor. Free-tier contributors
// are only matched against their primary embedding; primaryOnly restricts
// every contributor to primaries.
func (c *Comparator) Compare(query []float32, threshold float32, primaryOnly bool, limit int) ([]Candidate, error) {
	entries, err := c.registry.EmbeddingRegistry(primaryOnly)
	if err != nil {
		return nil, err
	}

	// Best candidate per contributor. On equal similarity the primary
	// embedding wins.
	best := make(map[string]Candidate)
	for _, entry := range entries {
		if models.ConfigForTier(entry.Tier).PrimaryOnly() && !entry.Embedding.Primary {
			continue
		}
		sim := models.Dot(query, entry.Embedding.Vector)
		if sim < threshold {
			continue
		}
		cand := Candidate{
			ContributorID: entry.Embedding.ContributorID,
			EmbeddingID:   entry.Embedding.ID,
			Similarity:    sim,
			Primary:       entry.Embedding.Primary,
			Tier:          entry.Tier,
		}
		prev, ok := best[cand.ContributorID]
		if !ok || cand.Similarity > prev.Similarity ||
			(cand.Similarity == prev.Similarity && cand.Primary && !prev.Primary) {
			best[cand.ContributorID] = cand
		}
	}

	out := make([]Candidate, 0, len(best))
	for _, cand := range best {
		out = append(out, cand)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].Primary != out[j].Primary {
			return out[i].Primary
		}
		return out[i].ContributorID < out[j].ContributorID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
