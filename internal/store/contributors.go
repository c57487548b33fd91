package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/facetrace/facetrace/internal/models"
	scanerrors "github.com/facetrace/facetrace/internal/errors"
)

// AddContributor inserts a contributor row.
func (s *Store) AddContributor(c models.Contributor) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO contributors (id, display_name, tier, created_at)
		VALUES (?, ?, ?, ?)`,
		c.ID, c.DisplayName, string(c.Tier), c.CreatedAt.Unix())
	return err
}

// GetContributor fetches a contributor by id.
func (s *Store) GetContributor(id string) (models.Contributor, error) {
	var c models.Contributor
	var tier string
	var created int64
	err := s.db.QueryRow(`
		SELECT id, display_name, tier, created_at FROM contributors WHERE id = ?`, id).
		Scan(&c.ID, &c.DisplayName, &tier, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Contributor{}, scanerrors.ErrNotFound
	}
	if err != nil {
		return models.Contributor{}, err
	}
	c.Tier = models.ParseTier(tier)
	c.CreatedAt = time.Unix(created, 0)
	return c, nil
}

// ListContributors returns all contributors.
func (s *Store) ListContributors() ([]models.Contributor, error) {
	rows, err := s.db.Query(`SELECT id, display_name, tier, created_at FROM contributors`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Contributor
	for rows.Next() {
		var c models.Contributor
		var tier string
		var created int64
		if err := rows.Scan(&c.ID, &c.DisplayName, &tier, &created); err != nil {
			return nil, err
		}
		c.Tier = models.ParseTier(tier)
		c.CreatedAt = time.Unix(created, 0)
		out = append(out, c)
	}
	return out, rows.Err()
}

// AddEmbedding inserts a reference embedding for a contributor. The vector is
// normalized before storage so the unit-norm invariant holds at rest.
func (s *Store) AddEmbedding(e models.Embedding) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	models.Normalize(e.Vector)
	_, err := s.db.Exec(`
		INSERT INTO embeddings (id, contributor_id, vector, is_primary, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.ContributorID, encodeVector(e.Vector), boolInt(e.Primary), e.CreatedAt.Unix())
	return err
}

// RegistryEntry is one reference embedding joined with the owning
// contributor's tier, as the comparator consumes it.
type RegistryEntry struct {
	Embedding models.Embedding
	Tier      models.Tier
}

// EmbeddingRegistry loads the full reference registry. When primaryOnly is
// set, only primary embeddings are returned (the free-tier restriction is
// applied per contributor by the caller).
func (s *Store) EmbeddingRegistry(primaryOnly bool) ([]RegistryEntry, error) {
	query := `
		SELECT e.id, e.contributor_id, e.vector, e.is_primary, e.created_at, c.tier
		FROM embeddings e
		JOIN contributors c ON c.id = e.contributor_id`
	if primaryOnly {
		query += ` WHERE e.is_primary = 1`
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RegistryEntry
	for rows.Next() {
		var e models.Embedding
		var blob []byte
		var primary int
		var created int64
		var tier string
		if err := rows.Scan(&e.ID, &e.ContributorID, &blob, &primary, &created, &tier); err != nil {
			return nil, err
		}
		e.Vector = decodeVector(blob)
		e.Primary = primary != 0
		e.CreatedAt = time.Unix(created, 0)
		out = append(out, RegistryEntry{Embedding: e, Tier: models.ParseTier(tier)})
	}
	return out, rows.Err()
}

// ReferenceKeys returns storage keys for a contributor's reference photos,
// primary first, capped at limit. Keys mirror the embedding rows: the photo
// an embedding was extracted from lives at refs/{contributor}/{embedding}.jpg.
func (s *Store) ReferenceKeys(contributorID string, limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT id FROM embeddings
		WHERE contributor_id = ?
		ORDER BY is_primary DESC, created_at ASC
		LIMIT ?`, contributorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, "refs/"+contributorID+"/"+id+".jpg")
	}
	return out, rows.Err()
}

// AddKnownAccount inserts an allowlist entry for a contributor.
func (s *Store) AddKnownAccount(a models.KnownAccount) error {
	_, err := s.db.Exec(`
		INSERT INTO known_accounts (id, contributor_id, platform, handle, domain)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.ContributorID, a.Platform, a.Handle, a.Domain)
	return err
}

// KnownAccounts returns a contributor's allowlist.
func (s *Store) KnownAccounts(contributorID string) ([]models.KnownAccount, error) {
	rows, err := s.db.Query(`
		SELECT id, contributor_id, platform, handle, domain
		FROM known_accounts WHERE contributor_id = ?`, contributorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.KnownAccount
	for rows.Next() {
		var a models.KnownAccount
		if err := rows.Scan(&a.ID, &a.ContributorID, &a.Platform, &a.Handle, &a.Domain); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
