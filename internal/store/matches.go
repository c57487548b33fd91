package store

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/facetrace/facetrace/internal/models"
)

// NewID returns a time-sortable ULID for match, signal and notification rows.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// InsertMatch persists a match row. All confidence tiers are stored.
func (s *Store) InsertMatch(m models.Match) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.ReviewStatus == "" {
		m.ReviewStatus = models.ReviewNew
	}
	var aiGenerated any
	if m.AIGenerated != nil {
		aiGenerated = boolInt(*m.AIGenerated)
	}
	_, err := s.db.Exec(`
		INSERT INTO matches
			(id, image_id, contributor_id, similarity, confidence_tier,
			 known_account, ai_generated, ai_score, ai_generator, review_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ImageID, m.ContributorID, m.Similarity, string(m.ConfidenceTier),
		boolInt(m.KnownAccount), aiGenerated, m.AIScore, m.AIGenerator,
		string(m.ReviewStatus), m.CreatedAt.Unix())
	return err
}

// SetMatchAIVerdict records the AI-generated classification on a match.
func (s *Store) SetMatchAIVerdict(matchID string, generated bool, score float64, generator string) error {
	_, err := s.db.Exec(`
		UPDATE matches SET ai_generated = ?, ai_score = ?, ai_generator = ?
		WHERE id = ?`,
		boolInt(generated), score, generator, matchID)
	return err
}

// GetMatch fetches a match by id.
func (s *Store) GetMatch(id string) (models.Match, error) {
	var m models.Match
	var tier, review string
	var known int
	var aiGenerated *int
	var created int64
	err := s.db.QueryRow(`
		SELECT id, image_id, contributor_id, similarity, confidence_tier,
		       known_account, ai_generated, ai_score, ai_generator, review_status, created_at
		FROM matches WHERE id = ?`, id).
		Scan(&m.ID, &m.ImageID, &m.ContributorID, &m.Similarity, &tier,
			&known, &aiGenerated, &m.AIScore, &m.AIGenerator, &review, &created)
	if err != nil {
		return models.Match{}, err
	}
	m.ConfidenceTier = models.ConfidenceTier(tier)
	m.ReviewStatus = models.ReviewStatus(review)
	m.KnownAccount = known != 0
	if aiGenerated != nil {
		v := *aiGenerated != 0
		m.AIGenerated = &v
	}
	m.CreatedAt = time.Unix(created, 0)
	return m, nil
}

// MatchedPageURLs returns the distinct page URLs behind a contributor's
// stored matches, most recently matched first. The URL-check source re-checks
// these to confirm previously reported pages are still live.
func (s *Store) MatchedPageURLs(contributorID string, limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT i.page_url
		FROM matches m
		JOIN discovered_images i ON i.id = m.image_id
		WHERE m.contributor_id = ? AND i.page_url != ''
		GROUP BY i.page_url
		ORDER BY MAX(m.created_at) DESC
		LIMIT ?`, contributorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateReviewStatus sets the human review state of a match.
func (s *Store) UpdateReviewStatus(matchID string, status models.ReviewStatus) error {
	_, err := s.db.Exec(`UPDATE matches SET review_status = ? WHERE id = ?`,
		string(status), matchID)
	return err
}

// InsertTakedown drafts a pending takedown anchored to a match.
func (s *Store) InsertTakedown(t models.Takedown) error {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.State == "" {
		t.State = "pending"
	}
	_, err := s.db.Exec(`
		INSERT INTO takedowns (id, match_id, body, state, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.MatchID, t.Body, t.State, t.CreatedAt.Unix())
	return err
}

// InsertNotification enqueues a user-visible notification row.
func (s *Store) InsertNotification(n models.Notification) error {
	if n.ID == "" {
		n.ID = NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO notifications (id, contributor_id, match_id, message, read, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		n.ID, n.ContributorID, n.MatchID, n.Message, n.CreatedAt.Unix())
	return err
}

// MarkNotificationRead flags a notification as read.
func (s *Store) MarkNotificationRead(id string, now time.Time) error {
	_, err := s.db.Exec(`
		UPDATE notifications SET read = 1, read_at = ? WHERE id = ?`,
		now.Unix(), id)
	return err
}

// InsertEvidence records a completed evidence upload: object key, size and
// SHA-256 digest.
func (s *Store) InsertEvidence(matchID, objectKey string, sizeBytes int64, sha256Hex string) error {
	_, err := s.db.Exec(`
		INSERT INTO evidence (id, match_id, object_key, size_bytes, sha256, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		NewID(), matchID, objectKey, sizeBytes, sha256Hex, time.Now().Unix())
	if err != nil {
		log.Error().Err(err).Str("match", matchID).Msg("Failed to record evidence upload")
	}
	return err
}

// CountMatchArtifacts reports whether a match has evidence or notification
// rows. Used by invariant tests.
func (s *Store) CountMatchArtifacts(matchID string) (evidence, notifications int, err error) {
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM evidence WHERE match_id = ?`, matchID).Scan(&evidence); err != nil {
		return
	}
	err = s.db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE match_id = ?`, matchID).Scan(&notifications)
	return
}
