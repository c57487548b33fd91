package store

import (
	"database/sql"
	"net/url"
	"strings"
	"time"

	"github.com/facetrace/facetrace/internal/models"
)

// InsertDiscoveredImage records a candidate image. Duplicates by source URL
// are silently skipped; the bool reports whether a new row was created.
func (s *Store) InsertDiscoveredImage(img models.DiscoveredImage) (bool, error) {
	if img.ID == "" {
		img.ID = NewID()
	}
	if img.DiscoveredAt.IsZero() {
		img.DiscoveredAt = time.Now()
	}
	if img.Status == "" {
		img.Status = models.ImagePending
	}
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO discovered_images
			(id, source_url, page_url, page_title, platform, source_name,
			 status, status_reason, discovered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.SourceURL, img.PageURL, img.PageTitle, img.Platform,
		img.SourceName, string(img.Status), img.StatusReason,
		img.DiscoveredAt.Unix(), img.DiscoveredAt.Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// PendingImages returns images awaiting ingestion, oldest first. Rows stuck
// in has_face by a crash between detection and embedding are included so they
// get re-processed.
func (s *Store) PendingImages(limit int) ([]models.DiscoveredImage, error) {
	rows, err := s.db.Query(`
		SELECT id, source_url, page_url, page_title, platform, source_name,
		       status, status_reason, discovered_at, updated_at
		FROM discovered_images
		WHERE status IN ('pending', 'has_face')
		ORDER BY discovered_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectImages(rows)
}

// EmbeddedImages returns images that have a face embedding and await matching.
func (s *Store) EmbeddedImages(limit int) ([]models.DiscoveredImage, error) {
	return s.imagesByStatus(models.ImageEmbedded, limit)
}

func (s *Store) imagesByStatus(status models.ImageStatus, limit int) ([]models.DiscoveredImage, error) {
	rows, err := s.db.Query(`
		SELECT id, source_url, page_url, page_title, platform, source_name,
		       status, status_reason, discovered_at, updated_at
		FROM discovered_images
		WHERE status = ?
		ORDER BY discovered_at ASC
		LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectImages(rows)
}

func collectImages(rows *sql.Rows) ([]models.DiscoveredImage, error) {
	var out []models.DiscoveredImage
	for rows.Next() {
		var img models.DiscoveredImage
		var st string
		var discovered, updated int64
		if err := rows.Scan(&img.ID, &img.SourceURL, &img.PageURL, &img.PageTitle,
			&img.Platform, &img.SourceName, &st, &img.StatusReason, &discovered, &updated); err != nil {
			return nil, err
		}
		img.Status = models.ImageStatus(st)
		img.DiscoveredAt = time.Unix(discovered, 0)
		img.UpdatedAt = time.Unix(updated, 0)
		out = append(out, img)
	}
	return out, rows.Err()
}

// SetImageStatus updates an image's processing status and reason code.
func (s *Store) SetImageStatus(imageID string, status models.ImageStatus, reason string) error {
	_, err := s.db.Exec(`
		UPDATE discovered_images
		SET status = ?, status_reason = ?, updated_at = ?
		WHERE id = ?`,
		string(status), reason, time.Now().Unix(), imageID)
	return err
}

// InsertFaceEmbedding persists the face extracted from a discovered image.
func (s *Store) InsertFaceEmbedding(f models.DiscoveredFaceEmbedding) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO discovered_face_embeddings (id, image_id, vector, detection_score, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.ImageID, encodeVector(f.Vector), f.DetectionScore, f.CreatedAt.Unix())
	return err
}

// FaceEmbeddingForImage returns the face embedding row for an image.
func (s *Store) FaceEmbeddingForImage(imageID string) (models.DiscoveredFaceEmbedding, error) {
	var f models.DiscoveredFaceEmbedding
	var blob []byte
	var created int64
	err := s.db.QueryRow(`
		SELECT id, image_id, vector, detection_score, created_at
		FROM discovered_face_embeddings
		WHERE image_id = ?
		ORDER BY detection_score DESC
		LIMIT 1`, imageID).
		Scan(&f.ID, &f.ImageID, &blob, &f.DetectionScore, &created)
	if err != nil {
		return models.DiscoveredFaceEmbedding{}, err
	}
	f.Vector = decodeVector(blob)
	f.CreatedAt = time.Unix(created, 0)
	return f, nil
}

// HarvestPageDomains returns distinct page-URL hosts seen on discovered
// images, excluding the given known platforms. The link-harvest source uses
// this to seed scouting for new platforms.
func (s *Store) HarvestPageDomains(excludePlatforms []string, limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT page_url FROM discovered_images
		WHERE page_url != ''
		GROUP BY page_url
		ORDER BY MAX(discovered_at) DESC
		LIMIT ?`, limit*4)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	excluded := make(map[string]bool, len(excludePlatforms))
	for _, p := range excludePlatforms {
		excluded[p] = true
	}

	seen := make(map[string]bool)
	var out []string
	for rows.Next() {
		var pageURL string
		if err := rows.Scan(&pageURL); err != nil {
			return nil, err
		}
		host := hostOf(pageURL)
		if host == "" || seen[host] || excluded[host] {
			continue
		}
		seen[host] = true
		out = append(out, host)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	return host
}
