package store

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Retention thresholds by age class.
const (
	RetainNoFaceImages   = 7 * 24 * time.Hour
	RetainNoMatchImages  = 30 * 24 * time.Hour
	RetainFaceEmbeddings = 60 * 24 * time.Hour
	RetainFinishedJobs   = 30 * 24 * time.Hour
	RetainReadNotices    = 90 * 24 * time.Hour
)

// CleanupResult counts deleted rows per age class.
type CleanupResult struct {
	NoFaceImages   int64
	NoMatchImages  int64
	FaceEmbeddings int64
	FinishedJobs   int64
	ReadNotices    int64
	Errors         int
}

// String renders a compact summary for the job result column.
func (r CleanupResult) String() string {
	return fmt.Sprintf("no_face=%d no_match=%d face_embeddings=%d jobs=%d notifications=%d errors=%d",
		r.NoFaceImages, r.NoMatchImages, r.FaceEmbeddings, r.FinishedJobs, r.ReadNotices, r.Errors)
}

// Cleanup deletes rows older than their class-specific threshold. Each class
// runs in its own statement so one failure does not block the others.
func (s *Store) Cleanup(now time.Time) CleanupResult {
	var res CleanupResult

	res.NoFaceImages = s.cleanupClass(&res,
		`DELETE FROM discovered_images WHERE status = 'no_face' AND updated_at < ?`,
		now.Add(-RetainNoFaceImages))
	res.NoMatchImages = s.cleanupClass(&res,
		`DELETE FROM discovered_images WHERE status = 'no_match' AND updated_at < ?`,
		now.Add(-RetainNoMatchImages))
	res.FaceEmbeddings = s.cleanupClass(&res,
		`DELETE FROM discovered_face_embeddings WHERE created_at < ?`,
		now.Add(-RetainFaceEmbeddings))
	res.FinishedJobs = s.cleanupClass(&res,
		`DELETE FROM scan_jobs WHERE lease_state = 'failed' AND finished_at < ?`,
		now.Add(-RetainFinishedJobs))
	res.ReadNotices = s.cleanupClass(&res,
		`DELETE FROM notifications WHERE read = 1 AND read_at < ?`,
		now.Add(-RetainReadNotices))

	return res
}

func (s *Store) cleanupClass(res *CleanupResult, query string, cutoff time.Time) int64 {
	r, err := s.db.Exec(query, cutoff.Unix())
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("Cleanup class failed")
		res.Errors++
		return 0
	}
	n, _ := r.RowsAffected()
	return n
}
