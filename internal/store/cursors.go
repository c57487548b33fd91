package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/facetrace/facetrace/internal/models"
)

// CrawlSchedule returns the crawl cadence and resumption cursors for a
// platform, creating a default row on first mention.
func (s *Store) CrawlSchedule(platform string) (models.CrawlSchedule, error) {
	sched := models.CrawlSchedule{
		Platform:      platform,
		IntervalHours: 24,
		SearchCursors: map[string]string{},
		TagCursors:    map[string]string{},
	}
	var searchJSON, tagJSON string
	var updated int64
	err := s.db.QueryRow(`
		SELECT interval_hours, next_cursor, search_cursors, tag_cursors, updated_at
		FROM platform_crawl_schedule WHERE platform = ?`, platform).
		Scan(&sched.IntervalHours, &sched.NextCursor, &searchJSON, &tagJSON, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.Exec(`
			INSERT INTO platform_crawl_schedule (platform, interval_hours, updated_at)
			VALUES (?, 24, ?)`, platform, time.Now().Unix())
		return sched, err
	}
	if err != nil {
		return models.CrawlSchedule{}, err
	}
	_ = json.Unmarshal([]byte(searchJSON), &sched.SearchCursors)
	_ = json.Unmarshal([]byte(tagJSON), &sched.TagCursors)
	sched.UpdatedAt = time.Unix(updated, 0)
	return sched, nil
}

// SaveCrawlCursors persists the cursors a crawl returned so the next run
// resumes where this one stopped.
func (s *Store) SaveCrawlCursors(platform, nextCursor string, searchCursors, tagCursors map[string]string) error {
	searchJSON, err := json.Marshal(orEmpty(searchCursors))
	if err != nil {
		return err
	}
	tagJSON, err := json.Marshal(orEmpty(tagCursors))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO platform_crawl_schedule (platform, interval_hours, next_cursor, search_cursors, tag_cursors, updated_at)
		VALUES (?, 24, ?, ?, ?, ?)
		ON CONFLICT(platform) DO UPDATE SET
			next_cursor = excluded.next_cursor,
			search_cursors = excluded.search_cursors,
			tag_cursors = excluded.tag_cursors,
			updated_at = excluded.updated_at`,
		platform, nextCursor, string(searchJSON), string(tagJSON), time.Now().Unix())
	return err
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
