package store

import (
	"time"
)

// PlatformMapRow is one stored platform snapshot, payload left opaque. The
// platform package owns the JSON shape.
type PlatformMapRow struct {
	Platform   string
	SnapshotAt time.Time
	Payload    []byte
}

// SavePlatformMap stores a snapshot keyed by platform and millisecond
// timestamp.
func (s *Store) SavePlatformMap(platform string, snapshotAt time.Time, payload []byte) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO platform_maps (platform, snapshot_at, payload)
		VALUES (?, ?, ?)`,
		platform, snapshotAt.UnixMilli(), string(payload))
	return err
}

// RecentPlatformMaps returns the newest n snapshots for a platform, newest
// first.
func (s *Store) RecentPlatformMaps(platform string, n int) ([]PlatformMapRow, error) {
	rows, err := s.db.Query(`
		SELECT platform, snapshot_at, payload
		FROM platform_maps
		WHERE platform = ?
		ORDER BY snapshot_at DESC
		LIMIT ?`, platform, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlatformMapRow
	for rows.Next() {
		var row PlatformMapRow
		var at int64
		var payload string
		if err := rows.Scan(&row.Platform, &at, &payload); err != nil {
			return nil, err
		}
		row.SnapshotAt = time.UnixMilli(at).UTC()
		row.Payload = []byte(payload)
		out = append(out, row)
	}
	return out, rows.Err()
}
