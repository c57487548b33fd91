// Package store persists all durable scanner state in SQLite: scan jobs and
// their leases, discovered images and face embeddings, matches, crawl
// cursors, feedback signals and model state.
package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Store provides access to the scanner database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens or creates the scanner database at path, enabling WAL mode and
// a single-writer connection pool.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open scanner db: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Scanner store initialized")
	return s, nil
}

// DB exposes the underlying handle for transactional callers (the observer's
// batched flush uses it directly).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS contributors (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			tier TEXT NOT NULL DEFAULT 'free',
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS embeddings (
			id TEXT PRIMARY KEY,
			contributor_id TEXT NOT NULL,
			vector BLOB NOT NULL,
			is_primary INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_embeddings_contributor
		ON embeddings(contributor_id, is_primary);

		CREATE TABLE IF NOT EXISTS known_accounts (
			id TEXT PRIMARY KEY,
			contributor_id TEXT NOT NULL,
			platform TEXT NOT NULL DEFAULT '',
			handle TEXT NOT NULL DEFAULT '',
			domain TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_known_accounts_contributor
		ON known_accounts(contributor_id);

		CREATE TABLE IF NOT EXISTS discovered_images (
			id TEXT PRIMARY KEY,
			source_url TEXT NOT NULL UNIQUE,
			page_url TEXT NOT NULL DEFAULT '',
			page_title TEXT NOT NULL DEFAULT '',
			platform TEXT NOT NULL DEFAULT '',
			source_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			status_reason TEXT NOT NULL DEFAULT '',
			discovered_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_discovered_images_status
		ON discovered_images(status, discovered_at);

		CREATE TABLE IF NOT EXISTS discovered_face_embeddings (
			id TEXT PRIMARY KEY,
			image_id TEXT NOT NULL,
			vector BLOB NOT NULL,
			detection_score REAL NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_face_embeddings_image
		ON discovered_face_embeddings(image_id);

		CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			image_id TEXT NOT NULL,
			contributor_id TEXT NOT NULL,
			similarity REAL NOT NULL,
			confidence_tier TEXT NOT NULL,
			known_account INTEGER NOT NULL DEFAULT 0,
			ai_generated INTEGER,
			ai_score REAL,
			ai_generator TEXT NOT NULL DEFAULT '',
			review_status TEXT NOT NULL DEFAULT 'new',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_matches_contributor
		ON matches(contributor_id, created_at);

		CREATE TABLE IF NOT EXISTS takedowns (
			id TEXT PRIMARY KEY,
			match_id TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT 'pending',
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			contributor_id TEXT NOT NULL,
			match_id TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			read INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			read_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_notifications_read
		ON notifications(read, read_at);

		CREATE TABLE IF NOT EXISTS evidence (
			id TEXT PRIMARY KEY,
			match_id TEXT NOT NULL,
			object_key TEXT NOT NULL,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			sha256 TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_evidence_match
		ON evidence(match_id);

		CREATE TABLE IF NOT EXISTS scan_jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			target TEXT NOT NULL,
			interval_hours REAL NOT NULL,
			last_run_at INTEGER NOT NULL DEFAULT 0,
			lease_state TEXT NOT NULL DEFAULT 'idle',
			lease_owner TEXT NOT NULL DEFAULT '',
			heartbeat_at INTEGER NOT NULL DEFAULT 0,
			run_id TEXT NOT NULL DEFAULT '',
			last_result TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			finished_at INTEGER NOT NULL DEFAULT 0,
			UNIQUE(kind, target)
		);
		CREATE INDEX IF NOT EXISTS idx_scan_jobs_due
		ON scan_jobs(kind, lease_state, last_run_at);

		CREATE TABLE IF NOT EXISTS platform_crawl_schedule (
			platform TEXT PRIMARY KEY,
			interval_hours REAL NOT NULL DEFAULT 24,
			next_cursor TEXT NOT NULL DEFAULT '',
			search_cursors TEXT NOT NULL DEFAULT '{}',
			tag_cursors TEXT NOT NULL DEFAULT '{}',
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS ml_feedback_signals (
			id TEXT PRIMARY KEY,
			signal_type TEXT NOT NULL,
			entity_type TEXT NOT NULL DEFAULT '',
			entity_id TEXT NOT NULL DEFAULT '',
			context TEXT NOT NULL DEFAULT '{}',
			actor TEXT NOT NULL DEFAULT '',
			emitted_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_feedback_signals_type
		ON ml_feedback_signals(signal_type, emitted_at);

		CREATE TABLE IF NOT EXISTS ml_model_state (
			model_name TEXT NOT NULL,
			version INTEGER NOT NULL,
			parameters TEXT NOT NULL DEFAULT '{}',
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (model_name, version)
		);

		CREATE TABLE IF NOT EXISTS platform_maps (
			platform TEXT NOT NULL,
			snapshot_at INTEGER NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (platform, snapshot_at)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// encodeVector packs a float32 vector into a little-endian blob.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// decodeVector unpacks a little-endian blob into a float32 vector.
func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
