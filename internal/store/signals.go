package store

import (
	"encoding/json"
	"time"

	"github.com/facetrace/facetrace/internal/models"
)

// InsertSignals batch-inserts feedback signals inside one transaction. The
// observer calls this from its flush path; either all rows commit or none do.
func (s *Store) InsertSignals(signals []models.FeedbackSignal) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO ml_feedback_signals
			(id, signal_type, entity_type, entity_id, context, actor, emitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sig := range signals {
		ctxJSON, err := json.Marshal(sig.Context)
		if err != nil {
			ctxJSON = []byte("{}")
		}
		id := sig.ID
		if id == "" {
			id = NewID()
		}
		if _, err := stmt.Exec(id, sig.SignalType, sig.EntityType, sig.EntityID,
			string(ctxJSON), sig.Actor, sig.EmittedAt.UnixMilli()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SignalsByType returns signals of one type, oldest first.
func (s *Store) SignalsByType(signalType string, limit int) ([]models.FeedbackSignal, error) {
	rows, err := s.db.Query(`
		SELECT id, signal_type, entity_type, entity_id, context, actor, emitted_at
		FROM ml_feedback_signals
		WHERE signal_type = ?
		ORDER BY emitted_at ASC
		LIMIT ?`, signalType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FeedbackSignal
	for rows.Next() {
		var sig models.FeedbackSignal
		var ctxJSON string
		var emitted int64
		if err := rows.Scan(&sig.ID, &sig.SignalType, &sig.EntityType, &sig.EntityID,
			&ctxJSON, &sig.Actor, &emitted); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(ctxJSON), &sig.Context)
		sig.EmittedAt = time.UnixMilli(emitted)
		out = append(out, sig)
	}
	return out, rows.Err()
}

// CountSignals returns the total number of stored signals.
func (s *Store) CountSignals() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM ml_feedback_signals`).Scan(&n)
	return n, err
}
