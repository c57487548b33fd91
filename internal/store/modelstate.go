package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/facetrace/facetrace/internal/models"
	scanerrors "github.com/facetrace/facetrace/internal/errors"
)

// LatestModelState returns the most recent version of a named model's state.
func (s *Store) LatestModelState(modelName string) (models.MLModelState, error) {
	var st models.MLModelState
	var params string
	var updated int64
	err := s.db.QueryRow(`
		SELECT model_name, version, parameters, updated_at
		FROM ml_model_state
		WHERE model_name = ?
		ORDER BY version DESC
		LIMIT 1`, modelName).
		Scan(&st.ModelName, &st.Version, &params, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MLModelState{}, scanerrors.ErrNotFound
	}
	if err != nil {
		return models.MLModelState{}, err
	}
	if err := json.Unmarshal([]byte(params), &st.Parameters); err != nil {
		st.Parameters = nil
	}
	st.UpdatedAt = time.Unix(updated, 0)
	return st, nil
}

// PromoteModelState persists a new version of a model's parameters. Versions
// are append-only; the latest wins.
func (s *Store) PromoteModelState(st models.MLModelState) error {
	params, err := json.Marshal(st.Parameters)
	if err != nil {
		return err
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	_, err = s.db.Exec(`
		INSERT INTO ml_model_state (model_name, version, parameters, updated_at)
		VALUES (?, ?, ?, ?)`,
		st.ModelName, st.Version, string(params), st.UpdatedAt.Unix())
	return err
}
