package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

// SaveStrategy persists a strategy. Saving a name that already exists
// deactivates prior versions and inserts the next version as active, so
// exactly one version per name is active at a time.
func (s *Store) SaveStrategy(st *types.LinkerStrategy) error {
	if err := s.ready(); err != nil {
		return err
	}
	if st.Name == "" {
		return fmt.Errorf("strategy name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(version) FROM linker_strategies WHERE name = ?`, st.Name).Scan(&maxVersion); err != nil {
		return fmt.Errorf("failed to look up strategy versions: %w", err)
	}
	st.Version = int(maxVersion.Int64) + 1

	if _, err := tx.Exec(`UPDATE linker_strategies SET active = 0 WHERE name = ?`, st.Name); err != nil {
		return fmt.Errorf("failed to deactivate prior versions: %w", err)
	}

	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	st.Active = true
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}

	weights, err := json.Marshal(st.Weights)
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}
	patterns, err := json.Marshal(st.TokenPatterns)
	if err != nil {
		return fmt.Errorf("failed to encode token patterns: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO linker_strategies (strategy_id, name, description, version, active, src_pattern, dst_pattern, relation, weights, token_patterns, created_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.Name, st.Description, st.Version, st.SrcPattern, st.DstPattern,
		st.Relation, string(weights), string(patterns), st.CreatedAt.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to insert strategy %s: %w", st.Name, err)
	}

	return tx.Commit()
}

// ActivateStrategy makes the given version of a named strategy the active
// one, deactivating every other version of that name.
func (s *Store) ActivateStrategy(name string, version int) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE linker_strategies SET active = 1 WHERE name = ? AND version = ?`, name, version)
	if err != nil {
		return fmt.Errorf("failed to activate strategy %s v%d: %w", name, version, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("strategy %s v%d not found", name, version)
	}

	if _, err := tx.Exec(`UPDATE linker_strategies SET active = 0 WHERE name = ? AND version != ?`, name, version); err != nil {
		return fmt.Errorf("failed to deactivate other versions of %s: %w", name, err)
	}
	return tx.Commit()
}

// GetStrategy fetches a strategy by ID.
func (s *Store) GetStrategy(id string) (*types.LinkerStrategy, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(strategySelect+` WHERE strategy_id = ?`, id)
	st, err := scanStrategy(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("strategy %s not found", id)
	}
	return st, err
}

// ActiveStrategies returns the active version of every strategy name.
func (s *Store) ActiveStrategies() ([]*types.LinkerStrategy, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(strategySelect + ` WHERE active = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}
	defer rows.Close()

	var out []*types.LinkerStrategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

const strategySelect = `
	SELECT strategy_id, name, description, version, active, src_pattern, dst_pattern, relation, weights, token_patterns, created_at
	FROM linker_strategies`

func scanStrategy(r rowScanner) (*types.LinkerStrategy, error) {
	var st types.LinkerStrategy
	var active int
	var weights, patterns, createdAt string
	if err := r.Scan(&st.ID, &st.Name, &st.Description, &st.Version, &active,
		&st.SrcPattern, &st.DstPattern, &st.Relation, &weights, &patterns, &createdAt); err != nil {
		return nil, err
	}
	st.Active = active != 0
	if weights != "" {
		_ = json.Unmarshal([]byte(weights), &st.Weights)
	}
	if patterns != "" {
		_ = json.Unmarshal([]byte(patterns), &st.TokenPatterns)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		st.CreatedAt = t
	}
	return &st, nil
}
