package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

// UpsertEdge inserts a confirmed edge. Promoting the same (src, dst,
// relation) twice is a no-op apart from keeping the higher confidence, so
// candidate promotion is idempotent.
func (s *Store) UpsertEdge(e *types.Edge) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO edges (edge_id, src_id, dst_id, relation, confidence, evidence, evidence_file_id, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(src_id, dst_id, relation) DO UPDATE SET
			confidence = MAX(confidence, excluded.confidence),
			created_by = excluded.created_by`,
		e.ID, e.SrcID, e.DstID, e.Relation, e.Confidence, e.Evidence,
		e.EvidenceFileID, e.CreatedBy, e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert edge %s->%s: %w", e.SrcID, e.DstID, err)
	}
	return nil
}

// EdgesFrom returns all edges whose source is the given file.
func (s *Store) EdgesFrom(srcID string) ([]*types.Edge, error) {
	return s.queryEdges("src_id", srcID)
}

// EdgesTo returns all edges whose destination is the given file.
func (s *Store) EdgesTo(dstID string) ([]*types.Edge, error) {
	return s.queryEdges("dst_id", dstID)
}

func (s *Store) queryEdges(column, id string) ([]*types.Edge, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT edge_id, src_id, dst_id, relation, confidence, evidence, evidence_file_id, created_by, created_at
		FROM edges WHERE %s = ? ORDER BY created_at`, column), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var out []*types.Edge
	for rows.Next() {
		var e types.Edge
		var createdAt string
		if err := rows.Scan(&e.ID, &e.SrcID, &e.DstID, &e.Relation, &e.Confidence,
			&e.Evidence, &e.EvidenceFileID, &e.CreatedBy, &createdAt); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = t
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// LinkedDstIDs returns the set of destination file IDs that already have a
// confirmed inbound edge. The extractor uses it for the already-linked
// conflict feature.
func (s *Store) LinkedDstIDs() (map[string]bool, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT DISTINCT dst_id FROM edges`)
	if err != nil {
		return nil, fmt.Errorf("failed to query linked destinations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
