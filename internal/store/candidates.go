package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

// UpsertCandidate inserts a candidate or refreshes the confidence and
// evidence of an existing one. Candidates already reviewed keep their
// status; only pending candidates are rescored in place. On return c
// carries the surviving row's ID, status, confidence and creation time,
// so re-running a strategy never leaves callers holding a dangling ID.
func (s *Store) UpsertCandidate(c *types.CandidateEdge) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = types.CandidatePending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	evidence, err := json.Marshal(c.Evidence)
	if err != nil {
		return fmt.Errorf("failed to encode evidence: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO candidate_edges (candidate_id, strategy_id, src_id, dst_id, relation, confidence, evidence, status, reviewer, reviewed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy_id, src_id, dst_id, relation) DO UPDATE SET
			confidence = excluded.confidence,
			evidence   = excluded.evidence
		WHERE candidate_edges.status = 'pending'`,
		c.ID, c.StrategyID, c.SrcID, c.DstID, c.Relation, c.Confidence,
		string(evidence), string(c.Status), c.Reviewer,
		timeOrNil(c.ReviewedAt), c.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert candidate %s->%s: %w", c.SrcID, c.DstID, err)
	}

	// The conflict clause keeps the original row; read it back so c.ID
	// refers to the row that actually exists.
	var status, createdAt string
	row := s.db.QueryRow(`
		SELECT candidate_id, confidence, status, created_at FROM candidate_edges
		WHERE strategy_id = ? AND src_id = ? AND dst_id = ? AND relation = ?`,
		c.StrategyID, c.SrcID, c.DstID, c.Relation)
	if err := row.Scan(&c.ID, &c.Confidence, &status, &createdAt); err != nil {
		return fmt.Errorf("failed to read back candidate %s->%s: %w", c.SrcID, c.DstID, err)
	}
	c.Status = types.CandidateStatus(status)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		c.CreatedAt = t
	}
	return nil
}

// GetCandidate fetches one candidate by ID.
func (s *Store) GetCandidate(id string) (*types.CandidateEdge, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(candidateSelect+` WHERE candidate_id = ?`, id)
	c, err := scanCandidate(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("candidate %s not found", id)
	}
	return c, err
}

// ListCandidates returns candidates with the given status, newest first.
// Pass "" for all statuses; limit <= 0 means no limit.
func (s *Store) ListCandidates(status types.CandidateStatus, limit int) ([]*types.CandidateEdge, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := candidateSelect
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, candidate_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryCandidates(query, args...)
}

// CandidatesForDst returns all candidates targeting a destination file,
// highest confidence first. The auditor uses these as alternatives.
func (s *Store) CandidatesForDst(dstID string) ([]*types.CandidateEdge, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryCandidates(candidateSelect+` WHERE dst_id = ? ORDER BY confidence DESC, candidate_id`, dstID)
}

// CandidatesForStrategy returns every candidate a strategy generated.
func (s *Store) CandidatesForStrategy(strategyID string) ([]*types.CandidateEdge, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryCandidates(candidateSelect+` WHERE strategy_id = ? ORDER BY created_at, candidate_id`, strategyID)
}

// UpdateCandidateStatus records a review decision.
func (s *Store) UpdateCandidateStatus(id string, status types.CandidateStatus, reviewer string) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE candidate_edges
		SET status = ?, reviewer = ?, reviewed_at = ?
		WHERE candidate_id = ?`,
		string(status), reviewer, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update candidate %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("candidate %s not found", id)
	}
	return nil
}

// StrategyPerformance aggregates review outcomes per strategy. Precision
// counts accepted over accepted plus rejected.
func (s *Store) StrategyPerformance(strategyID string) (*types.StrategyPerformance, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	perf := &types.StrategyPerformance{StrategyID: strategyID}
	row := s.db.QueryRow(`
		SELECT
			COUNT(*),
			SUM(CASE WHEN status = 'accepted' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'needs_audit' THEN 1 ELSE 0 END),
			COALESCE(AVG(CASE WHEN status = 'accepted' THEN confidence END), 0),
			COALESCE(AVG(CASE WHEN status = 'rejected' THEN confidence END), 0)
		FROM candidate_edges WHERE strategy_id = ?`, strategyID)

	var accepted, rejected, pending, needsAudit sql.NullInt64
	if err := row.Scan(&perf.Total, &accepted, &rejected, &pending, &needsAudit,
		&perf.AvgConfAccept, &perf.AvgConfReject); err != nil {
		return nil, fmt.Errorf("failed to aggregate strategy %s: %w", strategyID, err)
	}
	perf.Accepted = int(accepted.Int64)
	perf.Rejected = int(rejected.Int64)
	perf.Pending = int(pending.Int64)
	perf.NeedsAudit = int(needsAudit.Int64)
	if reviewed := perf.Accepted + perf.Rejected; reviewed > 0 {
		perf.Precision = float64(perf.Accepted) / float64(reviewed)
	}
	return perf, nil
}

const candidateSelect = `
	SELECT candidate_id, strategy_id, src_id, dst_id, relation, confidence, evidence, status, reviewer, reviewed_at, created_at
	FROM candidate_edges`

func (s *Store) queryCandidates(query string, args ...interface{}) ([]*types.CandidateEdge, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []*types.CandidateEdge
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCandidate(r rowScanner) (*types.CandidateEdge, error) {
	var c types.CandidateEdge
	var evidence, status, createdAt string
	var reviewedAt sql.NullString
	if err := r.Scan(&c.ID, &c.StrategyID, &c.SrcID, &c.DstID, &c.Relation,
		&c.Confidence, &evidence, &status, &c.Reviewer, &reviewedAt, &createdAt); err != nil {
		return nil, err
	}
	c.Status = types.CandidateStatus(status)
	if evidence != "" {
		_ = json.Unmarshal([]byte(evidence), &c.Evidence)
	}
	c.ReviewedAt = parseTime(reviewedAt)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		c.CreatedAt = t
	}
	return &c, nil
}
