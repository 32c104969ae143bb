package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

// AddAudit records one auditor verdict. Every audit pass appends a new
// record; candidate status is updated separately.
func (s *Store) AddAudit(a *types.Audit) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	nextSteps, err := json.Marshal(a.NextSteps)
	if err != nil {
		return fmt.Errorf("failed to encode next steps: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO audits (audit_id, candidate_id, verdict, confidence, reasoning, recommended_next_steps, gating_reason, model, prompt_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CandidateID, string(a.Verdict), a.Confidence, a.Reasoning,
		string(nextSteps), a.GatingReason, a.Model, a.PromptVersion,
		a.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert audit for %s: %w", a.CandidateID, err)
	}
	return nil
}

// AuditsForCandidate returns the audit history for a candidate, oldest
// first.
func (s *Store) AuditsForCandidate(candidateID string) ([]*types.Audit, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT audit_id, candidate_id, verdict, confidence, reasoning, recommended_next_steps, gating_reason, model, prompt_version, created_at
		FROM audits WHERE candidate_id = ? ORDER BY created_at, audit_id`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audits: %w", err)
	}
	defer rows.Close()

	var out []*types.Audit
	for rows.Next() {
		var a types.Audit
		var verdict, nextSteps, createdAt string
		if err := rows.Scan(&a.ID, &a.CandidateID, &verdict, &a.Confidence,
			&a.Reasoning, &nextSteps, &a.GatingReason, &a.Model, &a.PromptVersion, &createdAt); err != nil {
			return nil, err
		}
		a.Verdict = types.AuditVerdict(verdict)
		if nextSteps != "" {
			_ = json.Unmarshal([]byte(nextSteps), &a.NextSteps)
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			a.CreatedAt = t
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// SetLabel stores or replaces a human training label for a candidate.
func (s *Store) SetLabel(candidateID, label, labeledBy string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if label != "accept" && label != "reject" {
		return fmt.Errorf("label must be accept or reject, got %q", label)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO candidate_labels (candidate_id, label, labeled_by, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(candidate_id) DO UPDATE SET
			label      = excluded.label,
			labeled_by = excluded.labeled_by,
			created_at = excluded.created_at`,
		candidateID, label, labeledBy, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to set label for %s: %w", candidateID, err)
	}
	return nil
}

// Labels returns every stored training label.
func (s *Store) Labels() ([]*types.CandidateLabel, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT candidate_id, label, labeled_by, created_at
		FROM candidate_labels ORDER BY created_at, candidate_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	var out []*types.CandidateLabel
	for rows.Next() {
		var l types.CandidateLabel
		var createdAt string
		if err := rows.Scan(&l.CandidateID, &l.Label, &l.LabeledBy, &createdAt); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			l.CreatedAt = t
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
