// Package router drives candidates through the review state machine:
// pending to accepted, rejected, or needs_audit, based on score thresholds
// and gating conditions.
package router

import (
	"encoding/json"
	"fmt"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/logging"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

// Thresholds partition the score range. Candidates at or above AutoAccept
// are promoted without review; the accept boundary is inclusive.
type Thresholds struct {
	AutoAccept float64
	Audit      float64
	AutoReject float64
}

// DefaultThresholds returns the stock 0.2 / 0.5 / 0.9 partition.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoAccept: 0.9, Audit: 0.5, AutoReject: 0.2}
}

// Validate enforces reject < audit <= accept.
func (t Thresholds) Validate() error {
	if !(t.AutoReject < t.Audit && t.Audit <= t.AutoAccept) {
		return fmt.Errorf("thresholds must satisfy reject < audit <= accept, got %.2f / %.2f / %.2f",
			t.AutoReject, t.Audit, t.AutoAccept)
	}
	return nil
}

// Store is the persistence surface the router needs.
type Store interface {
	UpdateCandidateStatus(id string, status types.CandidateStatus, reviewer string) error
	UpsertEdge(e *types.Edge) error
	CandidatesForDst(dstID string) ([]*types.CandidateEdge, error)
}

// Gate reports whether a mid-band candidate needs an audit, and why.
// Alternatives are the other candidates competing for the same target.
type Gate func(c *types.CandidateEdge, alternatives []*types.CandidateEdge) (bool, string)

// Result summarizes one routing pass.
type Result struct {
	AutoAccepted     []string `json:"auto_accepted"`
	NeedsHumanReview []string `json:"needs_human_review"`
	NeedsAudit       []string `json:"needs_audit"`
	AutoRejected     []string `json:"auto_rejected"`
}

// Router applies thresholds and gates to scored candidates.
type Router struct {
	thresholds Thresholds
	store      Store
	gate       Gate
}

// New builds a router. The gate may be nil, in which case no mid-band
// candidate is sent to audit.
func New(thresholds Thresholds, store Store, gate Gate) (*Router, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Router{thresholds: thresholds, store: store, gate: gate}, nil
}

// Route reviews candidates against their scores. llmBudget caps how many
// candidates may be marked needs_audit this pass; once spent (or when the
// budget is zero from the start), gated candidates go to the human review
// queue instead. Candidates already in a terminal state are skipped.
func (r *Router) Route(candidates []*types.CandidateEdge, scores map[string]float64, llmBudget int) (*Result, error) {
	log := logging.Get(logging.CategoryRouter)
	result := &Result{}
	budget := llmBudget

	for _, c := range candidates {
		if c.Status.Terminal() {
			continue
		}
		score, ok := scores[c.ID]
		if !ok {
			score = c.Confidence
		}

		switch {
		case score >= r.thresholds.AutoAccept:
			if err := r.Promote(c, score, "auto:high_confidence"); err != nil {
				return nil, err
			}
			result.AutoAccepted = append(result.AutoAccepted, c.ID)
			log.Debug("auto-accepted %s (score %.3f)", c.ID, score)

		case score >= r.thresholds.Audit:
			gated, reason := r.checkGate(c)
			if gated && budget > 0 {
				budget--
				if err := r.store.UpdateCandidateStatus(c.ID, types.CandidateNeedsAudit, ""); err != nil {
					return nil, err
				}
				result.NeedsAudit = append(result.NeedsAudit, c.ID)
				log.Debug("gated %s for audit (%s, score %.3f)", c.ID, reason, score)
			} else {
				result.NeedsHumanReview = append(result.NeedsHumanReview, c.ID)
			}

		case score >= r.thresholds.AutoReject:
			result.NeedsHumanReview = append(result.NeedsHumanReview, c.ID)

		default:
			if err := r.store.UpdateCandidateStatus(c.ID, types.CandidateRejected, "auto:low_confidence"); err != nil {
				return nil, err
			}
			result.AutoRejected = append(result.AutoRejected, c.ID)
			log.Debug("auto-rejected %s (score %.3f)", c.ID, score)
		}
	}

	log.Info("routed %d candidates: %d accepted, %d audit, %d review, %d rejected",
		len(candidates), len(result.AutoAccepted), len(result.NeedsAudit),
		len(result.NeedsHumanReview), len(result.AutoRejected))
	return result, nil
}

// Promote accepts a candidate and writes the confirmed edge. Idempotent:
// promoting twice does not duplicate the edge.
func (r *Router) Promote(c *types.CandidateEdge, confidence float64, reviewer string) error {
	evidence := ""
	if c.Evidence != nil {
		if data, err := json.Marshal(c.Evidence); err == nil {
			evidence = string(data)
		}
	}
	edge := &types.Edge{
		SrcID:      c.SrcID,
		DstID:      c.DstID,
		Relation:   c.Relation,
		Confidence: confidence,
		Evidence:   evidence,
		CreatedBy:  reviewer,
	}
	if err := r.store.UpsertEdge(edge); err != nil {
		return fmt.Errorf("failed to promote candidate %s: %w", c.ID, err)
	}
	if err := r.store.UpdateCandidateStatus(c.ID, types.CandidateAccepted, reviewer); err != nil {
		return fmt.Errorf("failed to mark candidate %s accepted: %w", c.ID, err)
	}
	return nil
}

// Reject marks a candidate rejected on behalf of a reviewer.
func (r *Router) Reject(c *types.CandidateEdge, reviewer string) error {
	return r.store.UpdateCandidateStatus(c.ID, types.CandidateRejected, reviewer)
}

func (r *Router) checkGate(c *types.CandidateEdge) (bool, string) {
	if r.gate == nil {
		return false, ""
	}
	alternatives, err := r.store.CandidatesForDst(c.DstID)
	if err != nil {
		logging.Get(logging.CategoryRouter).Warn("failed to load alternatives for %s: %v", c.ID, err)
		alternatives = nil
	}
	return r.gate(c, alternatives)
}
