// Package audit decides which mid-confidence candidates deserve an LLM
// second opinion, runs the audit, and falls back to deterministic rules
// when the model is unavailable.
package audit

import (
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

// Gating reasons, recorded on audit records.
const (
	GateTie         = "tie"          // Top alternatives too close to call
	GateNoExact     = "no_exact"     // Evidence was inferred, not observed
	GateConflict    = "conflict"     // One-to-one constraint violated
	GateLowEvidence = "low_evidence" // Proximity is the only signal
	GateUserRequest = "user_request" // Explicitly flagged for audit
)

// TieDelta is the score gap under which two competing candidates count as
// a tie.
const TieDelta = 0.15

// ShouldAudit reports whether a candidate needs an audit and the gating
// reason. Alternatives are other candidates for the same target, sorted
// by descending confidence.
func ShouldAudit(c *types.CandidateEdge, alternatives []*types.CandidateEdge) (bool, string) {
	if c.Status == types.CandidateNeedsAudit {
		return true, GateUserRequest
	}

	if len(alternatives) >= 2 {
		top, second := alternatives[0], alternatives[1]
		if top.Confidence-second.Confidence < TieDelta &&
			(c.ID == top.ID || c.ID == second.ID) {
			return true, GateTie
		}
	}

	switch c.EvidenceType() {
	case "inferred_sequence":
		return true, GateNoExact
	case "proximity_only":
		return true, GateLowEvidence
	}

	if violatesOneToOne(c.Evidence) {
		return true, GateConflict
	}

	return false, ""
}

func violatesOneToOne(evidence map[string]interface{}) bool {
	if evidence == nil {
		return false
	}
	switch v := evidence["violates_one_to_one"].(type) {
	case bool:
		return v
	case float64:
		return v > 0
	}
	return false
}
