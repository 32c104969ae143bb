package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/logging"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

// promptVersion tags audit records with the revision of the system
// prompt that produced them, so verdicts stay comparable across prompt
// changes.
const promptVersion = "1.0"

const auditSystemPrompt = `You audit proposed links between files in a research data corpus.
Given a candidate link with its evidence, decide whether the link is real.
Respond with a single JSON object:
{"verdict": "accept" | "reject" | "needs_more_info", "confidence": 0.0-1.0,
 "reasoning": "one or two sentences",
 "recommended_next_steps": ["short follow-up actions, empty if none"]}`

// Store is the persistence surface the auditor needs.
type Store interface {
	GetFile(id string) (*types.FileRecord, error)
	AddAudit(a *types.Audit) error
	UpdateCandidateStatus(id string, status types.CandidateStatus, reviewer string) error
	CandidatesForDst(dstID string) ([]*types.CandidateEdge, error)
	UpsertEdge(e *types.Edge) error
}

// Verdict is the parsed auditor response.
type Verdict struct {
	Verdict    types.AuditVerdict `json:"verdict"`
	Confidence float64            `json:"confidence"`
	Reasoning  string             `json:"reasoning"`
	NextSteps  []string           `json:"recommended_next_steps"`
}

// Auditor runs audits over gated candidates.
type Auditor struct {
	store Store
	llm   types.LLMClient
}

// New builds an auditor. llm may be nil; every audit then uses the
// rule-based path.
func New(store Store, llm types.LLMClient) *Auditor {
	return &Auditor{store: store, llm: llm}
}

// Audit reviews one candidate. The LLM is consulted when available; any
// LLM or parse failure falls back to the deterministic rules, so Audit
// only errors on persistence failures. The verdict is recorded and the
// candidate status updated; needs_more_info leaves the candidate in
// needs_audit for a human.
func (a *Auditor) Audit(ctx context.Context, c *types.CandidateEdge, alternatives []*types.CandidateEdge, gatingReason string) (*types.Audit, error) {
	log := logging.Get(logging.CategoryAudit)

	var verdict Verdict
	model := "rules"
	if a.llm != nil && a.llm.Available() {
		v, err := a.llmAudit(ctx, c, alternatives, gatingReason)
		if err != nil {
			log.Warn("llm audit failed for %s, falling back to rules: %v", c.ID, err)
			verdict = a.ruleBasedAudit(c, alternatives)
		} else {
			verdict = v
			model = a.llm.Model()
		}
	} else {
		verdict = a.ruleBasedAudit(c, alternatives)
	}

	record := &types.Audit{
		CandidateID:   c.ID,
		Verdict:       verdict.Verdict,
		Confidence:    verdict.Confidence,
		Reasoning:     verdict.Reasoning,
		NextSteps:     verdict.NextSteps,
		GatingReason:  gatingReason,
		Model:         model,
		PromptVersion: promptVersion,
	}
	if err := a.store.AddAudit(record); err != nil {
		return nil, fmt.Errorf("failed to record audit: %w", err)
	}

	reviewer := "auditor:" + model
	switch verdict.Verdict {
	case types.VerdictAccept:
		edgeEvidence := ""
		if c.Evidence != nil {
			if data, err := json.Marshal(c.Evidence); err == nil {
				edgeEvidence = string(data)
			}
		}
		edge := &types.Edge{
			SrcID:      c.SrcID,
			DstID:      c.DstID,
			Relation:   c.Relation,
			Confidence: verdict.Confidence,
			Evidence:   edgeEvidence,
			CreatedBy:  reviewer,
		}
		if err := a.store.UpsertEdge(edge); err != nil {
			return nil, fmt.Errorf("failed to promote audited candidate: %w", err)
		}
		if err := a.store.UpdateCandidateStatus(c.ID, types.CandidateAccepted, reviewer); err != nil {
			return nil, err
		}
	case types.VerdictReject:
		if err := a.store.UpdateCandidateStatus(c.ID, types.CandidateRejected, reviewer); err != nil {
			return nil, err
		}
	case types.VerdictNeedsMoreInfo:
		// Stays in needs_audit for a human to pick up.
	}

	log.Info("audited %s: %s (%.2f, gate=%s, model=%s)",
		c.ID, verdict.Verdict, verdict.Confidence, gatingReason, model)
	return record, nil
}

// AuditBatch audits up to maxAudits candidates, loading alternatives per
// target. Returns the audit records in input order.
func (a *Auditor) AuditBatch(ctx context.Context, candidates []*types.CandidateEdge, maxAudits int) ([]*types.Audit, error) {
	var out []*types.Audit
	for _, c := range candidates {
		if maxAudits > 0 && len(out) >= maxAudits {
			break
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		alternatives, err := a.store.CandidatesForDst(c.DstID)
		if err != nil {
			return out, fmt.Errorf("failed to load alternatives for %s: %w", c.ID, err)
		}
		gated, reason := ShouldAudit(c, alternatives)
		if !gated {
			reason = GateUserRequest
		}
		record, err := a.Audit(ctx, c, alternatives, reason)
		if err != nil {
			return out, err
		}
		out = append(out, record)
	}
	return out, nil
}

func (a *Auditor) llmAudit(ctx context.Context, c *types.CandidateEdge, alternatives []*types.CandidateEdge, gatingReason string) (Verdict, error) {
	prompt := a.buildPrompt(c, alternatives, gatingReason)
	logging.Get(logging.CategoryAPI).Debug("audit prompt for %s (%d bytes)", c.ID, len(prompt))

	reply, err := a.llm.CompleteWithSystem(ctx, auditSystemPrompt, prompt)
	if err != nil {
		return Verdict{}, err
	}
	return parseVerdict(reply)
}

func (a *Auditor) buildPrompt(c *types.CandidateEdge, alternatives []*types.CandidateEdge, gatingReason string) string {
	var b strings.Builder

	writeFile := func(label, id string) {
		f, err := a.store.GetFile(id)
		if err != nil {
			fmt.Fprintf(&b, "%s: %s\n", label, id)
			return
		}
		fmt.Fprintf(&b, "%s: %s\n  path: %s\n  category: %s\n", label, f.Name, f.Path, f.Category)
	}

	b.WriteString("Candidate link under review:\n")
	writeFile("Source", c.SrcID)
	writeFile("Target", c.DstID)
	fmt.Fprintf(&b, "Relation: %s\nConfidence: %.2f\nGating reason: %s\n", c.Relation, c.Confidence, gatingReason)

	if c.Evidence != nil {
		if ref, ok := c.Evidence["reference"].(string); ok {
			fmt.Fprintf(&b, "Reference found: %q", ref)
			if rt, ok := c.Evidence["reference_type"].(string); ok {
				fmt.Fprintf(&b, " (%s)", rt)
			}
			b.WriteString("\n")
		}
		if excerpt, ok := c.Evidence["context_excerpt"].(string); ok && excerpt != "" {
			fmt.Fprintf(&b, "Context:\n%s\n", excerpt)
		}
	}

	count := 0
	for _, alt := range alternatives {
		if alt.ID == c.ID {
			continue
		}
		if count == 0 {
			b.WriteString("Competing candidates for the same target:\n")
		}
		fmt.Fprintf(&b, "  - source %s, confidence %.2f\n", alt.SrcID, alt.Confidence)
		count++
		if count >= 5 {
			break
		}
	}

	return b.String()
}

// parseVerdict extracts the JSON verdict, tolerating markdown fences and
// surrounding prose.
func parseVerdict(reply string) (Verdict, error) {
	text := strings.TrimSpace(reply)

	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	} else if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}

	var v Verdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &v); err != nil {
		return Verdict{}, fmt.Errorf("unparseable audit response: %w", err)
	}
	switch v.Verdict {
	case types.VerdictAccept, types.VerdictReject, types.VerdictNeedsMoreInfo:
	default:
		return Verdict{}, fmt.Errorf("unknown verdict %q", v.Verdict)
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	return v, nil
}

// ruleBasedAudit is the deterministic fallback. It is total: every input
// produces a verdict and it never errors.
func (a *Auditor) ruleBasedAudit(c *types.CandidateEdge, alternatives []*types.CandidateEdge) Verdict {
	boost := func(conf float64) float64 {
		conf += 0.1
		if conf > 1 {
			conf = 1
		}
		return conf
	}

	switch c.EvidenceType() {
	case "explicit_mention":
		return Verdict{
			Verdict:    types.VerdictAccept,
			Confidence: boost(c.Confidence),
			Reasoning:  "Explicit filename mention provides strong evidence",
		}
	}

	if exactBasename(c.Evidence) {
		return Verdict{
			Verdict:    types.VerdictAccept,
			Confidence: boost(c.Confidence),
			Reasoning:  "Exact basename match provides strong evidence",
		}
	}

	if violatesOneToOne(c.Evidence) {
		if isTopAlternative(c, alternatives) {
			return Verdict{
				Verdict:    types.VerdictAccept,
				Confidence: boost(c.Confidence),
				Reasoning:  "Highest-confidence candidate among conflicting alternatives",
			}
		}
		return Verdict{
			Verdict:    types.VerdictReject,
			Confidence: 1 - c.Confidence,
			Reasoning:  "Better alternative exists for the same target",
			NextSteps:  []string{"review the accepted alternative for this target"},
		}
	}

	if c.EvidenceType() == "proximity_only" && c.Confidence < 0.5 {
		return Verdict{
			Verdict:    types.VerdictReject,
			Confidence: 1 - c.Confidence,
			Reasoning:  "Proximity alone is too weak at this confidence",
		}
	}

	return Verdict{
		Verdict:    types.VerdictNeedsMoreInfo,
		Confidence: 0.5,
		Reasoning:  "Evidence inconclusive. Manual review recommended",
		NextSteps:  []string{"inspect both files side by side", "label the pair to train the classifier"},
	}
}

func exactBasename(evidence map[string]interface{}) bool {
	if evidence == nil {
		return false
	}
	switch v := evidence["exact_basename_match"].(type) {
	case bool:
		return v
	case float64:
		return v > 0
	}
	return false
}

// isTopAlternative reports whether c has the maximum confidence among all
// candidates for its target. Ties go to c.
func isTopAlternative(c *types.CandidateEdge, alternatives []*types.CandidateEdge) bool {
	for _, alt := range alternatives {
		if alt.ID == c.ID {
			continue
		}
		if alt.Confidence > c.Confidence {
			return false
		}
	}
	return true
}
