package types

import "time"

// FileRecord is one inventoried file in a scanned corpus root.
type FileRecord struct {
	ID         string       `json:"file_id"`
	RootID     string       `json:"root_id"`
	Path       string       `json:"path"`
	ParentPath string       `json:"parent_path"`
	Name       string       `json:"name"`
	Ext        string       `json:"ext"`
	IsDir      bool         `json:"is_dir"`
	SizeBytes  int64        `json:"size_bytes"`
	MTime      time.Time    `json:"mtime"`
	CTime      time.Time    `json:"ctime"`
	Category   FileCategory `json:"category"`
	Status     string       `json:"status"`
}

// Edge is a confirmed relationship between two files.
type Edge struct {
	ID             string    `json:"edge_id"`
	SrcID          string    `json:"src"`
	DstID          string    `json:"dst"`
	Relation       string    `json:"relation_type"`
	Confidence     float64   `json:"confidence"`
	Evidence       string    `json:"evidence"`
	EvidenceFileID string    `json:"evidence_file_id,omitempty"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// CandidateEdge is a proposed relationship awaiting review. Evidence is a
// free-form payload describing why the candidate was generated; the
// well-known keys are "type", "reference", "reference_type",
// "context_excerpt" and "context_metadata".
type CandidateEdge struct {
	ID         string                 `json:"candidate_id"`
	StrategyID string                 `json:"strategy_id"`
	SrcID      string                 `json:"src"`
	DstID      string                 `json:"dst"`
	Relation   string                 `json:"relation_type"`
	Confidence float64                `json:"confidence"`
	Evidence   map[string]interface{} `json:"evidence"`
	Status     CandidateStatus        `json:"status"`
	Reviewer   string                 `json:"reviewer,omitempty"`
	ReviewedAt time.Time              `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// EvidenceType returns the semantic evidence type of the payload: the
// "evidence_type" key when present, else "type", else "".
func (c *CandidateEdge) EvidenceType() string {
	if c.Evidence == nil {
		return ""
	}
	if t, ok := c.Evidence["evidence_type"].(string); ok {
		return t
	}
	if t, ok := c.Evidence["type"].(string); ok {
		return t
	}
	return ""
}

// LinkerStrategy configures one candidate-generation pass: which source
// files to read, which destination files they may link to, the relation
// produced, and optional per-strategy overrides for scoring weights and
// token-extraction patterns. TokenPatterns maps a token kind ("date",
// "animal_id", "chamber") to a replacement regex; kinds not named keep
// the stock pattern.
type LinkerStrategy struct {
	ID            string             `json:"strategy_id" yaml:"id"`
	Name          string             `json:"name" yaml:"name"`
	Description   string             `json:"description" yaml:"description"`
	Version       int                `json:"version" yaml:"version"`
	Active        bool               `json:"active" yaml:"active"`
	SrcPattern    string             `json:"src_pattern" yaml:"src_pattern"`
	DstPattern    string             `json:"dst_pattern" yaml:"dst_pattern"`
	Relation      string             `json:"relation_type" yaml:"relation"`
	Weights       map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	TokenPatterns map[string]string  `json:"token_patterns,omitempty" yaml:"token_patterns,omitempty"`
	CreatedAt     time.Time          `json:"created_at" yaml:"-"`
}

// Audit is one recorded auditor verdict for a candidate. NextSteps are
// the follow-up actions the auditor recommends; PromptVersion tags which
// revision of the audit prompt produced the verdict.
type Audit struct {
	ID            string       `json:"audit_id"`
	CandidateID   string       `json:"candidate_id"`
	Verdict       AuditVerdict `json:"verdict"`
	Confidence    float64      `json:"confidence"`
	Reasoning     string       `json:"reasoning"`
	NextSteps     []string     `json:"recommended_next_steps,omitempty"`
	GatingReason  string       `json:"gating_reason"`
	Model         string       `json:"model"`
	PromptVersion string       `json:"prompt_version,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// ScoreContribution is one explained term of a score breakdown. Value is
// the raw feature value, Normalized the value after rescaling to [0,1].
type ScoreContribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Normalized   float64 `json:"normalized_value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Explanation  string  `json:"explanation"`
}

// SoftScore is an explainable confidence in [0,1] with the per-feature
// terms that produced it.
type SoftScore struct {
	Total     float64             `json:"total"`
	Breakdown []ScoreContribution `json:"breakdown"`
	Flags     []string            `json:"flags,omitempty"`
}

// Bucket classifies the total into high (>=0.8), medium (>=0.5) or low.
func (s SoftScore) Bucket() string {
	switch {
	case s.Total >= 0.8:
		return "high"
	case s.Total >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

// StrategyProposal is a linking strategy suggested during exploration,
// either by the LLM or by the rule-based fallback.
type StrategyProposal struct {
	Name             string             `json:"name"`
	Description      string             `json:"description"`
	SrcFolderPattern string             `json:"src_folder_pattern"`
	DstFolderPattern string             `json:"dst_folder_pattern"`
	Relation         string             `json:"relation_type"`
	FeatureWeights   map[string]float64 `json:"feature_weights,omitempty"`
	TokenPatterns    map[string]string  `json:"token_patterns,omitempty"`
	Confidence       float64            `json:"confidence"`
	Rationale        string             `json:"rationale"`
}

// StrategyPerformance is a rollup of review outcomes for one strategy.
type StrategyPerformance struct {
	StrategyID    string  `json:"strategy_id"`
	Total         int     `json:"total"`
	Accepted      int     `json:"accepted"`
	Rejected      int     `json:"rejected"`
	Pending       int     `json:"pending"`
	NeedsAudit    int     `json:"needs_audit"`
	Precision     float64 `json:"precision"`
	AvgConfAccept float64 `json:"avg_confidence_accepted"`
	AvgConfReject float64 `json:"avg_confidence_rejected"`
}

// CandidateLabel is a human-provided training label for a candidate.
type CandidateLabel struct {
	CandidateID string    `json:"candidate_id"`
	Label       string    `json:"label"` // accept or reject
	LabeledBy   string    `json:"labeled_by"`
	CreatedAt   time.Time `json:"created_at"`
}
