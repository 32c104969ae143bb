// Package features turns candidate links into versioned numeric feature
// vectors and scores them with an explainable linear model.
package features

// SchemaVersion identifies the feature vector layout. Persisted vectors
// and trained models record it so stale data is detectable.
const SchemaVersion = 1

// FeatureVector holds every signal extracted for one (source, target)
// candidate pair. Fields group into: name/path similarity, evidence,
// token agreement, candidate-graph shape, context, temporal, and labels.
type FeatureVector struct {
	SchemaVersion int `json:"schema_version"`

	// Name and path similarity
	ExactBasenameMatch      float64 `json:"exact_basename_match"`
	NormalizedBasenameMatch float64 `json:"normalized_basename_match"`
	EditDistance            float64 `json:"edit_distance"`
	FuzzRatio               float64 `json:"fuzz_ratio"` // 0-100
	NumericSuffixDelta      float64 `json:"numeric_suffix_delta"` // -1 when either name lacks a trailing digit run
	SameFolder              float64 `json:"same_folder"`
	ParentFolder            float64 `json:"parent_folder"`
	SiblingFolder           float64 `json:"sibling_folder"`
	PathDepthDifference     float64 `json:"path_depth_difference"`
	CommonAncestorDepth     float64 `json:"common_ancestor_depth"`

	// Evidence
	EvidenceType            string  `json:"evidence_type"`
	EvidenceStrength        float64 `json:"evidence_strength"`
	HasCanonicalColumnMatch float64 `json:"has_canonical_column_match"`
	ColumnHeaderSimilarity  float64 `json:"column_header_similarity"`
	EvidenceSpanLength      float64 `json:"evidence_span_length"`

	// Token agreement
	DateTokenAgreement      float64 `json:"date_token_agreement"`
	AnimalIDAgreement       float64 `json:"animal_id_agreement"`
	ChamberAgreement        float64 `json:"chamber_agreement"`
	VideoFilenameAgreement  float64 `json:"video_filename_agreement"`
	ABFHeaderSignatureMatch float64 `json:"abf_header_signature_match"`

	// Candidate-graph shape
	NumCandidatesForSrc float64 `json:"num_candidates_for_src"`
	NumCandidatesForDst float64 `json:"num_candidates_for_dst"`
	ViolatesOneToOne    float64 `json:"violates_one_to_one"`
	DstAlreadyLinked    float64 `json:"dst_already_linked"`

	// Context
	ContextMouseIDMatch      float64 `json:"context_mouse_id_match"`
	ContextDateMatch         float64 `json:"context_date_match"`
	ContextChannelAgreement  float64 `json:"context_channel_agreement"`
	ContextExplicitReference float64 `json:"context_explicit_reference"`
	ContextSectionType       string  `json:"context_section_type"`
	ContextLinesAnalyzed     float64 `json:"context_lines_analyzed"`
	ContextConfidence        float64 `json:"context_confidence"`

	// Temporal
	TimeCreatedDeltaHours  float64 `json:"time_created_delta_hours"`
	TimeModifiedDeltaHours float64 `json:"time_modified_delta_hours"`
	CreatedWithin1h        float64 `json:"created_within_1h"`
	CreatedWithin24h       float64 `json:"created_within_24h"`
	CreatedWithin7d        float64 `json:"created_within_7d"`
	ModifiedWithin1h       float64 `json:"modified_within_1h"`
	ModifiedWithin24h      float64 `json:"modified_within_24h"`
	SrcSizeBytes           float64 `json:"src_size_bytes"`
	DstSizeBytes           float64 `json:"dst_size_bytes"`

	// Labels (filled after review, used for training only)
	UserLabel         string  `json:"user_label,omitempty"`
	AuditorVerdict    string  `json:"auditor_verdict,omitempty"`
	AuditorConfidence float64 `json:"auditor_confidence,omitempty"`
}

// Get returns a named numeric feature. String-valued and label fields are
// not addressable this way; unknown names return 0.
func (v *FeatureVector) Get(name string) float64 {
	switch name {
	case "exact_basename_match":
		return v.ExactBasenameMatch
	case "normalized_basename_match":
		return v.NormalizedBasenameMatch
	case "edit_distance":
		return v.EditDistance
	case "fuzz_ratio":
		return v.FuzzRatio
	case "numeric_suffix_delta":
		return v.NumericSuffixDelta
	case "same_folder":
		return v.SameFolder
	case "parent_folder":
		return v.ParentFolder
	case "sibling_folder":
		return v.SiblingFolder
	case "path_depth_difference":
		return v.PathDepthDifference
	case "common_ancestor_depth":
		return v.CommonAncestorDepth
	case "evidence_strength":
		return v.EvidenceStrength
	case "has_canonical_column_match":
		return v.HasCanonicalColumnMatch
	case "column_header_similarity":
		return v.ColumnHeaderSimilarity
	case "evidence_span_length":
		return v.EvidenceSpanLength
	case "date_token_agreement":
		return v.DateTokenAgreement
	case "animal_id_agreement":
		return v.AnimalIDAgreement
	case "chamber_agreement":
		return v.ChamberAgreement
	case "video_filename_agreement":
		return v.VideoFilenameAgreement
	case "abf_header_signature_match":
		return v.ABFHeaderSignatureMatch
	case "num_candidates_for_src":
		return v.NumCandidatesForSrc
	case "num_candidates_for_dst":
		return v.NumCandidatesForDst
	case "violates_one_to_one":
		return v.ViolatesOneToOne
	case "dst_already_linked":
		return v.DstAlreadyLinked
	case "context_mouse_id_match":
		return v.ContextMouseIDMatch
	case "context_date_match":
		return v.ContextDateMatch
	case "context_channel_agreement":
		return v.ContextChannelAgreement
	case "context_explicit_reference":
		return v.ContextExplicitReference
	case "context_lines_analyzed":
		return v.ContextLinesAnalyzed
	case "context_confidence":
		return v.ContextConfidence
	case "time_created_delta_hours":
		return v.TimeCreatedDeltaHours
	case "time_modified_delta_hours":
		return v.TimeModifiedDeltaHours
	case "created_within_1h":
		return v.CreatedWithin1h
	case "created_within_24h":
		return v.CreatedWithin24h
	case "created_within_7d":
		return v.CreatedWithin7d
	case "modified_within_1h":
		return v.ModifiedWithin1h
	case "modified_within_24h":
		return v.ModifiedWithin24h
	case "src_size_bytes":
		return v.SrcSizeBytes
	case "dst_size_bytes":
		return v.DstSizeBytes
	default:
		return 0
	}
}
