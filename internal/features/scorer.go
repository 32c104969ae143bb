package features

import (
	"fmt"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

// DefaultWeights is the hand-tuned linear model used before any
// classifier is trained. Negative weights are conflict penalties.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"exact_basename_match":       0.15,
		"normalized_basename_match":  0.10,
		"fuzz_ratio":                 0.10,
		"same_folder":                0.05,
		"parent_folder":              0.03,
		"evidence_strength":          0.30,
		"has_canonical_column_match": 0.10,
		"date_token_agreement":       0.10,
		"animal_id_agreement":        0.10,
		"chamber_agreement":          0.05,
		"context_explicit_reference": 0.15,
		"context_confidence":         0.10,
		"context_mouse_id_match":     0.10,
		"context_date_match":         0.10,
		"created_within_24h":         0.08,
		"created_within_7d":          0.04,
		"modified_within_24h":        0.03,
		"violates_one_to_one":        -0.10,
		"dst_already_linked":         -0.10,
	}
}

// scoreOrder fixes the breakdown ordering so equal inputs yield identical
// output, including the explanation.
var scoreOrder = []string{
	"evidence_strength",
	"exact_basename_match",
	"normalized_basename_match",
	"fuzz_ratio",
	"has_canonical_column_match",
	"context_explicit_reference",
	"context_confidence",
	"context_mouse_id_match",
	"context_date_match",
	"date_token_agreement",
	"animal_id_agreement",
	"chamber_agreement",
	"same_folder",
	"parent_folder",
	"created_within_24h",
	"created_within_7d",
	"modified_within_24h",
	"violates_one_to_one",
	"dst_already_linked",
}

// SoftScorer combines features linearly into a confidence in [0,1] with a
// per-feature breakdown. Pure and deterministic.
type SoftScorer struct {
	weights map[string]float64
}

// NewSoftScorer returns a scorer with the default weights.
func NewSoftScorer() *SoftScorer {
	return &SoftScorer{weights: DefaultWeights()}
}

// NewSoftScorerWithWeights overlays per-strategy weight overrides on the
// defaults. Unknown feature names are ignored at scoring time.
func NewSoftScorerWithWeights(overrides map[string]float64) *SoftScorer {
	w := DefaultWeights()
	for k, v := range overrides {
		w[k] = v
	}
	return &SoftScorer{weights: w}
}

// Score computes the soft score for a feature vector.
func (s *SoftScorer) Score(v *FeatureVector) types.SoftScore {
	var score types.SoftScore
	total := 0.0

	for _, name := range scoreOrder {
		weight, ok := s.weights[name]
		if !ok {
			continue
		}
		value := v.Get(name)
		if !s.include(name, value, v) {
			continue
		}

		normalized := normalize(name, value)
		contribution := normalized * weight
		total += contribution

		score.Breakdown = append(score.Breakdown, types.ScoreContribution{
			Feature:      name,
			Value:        value,
			Normalized:   normalized,
			Weight:       weight,
			Contribution: contribution,
			Explanation:  fmt.Sprintf("%s=%.2f, weight %.2f, contributes %+.3f", name, normalized, weight, contribution),
		})

		if weight < 0 && value > 0 {
			score.Flags = append(score.Flags, "conflict:"+name)
		}
	}

	if total < 0 {
		total = 0
	}
	if total > 1 {
		total = 1
	}
	score.Total = total
	return score
}

// include decides whether a term appears in the breakdown. Zero-valued
// features are omitted, explicit-reference context only counts when set,
// and the 24h temporal bonus suppresses the weaker 7d one.
func (s *SoftScorer) include(name string, value float64, v *FeatureVector) bool {
	if value == 0 {
		return false
	}
	if name == "created_within_7d" && v.CreatedWithin24h > 0 {
		return false
	}
	return true
}

func normalize(name string, value float64) float64 {
	switch name {
	case "fuzz_ratio":
		return value / 100
	default:
		return value
	}
}
