package handlers

import (
	"path/filepath"
	"strings"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

var photometryFilePatterns = []string{
	"*FP_data*", "*photometry*", "*fiber*", "*doric*",
}

// PhotometryHandler recognizes fiber-photometry exports by naming
// convention and content signature. It produces no references of its own;
// its value is category-specific relationship hints and a higher handler
// confidence on photometry files than the generic data handler.
type PhotometryHandler struct {
	signatures []ContentSignature
}

func NewPhotometryHandler() *PhotometryHandler {
	return &PhotometryHandler{
		signatures: []ContentSignature{
			{
				Keywords:        []string{"415nm", "470nm", "GCaMP", "isosbestic"},
				KeywordWeights:  map[string]float64{"415nm": 0.1, "470nm": 0.1, "GCaMP": 0.1, "isosbestic": 0.1},
				RequiredCount:   2,
				ConfidenceBoost: 0.2,
			},
			{
				Keywords:        []string{"dF/F", "z-score", "zscore"},
				KeywordWeights:  map[string]float64{"dF/F": 0.1, "z-score": 0.1, "zscore": 0.1},
				RequiredCount:   2,
				ConfidenceBoost: 0.1,
			},
		},
	}
}

func (h *PhotometryHandler) Name() string { return "photometry" }

func (h *PhotometryHandler) CanHandle(file *types.FileRecord, content string) float64 {
	conf := 0.0

	lowerDir := strings.ToLower(file.ParentPath)
	if strings.Contains(lowerDir, "photometry") || strings.Contains(lowerDir, "fp_data") ||
		strings.Contains(lowerDir, "fiber") {
		conf += 0.4
	}
	lowerName := strings.ToLower(file.Name)
	for _, pat := range photometryFilePatterns {
		if ok, _ := filepath.Match(strings.ToLower(pat), lowerName); ok {
			conf += 0.3
			break
		}
	}
	if content != "" {
		for _, sig := range h.signatures {
			conf += sig.Score(content)
		}
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

func (h *PhotometryHandler) ExtractMetadata(file *types.FileRecord, content string) map[string]string {
	meta := make(map[string]string)
	if m := fileDatePattern.FindStringSubmatch(file.Name); m != nil {
		meta["recording_date"] = m[1]
	}
	if m := fileAnimalPattern.FindStringSubmatch(file.Name); m != nil {
		if m[1] != "" {
			meta["animal_id"] = m[1]
		} else if m[2] != "" {
			meta["animal_id"] = m[2]
		}
	}
	meta["modality"] = "fiber_photometry"
	return meta
}

func (h *PhotometryHandler) FindReferences(file *types.FileRecord, content string) []ReferenceContext {
	return nil
}

func (h *PhotometryHandler) RelationshipHints(file *types.FileRecord, content string) []string {
	return []string{"source_for_notes", types.RelationSameSession, "paired_with_behavior"}
}
