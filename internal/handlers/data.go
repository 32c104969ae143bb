package handlers

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

var dataExtensions = map[string]bool{
	".abf": true, ".smrx": true, ".smr": true, ".edf": true,
	".mat": true, ".nwb": true, ".h5": true, ".hdf5": true, ".npz": true,
}

var (
	fileDatePattern    = regexp.MustCompile(`(\d{8}|\d{4}[-_]\d{2}[-_]\d{2})`)
	fileAnimalPattern  = regexp.MustCompile(`(?i)(?:animal|mouse|rat|id)[_\-\s]*(\d{3,5})|[_\-](\d{3,4})[_\-]`)
	fileSessionPattern = regexp.MustCompile(`_(\d{3})(?:\.\w+)?$`)

	// Lines that derived npz archives carry naming their source recording.
	npzOriginalFile = regexp.MustCompile(`Original Data File:\s*(\S+)`)
	npzOriginalPath = regexp.MustCompile(`Original Path:.*?([^\\/]+\.(?:abf|smrx|smr|edf))`)
)

// GenericDataHandler covers raw and derived recording files. Binary
// formats yield filename-derived metadata only; npz text dumps also yield
// source-file references.
type GenericDataHandler struct{}

func NewGenericDataHandler() *GenericDataHandler { return &GenericDataHandler{} }

func (h *GenericDataHandler) Name() string { return "generic_data" }

func (h *GenericDataHandler) CanHandle(file *types.FileRecord, content string) float64 {
	if dataExtensions[strings.ToLower(file.Ext)] {
		return 0.8
	}
	if file.Category == types.CategoryData {
		return 0.7
	}
	return 0
}

func (h *GenericDataHandler) ExtractMetadata(file *types.FileRecord, content string) map[string]string {
	meta := make(map[string]string)
	name := file.Name

	if m := fileDatePattern.FindStringSubmatch(name); m != nil {
		meta["recording_date"] = m[1]
	}
	if m := fileAnimalPattern.FindStringSubmatch(name); m != nil {
		if m[1] != "" {
			meta["animal_id"] = m[1]
		} else if m[2] != "" {
			meta["animal_id"] = m[2]
		}
	}
	if m := fileSessionPattern.FindStringSubmatch(name); m != nil {
		meta["session_number"] = m[1]
	}
	if content != "" {
		if m := npzOriginalFile.FindStringSubmatch(content); m != nil {
			meta["original_source"] = m[1]
		}
	}
	return meta
}

func (h *GenericDataHandler) FindReferences(file *types.FileRecord, content string) []ReferenceContext {
	if content == "" {
		return nil
	}
	var refs []ReferenceContext
	seen := make(map[string]bool)
	add := func(ref string) {
		base := filepath.Base(ref)
		if seen[base] {
			return
		}
		seen[base] = true
		refs = append(refs, ReferenceContext{
			Reference:     base,
			ReferenceType: "source_file",
			Confidence:    0.95,
		})
	}
	for _, m := range npzOriginalFile.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range npzOriginalPath.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	return refs
}

func (h *GenericDataHandler) RelationshipHints(file *types.FileRecord, content string) []string {
	if strings.EqualFold(file.Ext, ".npz") {
		return []string{types.RelationAnalysisOf, types.RelationDerivedFrom, types.RelationSameSession}
	}
	return []string{"source_for", types.RelationSameSession, types.RelationSameAnimal}
}
