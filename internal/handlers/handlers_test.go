package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

func file(name, parent string, category types.FileCategory) *types.FileRecord {
	ext := ""
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			ext = name[i:]
			break
		}
	}
	return &types.FileRecord{
		Name:       name,
		Ext:        ext,
		Path:       parent + "/" + name,
		ParentPath: parent,
		Category:   category,
	}
}

func TestRegistryDuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewGenericTextHandler()))
	assert.Error(t, r.Register(NewGenericTextHandler()))
}

func TestRegistryConfidenceFloor(t *testing.T) {
	r := NewDefaultRegistry()
	f := file("mystery.xyz", "/data", types.CategoryOther)
	assert.Nil(t, r.HandlerFor(f, ""))
}

func TestRegistryPicksHighestConfidence(t *testing.T) {
	r := NewDefaultRegistry()

	csv := file("log.csv", "/data", types.CategorySpreadsheets)
	h := r.HandlerFor(csv, "File,Animal\n024.abf,4105")
	require.NotNil(t, h)
	assert.Equal(t, "spreadsheet", h.Name())

	abf := file("rec_024.abf", "/data", types.CategoryData)
	h = r.HandlerFor(abf, "")
	require.NotNil(t, h)
	assert.Equal(t, "generic_data", h.Name())
}

func TestRegistryAllMatchingSorted(t *testing.T) {
	r := NewDefaultRegistry()
	f := file("notes.txt", "/data", types.CategoryDocuments)
	matching := r.AllMatching(f, "some notes")
	require.NotEmpty(t, matching)
	assert.Equal(t, "generic_text", matching[0].Name())
}

func TestContentSignatureRequiredCount(t *testing.T) {
	sig := ContentSignature{
		Keywords:       []string{"415nm", "470nm", "GCaMP"},
		KeywordWeights: map[string]float64{"415nm": 0.1, "470nm": 0.1, "GCaMP": 0.1},
		RequiredCount:  2,
	}
	assert.Equal(t, 0.0, sig.Score("only 415nm present"))
	assert.Greater(t, sig.Score("415nm and 470nm channels"), 0.0)
}

func TestTextHandlerExplicitReferences(t *testing.T) {
	h := NewGenericTextHandler()
	f := file("notes.txt", "/data", types.CategoryDocuments)
	content := "Surgery on mouse 4105.\nRecorded 20231104_mouse41_024.abf after induction.\nAll good."

	refs := h.FindReferences(f, content)
	require.NotEmpty(t, refs)
	assert.Equal(t, "20231104_mouse41_024.abf", refs[0].Reference)
	assert.Equal(t, "filename", refs[0].ReferenceType)
	assert.InDelta(t, 0.9, refs[0].Confidence, 1e-9)
	assert.Equal(t, 2, refs[0].LineNumber)
	assert.Contains(t, refs[0].FullContext, "Surgery")
}

func TestTextHandlerShortRefNoiseFilter(t *testing.T) {
	h := NewGenericTextHandler()
	f := file("notes.txt", "/data", types.CategoryDocuments)

	refs := h.FindReferences(f, "see page 123 for details")
	for _, r := range refs {
		assert.NotEqual(t, "123", r.Reference, "page number must be filtered")
	}

	refs = h.FindReferences(f, "baseline run 024 looked clean")
	found := false
	for _, r := range refs {
		if r.Reference == "024" && r.ReferenceType == "short_ref" {
			found = true
			assert.InDelta(t, 0.5, r.Confidence, 1e-9)
		}
	}
	assert.True(t, found)
}

func TestTextHandlerRelationshipHints(t *testing.T) {
	h := NewGenericTextHandler()
	f := file("surgery_notes.txt", "/data", types.CategoryDocuments)
	hints := h.RelationshipHints(f, "Surgery performed under isoflurane")
	assert.Contains(t, hints, types.RelationSurgeryNotes)
}

func TestDataHandlerNpzReferences(t *testing.T) {
	h := NewGenericDataHandler()
	f := file("analysis_024.npz", "/data/derived", types.CategoryData)
	content := "Original Data File: 20231104_mouse41_024.abf\nOriginal Path: D:\\recordings\\20231104_mouse41_024.abf"

	refs := h.FindReferences(f, content)
	require.Len(t, refs, 1) // deduplicated across both patterns
	assert.Equal(t, "20231104_mouse41_024.abf", refs[0].Reference)
	assert.Equal(t, "source_file", refs[0].ReferenceType)
	assert.InDelta(t, 0.95, refs[0].Confidence, 1e-9)
}

func TestDataHandlerMetadata(t *testing.T) {
	h := NewGenericDataHandler()
	f := file("20231104_mouse41_024.abf", "/data", types.CategoryData)
	meta := h.ExtractMetadata(f, "")
	assert.Equal(t, "20231104", meta["recording_date"])
	assert.Equal(t, "024", meta["session_number"])
}

func TestDataHandlerHints(t *testing.T) {
	h := NewGenericDataHandler()
	npz := file("derived.npz", "/data", types.CategoryData)
	assert.Contains(t, h.RelationshipHints(npz, ""), types.RelationAnalysisOf)

	abf := file("raw.abf", "/data", types.CategoryData)
	assert.Contains(t, h.RelationshipHints(abf, ""), types.RelationSameSession)
}

func TestPhotometryHandlerBeatsGenericOnPhotometryFiles(t *testing.T) {
	r := NewDefaultRegistry()
	f := file("mouse41_FP_data.csv", "/data/photometry", types.CategorySpreadsheets)
	content := "time,415nm,470nm\n0.0,1.2,3.4"

	h := r.HandlerFor(f, content)
	require.NotNil(t, h)
	assert.Equal(t, "photometry", h.Name())
}

func TestSpreadsheetHandlerCellReferences(t *testing.T) {
	h := NewSpreadsheetHandler()
	f := file("log.csv", "/data", types.CategorySpreadsheets)
	content := "Pleth File,Animal ID,Date,Notes\n" +
		"20231104_mouse41_024.abf,4105,2023-11-04,baseline clean\n" +
		"025,4106,2023-11-05,post drug"

	refs := h.FindReferences(f, content)
	require.Len(t, refs, 2)

	assert.Equal(t, "20231104_mouse41_024.abf", refs[0].Reference)
	assert.Equal(t, "cell_filename", refs[0].ReferenceType)
	assert.InDelta(t, 0.95, refs[0].Confidence, 1e-9) // 0.85 + file-column boost
	assert.Equal(t, "4105", refs[0].Metadata["animal_id"])
	assert.Equal(t, "2023-11-04", refs[0].Metadata["date"])
	assert.Equal(t, "baseline clean", refs[0].Metadata["notes"])
	assert.Equal(t, "Pleth File", refs[0].Metadata["column_header"])

	assert.Equal(t, "025", refs[1].Reference)
	assert.Equal(t, "cell_short_ref", refs[1].ReferenceType)
	assert.InDelta(t, 0.7, refs[1].Confidence, 1e-9) // 0.6 + file-column boost
	assert.Equal(t, "Pleth File", refs[1].Metadata["column_header"])
}

func TestSpreadsheetHandlerTabDelimited(t *testing.T) {
	h := NewSpreadsheetHandler()
	f := file("log.tsv", "/data", types.CategorySpreadsheets)
	content := "File\tAnimal\n024.abf\t4105"

	refs := h.FindReferences(f, content)
	require.Len(t, refs, 1)
	assert.Equal(t, "024.abf", refs[0].Reference)
}

func TestSpreadsheetHandlerNoHeaderMatchStillFindsRefs(t *testing.T) {
	h := NewSpreadsheetHandler()
	f := file("log.csv", "/data", types.CategorySpreadsheets)
	content := "Col1,Col2\nsomething,020.abf"

	refs := h.FindReferences(f, content)
	require.Len(t, refs, 1)
	assert.InDelta(t, 0.85, refs[0].Confidence, 1e-9) // no file-column boost
}

func TestCategoryForExtension(t *testing.T) {
	assert.Equal(t, types.CategoryData, types.CategoryForExtension(".abf"))
	assert.Equal(t, types.CategoryData, types.CategoryForExtension("npz"))
	assert.Equal(t, types.CategorySpreadsheets, types.CategoryForExtension(".CSV"))
	assert.Equal(t, types.CategoryOther, types.CategoryForExtension(".weird"))
}
