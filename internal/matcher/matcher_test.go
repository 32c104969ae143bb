package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/handlers"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

func TestPathSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "/data/cohort1", "/data/cohort1", 1.0},
		{"siblings", "/data/cohort1/notes", "/data/cohort1/recordings", 0.8},
		{"parent and child", "/data/cohort1", "/data/cohort1/recordings", 0.8},
		{"no common prefix", "/data/cohort1", "/archive/old", 0.0},
		{"distant cousins capped", "/data/a/b/c/d", "/data/x/y/z/w", 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, PathSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestPathSimilarityIgnoresCase(t *testing.T) {
	assert.InDelta(t, 1.0, PathSimilarity("/Data/Session1", "/data/session1"), 1e-9)
	assert.InDelta(t, 0.8, PathSimilarity("/Data/Cohort1/Notes", "/data/cohort1/recordings"), 1e-9)
}

func TestPathSimilaritySymmetric(t *testing.T) {
	pairs := [][2]string{
		{"/data/cohort1/notes", "/data/cohort1/recordings"},
		{"/data/a/b/c", "/data/a"},
		{"/x", "/y"},
	}
	for _, p := range pairs {
		assert.Equal(t, PathSimilarity(p[0], p[1]), PathSimilarity(p[1], p[0]))
	}
}

func TestPathSimilarityBounded(t *testing.T) {
	paths := []string{"/a", "/a/b", "/a/b/c/d/e", "/z/y/x", "/a/b/c"}
	for _, a := range paths {
		for _, b := range paths {
			sim := PathSimilarity(a, b)
			assert.GreaterOrEqual(t, sim, 0.0)
			assert.LessOrEqual(t, sim, 1.0)
		}
	}
}

func file(name, parent string) *types.FileRecord {
	ext := ""
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			ext = name[i:]
			break
		}
	}
	return &types.FileRecord{
		ID:         name,
		Name:       name,
		Ext:        ext,
		Path:       parent + "/" + name,
		ParentPath: parent,
	}
}

func TestMatchReferencesExactName(t *testing.T) {
	files := []*types.FileRecord{
		file("20231104_mouse41_024.abf", "/data/recordings"),
		file("20231104_mouse41_025.abf", "/data/recordings"),
	}
	refs := []handlers.ReferenceContext{
		{Reference: "20231104_mouse41_024.abf", ReferenceType: "filename", Confidence: 0.9},
	}

	matches := MatchReferences(refs, files, "/data/notes")
	if assert.Len(t, matches, 1) {
		assert.Equal(t, "20231104_mouse41_024.abf", matches[0].Target.Name)
		assert.Equal(t, "exact_name", matches[0].MatchKind)
		assert.InDelta(t, 0.95, matches[0].Confidence, 1e-9)
	}
}

func TestMatchReferencesStem(t *testing.T) {
	files := []*types.FileRecord{file("20231104_mouse41_024.abf", "/data")}
	refs := []handlers.ReferenceContext{
		{Reference: "20231104_mouse41_024", ReferenceType: "filename", Confidence: 0.9},
	}

	matches := MatchReferences(refs, files, "/data")
	if assert.Len(t, matches, 1) {
		assert.Equal(t, "stem", matches[0].MatchKind)
		assert.InDelta(t, 0.9, matches[0].Confidence, 1e-9)
	}
}

func TestMatchReferencesShortSuffixScalesWithPath(t *testing.T) {
	files := []*types.FileRecord{file("20231104_mouse41_024.abf", "/data/recordings")}
	refs := []handlers.ReferenceContext{
		{Reference: "024", ReferenceType: "short_ref", Confidence: 0.5},
	}

	// Same directory: full path-similarity bonus.
	matches := MatchReferences(refs, files, "/data/recordings")
	if assert.Len(t, matches, 1) {
		assert.Equal(t, "suffix", matches[0].MatchKind)
		assert.InDelta(t, 0.6+1.0*0.2, matches[0].Confidence, 1e-9)
	}

	// Sibling directory: reduced bonus.
	matches = MatchReferences(refs, files, "/data/notes")
	if assert.Len(t, matches, 1) {
		assert.InDelta(t, 0.6+0.8*0.2, matches[0].Confidence, 1e-9)
	}

	// Unrelated directory: the short reference does not resolve at all.
	assert.Empty(t, MatchReferences(refs, files, "/archive/elsewhere"))
}

func TestMatchReferencesNoSuffixMatchForFilenames(t *testing.T) {
	// A full-filename reference must not fall through to suffix matching.
	files := []*types.FileRecord{file("20231104_mouse41_024.abf", "/data")}
	refs := []handlers.ReferenceContext{
		{Reference: "other_024.abf", ReferenceType: "filename", Confidence: 0.9},
	}
	assert.Empty(t, MatchReferences(refs, files, "/data"))
}

func TestFindMatchingReferencesShortRefGatedByPath(t *testing.T) {
	target := file("20231104_mouse41_024.abf", "/data/recordings")
	refs := []handlers.ReferenceContext{
		{Reference: "024", ReferenceType: "short_ref", Confidence: 0.5},
	}

	near := FindMatchingReferences(target, refs, "/data/recordings")
	if assert.Len(t, near, 1) {
		assert.InDelta(t, 0.6+1.0*0.2, near[0].Confidence, 1e-9)
	}

	far := FindMatchingReferences(target, refs, "/archive/elsewhere")
	assert.Empty(t, far)
}

func TestContextForNoHandler(t *testing.T) {
	registry := handlers.NewRegistry()
	f := file("mystery.bin", "/data")
	ctx := ContextFor(registry, f, "")
	assert.Equal(t, "", ctx.HandlerName)
	assert.Empty(t, ctx.References)
}

func TestContextForTextFile(t *testing.T) {
	registry := handlers.NewDefaultRegistry()
	f := file("notes.txt", "/data/notes")
	ctx := ContextFor(registry, f, "Recorded 20231104_mouse41_024.abf today, mouse 4105 looked healthy.")

	assert.Equal(t, "generic_text", ctx.HandlerName)
	if assert.NotEmpty(t, ctx.References) {
		assert.Equal(t, "20231104_mouse41_024.abf", ctx.References[0].Reference)
	}
}
