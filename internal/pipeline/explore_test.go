package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

func corpus(counts map[types.FileCategory]int) []*types.FileRecord {
	var out []*types.FileRecord
	for category, n := range counts {
		for i := 0; i < n; i++ {
			out = append(out, &types.FileRecord{
				Path:       "/data/f",
				ParentPath: "/data",
				Category:   category,
			})
		}
	}
	return out
}

func TestRuleBasedExploration(t *testing.T) {
	proposals := ruleBasedExploration(corpus(map[types.FileCategory]int{
		types.CategoryDocuments:    3,
		types.CategorySpreadsheets: 1,
		types.CategoryData:         10,
	}))
	require.Len(t, proposals, 2)
	assert.Equal(t, "Notes to Data", proposals[0].Name)
	assert.Equal(t, types.RelationNotesFor, proposals[0].Relation)
	assert.Equal(t, 0.6, proposals[0].Confidence)
	assert.Equal(t, "Spreadsheet Logs to Data", proposals[1].Name)
	assert.Equal(t, types.RelationLogFor, proposals[1].Relation)
	assert.Equal(t, 0.7, proposals[1].Confidence)
}

func TestRuleBasedExplorationNeedsBothSides(t *testing.T) {
	assert.Empty(t, ruleBasedExploration(corpus(map[types.FileCategory]int{
		types.CategoryData: 10,
	})))
	assert.Empty(t, ruleBasedExploration(corpus(map[types.FileCategory]int{
		types.CategoryDocuments: 3,
	})))
}

func TestExploreStrategiesWithoutLLM(t *testing.T) {
	eng, _ := newTestEngine(t, 0)
	proposals, err := eng.ExploreStrategies(context.Background(), nil, corpus(map[types.FileCategory]int{
		types.CategoryDocuments: 2,
		types.CategoryData:      5,
	}))
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, "Notes to Data", proposals[0].Name)
}

func TestStrategyFromProposal(t *testing.T) {
	p := types.StrategyProposal{
		Name:             "Derived to Raw",
		Description:      "Link analysis outputs to their source recordings",
		SrcFolderPattern: "*.npz",
		DstFolderPattern: "*.abf",
		Relation:         types.RelationAnalysisOf,
		FeatureWeights:   map[string]float64{"evidence_strength": 0.4},
		TokenPatterns:    map[string]string{"date": `(\d{6})`},
	}
	st := StrategyFromProposal(p)
	assert.Equal(t, p.Name, st.Name)
	assert.Equal(t, p.SrcFolderPattern, st.SrcPattern)
	assert.Equal(t, p.DstFolderPattern, st.DstPattern)
	assert.Equal(t, p.Relation, st.Relation)
	assert.Equal(t, p.FeatureWeights, st.Weights)
	assert.Equal(t, p.TokenPatterns, st.TokenPatterns)
}

func TestSummarizeCorpus(t *testing.T) {
	files := []*types.FileRecord{
		{Path: "/data/a.abf", ParentPath: "/data", Category: types.CategoryData},
		{Path: "/data/b.abf", ParentPath: "/data", Category: types.CategoryData},
		{Path: "/notes/n.txt", ParentPath: "/notes", Category: types.CategoryDocuments},
		{Path: "/data", ParentPath: "/", IsDir: true},
	}
	summary := summarizeCorpus(files)
	assert.Contains(t, summary, "data: 2")
	assert.Contains(t, summary, "documents: 1")
	assert.Contains(t, summary, "/data (2 files)")
}

func TestProgressCounters(t *testing.T) {
	var callbacks int
	p := NewProgress(func(Snapshot) { callbacks++ })

	p.addFile(3)
	p.addFile(0)
	p.addCandidate()
	p.addCandidate()
	p.recordRouting(1, 2)

	snap := p.Snapshot()
	assert.Equal(t, 2, snap.FilesProcessed)
	assert.Equal(t, 3, snap.ReferencesFound)
	assert.Equal(t, 2, snap.CandidatesGenerated)
	assert.Equal(t, 1, snap.AutoAccepted)
	assert.Equal(t, 2, snap.NeedsReview)
	assert.Equal(t, 2, callbacks)
}

func TestProgressNilSafe(t *testing.T) {
	var p *Progress
	p.addFile(1)
	p.addCandidate()
	p.recordRouting(1, 1)
}
