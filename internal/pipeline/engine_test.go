package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/classifier"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/features"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/router"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/store"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

func newTestEngine(t *testing.T, llmBudget int) (*Engine, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "labindex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	trainer := classifier.NewTrainer(classifier.DefaultConfig(), filepath.Join(dir, "model.json"))
	eng, err := New(st, nil, router.DefaultThresholds(), llmBudget, trainer)
	require.NoError(t, err)
	return eng, st
}

func addCorpusFile(t *testing.T, st *store.Store, path string, ts time.Time) *types.FileRecord {
	t.Helper()
	f := &types.FileRecord{
		RootID:     "root-1",
		Path:       path,
		ParentPath: filepath.Dir(path),
		Name:       filepath.Base(path),
		Ext:        filepath.Ext(path),
		SizeBytes:  256,
		MTime:      ts,
		CTime:      ts,
	}
	require.NoError(t, st.UpsertFile(f))
	return f
}

func readerFor(contents map[string]string) ContentReader {
	return func(f *types.FileRecord) (string, error) {
		return contents[f.Path], nil
	}
}

// A note that names a recording outright, with matching animal and date
// context, should clear the auto-accept bar without any audit.
func TestExplicitNoteMentionAutoAccepts(t *testing.T) {
	eng, st := newTestEngine(t, 10)
	base := time.Date(2023, 11, 4, 9, 0, 0, 0, time.UTC)

	note := addCorpusFile(t, st, "/data/notes.txt", base.Add(2*time.Hour))
	rec := addCorpusFile(t, st, "/data/20231104_mouse41_024.abf", base)

	eng.SetContentReader(readerFor(map[string]string{
		note.Path: "Mouse 4105, 2023-11-04\nRecorded 20231104_mouse41_024.abf after induction.\nAll good.",
	}))

	strategy := &types.LinkerStrategy{
		Name:       "Notes to Data",
		SrcPattern: "*.txt",
		DstPattern: "*.abf",
		Relation:   types.RelationNotesFor,
	}
	require.NoError(t, st.SaveStrategy(strategy))

	summary, err := eng.RunFullPipeline(context.Background(), []*types.FileRecord{note, rec}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Strategies)
	assert.Equal(t, 1, summary.FilesProcessed)
	assert.Equal(t, 1, summary.ReferencesFound)
	assert.Equal(t, 1, summary.CandidatesGenerated)
	assert.Equal(t, 1, summary.AutoAccepted)
	assert.Zero(t, summary.NeedsAudit)

	edges, err := st.EdgesFrom(note.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, rec.ID, edges[0].DstID)
	assert.Equal(t, types.RelationNotesFor, edges[0].Relation)
	assert.GreaterOrEqual(t, edges[0].Confidence, 0.9)
	assert.Equal(t, "auto:high_confidence", edges[0].CreatedBy)

	accepted, err := st.ListCandidates(types.CandidateAccepted, 0)
	require.NoError(t, err)
	assert.Len(t, accepted, 1)
}

// A bare 3-digit reference matching two recordings in different sessions
// is mid-confidence, inferred evidence: both candidates get gated for
// audit and the rules leave them for a human.
func TestAmbiguousShortRefGetsAudited(t *testing.T) {
	eng, st := newTestEngine(t, 10)
	base := time.Date(2023, 11, 4, 9, 0, 0, 0, time.UTC)

	note := addCorpusFile(t, st, "/data/notes.txt", base.Add(time.Hour))
	d1 := addCorpusFile(t, st, "/data/day1/20231104_mouse41_024.abf", base)
	d2 := addCorpusFile(t, st, "/data/day2/20231105_mouse42_024.abf", base)

	eng.SetContentReader(readerFor(map[string]string{
		note.Path: "Mouse 4107, 2023-11-04\nbaseline run 024 looked clean",
	}))

	strategy := &types.LinkerStrategy{
		ID:         "strat-short",
		Name:       "Notes to Data",
		SrcPattern: "*.txt",
		DstPattern: "*.abf",
		Relation:   types.RelationNotesFor,
	}
	candidates, err := eng.GenerateCandidates(context.Background(), strategy, []*types.FileRecord{note, d1, d2}, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	result, err := eng.ReviewCandidates(context.Background(), candidates)
	require.NoError(t, err)

	assert.Len(t, result.NeedsAudit, 2)
	assert.Empty(t, result.AutoAccepted)
	assert.Empty(t, result.AutoRejected)

	for _, c := range candidates {
		got, err := st.GetCandidate(c.ID)
		require.NoError(t, err)
		assert.Equal(t, types.CandidateNeedsAudit, got.Status)

		audits, err := st.AuditsForCandidate(c.ID)
		require.NoError(t, err)
		require.Len(t, audits, 1)
		assert.Equal(t, types.VerdictNeedsMoreInfo, audits[0].Verdict)
		assert.Equal(t, "rules", audits[0].Model)
	}

	edges, err := st.EdgesFrom(note.ID)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

// Two notes pointing the same bare run number at one recording: both
// carry the one-to-one conflict penalty and get gated, then the rule
// audit accepts the note closest to the recording and rejects the other.
func TestConflictingCandidatesResolvedByAudit(t *testing.T) {
	eng, st := newTestEngine(t, 10)
	base := time.Date(2023, 11, 4, 9, 0, 0, 0, time.UTC)

	near := addCorpusFile(t, st, "/data/notes_a.txt", base.Add(time.Hour))
	far := addCorpusFile(t, st, "/data/sub/notes_b.txt", base.Add(2*time.Hour))
	rec := addCorpusFile(t, st, "/data/20231104_mouse41_024.abf", base)

	eng.SetContentReader(readerFor(map[string]string{
		near.Path: "baseline run 024 looked clean",
		far.Path:  "second look at run 024 later that day",
	}))

	strategy := &types.LinkerStrategy{
		ID:         "strat-conflict",
		Name:       "Notes to Data",
		SrcPattern: "*.txt",
		DstPattern: "*.abf",
		Relation:   types.RelationNotesFor,
	}
	candidates, err := eng.GenerateCandidates(context.Background(), strategy, []*types.FileRecord{near, far, rec}, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, near.ID, candidates[0].SrcID)

	// Path-scaled short-ref confidence minus the one-to-one penalty.
	assert.InDelta(t, 0.70, candidates[0].Confidence, 1e-9)
	assert.InDelta(t, 0.66, candidates[1].Confidence, 1e-9)
	for _, c := range candidates {
		assert.Equal(t, true, c.Evidence["violates_one_to_one"])
	}

	result, err := eng.ReviewCandidates(context.Background(), candidates)
	require.NoError(t, err)
	assert.Equal(t, []string{candidates[0].ID, candidates[1].ID}, result.NeedsAudit)

	got, err := st.GetCandidate(candidates[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.CandidateAccepted, got.Status)

	edges, err := st.EdgesFrom(near.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, rec.ID, edges[0].DstID)
	assert.Equal(t, "auditor:rules", edges[0].CreatedBy)

	other, err := st.GetCandidate(candidates[1].ID)
	require.NoError(t, err)
	assert.Equal(t, types.CandidateRejected, other.Status)

	farEdges, err := st.EdgesFrom(far.ID)
	require.NoError(t, err)
	assert.Empty(t, farEdges)
}

// A derived analysis file naming its raw recording in a source pointer
// resolves at near-certain confidence and auto-accepts without an audit.
func TestSourcePointerCandidateAutoAccepts(t *testing.T) {
	eng, st := newTestEngine(t, 10)
	base := time.Date(2023, 11, 4, 9, 0, 0, 0, time.UTC)

	derived := addCorpusFile(t, st, "/data/analysis_024.npz", base.Add(3*time.Hour))
	raw := addCorpusFile(t, st, "/data/20231104_mouse41_024.abf", base)

	eng.SetContentReader(readerFor(map[string]string{
		derived.Path: "Original Data File: 20231104_mouse41_024.abf",
	}))

	strategy := &types.LinkerStrategy{
		ID:         "strat-derived",
		Name:       "Derived to Raw",
		SrcPattern: "*.npz",
		DstPattern: "*.abf",
		Relation:   types.RelationAnalysisOf,
	}
	candidates, err := eng.GenerateCandidates(context.Background(), strategy, []*types.FileRecord{derived, raw}, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "explicit_mention", candidates[0].EvidenceType())
	assert.GreaterOrEqual(t, candidates[0].Confidence, 0.95)

	result, err := eng.ReviewCandidates(context.Background(), candidates)
	require.NoError(t, err)
	assert.Equal(t, []string{candidates[0].ID}, result.AutoAccepted)
	assert.Empty(t, result.NeedsAudit)

	edges, err := st.EdgesFrom(derived.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, raw.ID, edges[0].DstID)
	assert.Equal(t, types.RelationAnalysisOf, edges[0].Relation)
	assert.GreaterOrEqual(t, edges[0].Confidence, 0.95)
	assert.Equal(t, "auto:high_confidence", edges[0].CreatedBy)
}

// A spreadsheet cell reference carries its column header all the way into
// the persisted feature vector.
func TestSpreadsheetColumnHeaderFlowsToFeatures(t *testing.T) {
	eng, st := newTestEngine(t, 0)
	base := time.Date(2023, 11, 4, 9, 0, 0, 0, time.UTC)

	sheet := addCorpusFile(t, st, "/data/experiment_log.csv", base.Add(time.Hour))
	rec := addCorpusFile(t, st, "/data/20231104_mouse41_024.abf", base)

	eng.SetContentReader(readerFor(map[string]string{
		sheet.Path: "Pleth File,Animal ID,Date\n20231104_mouse41_024.abf,4105,2023-11-04",
	}))

	strategy := &types.LinkerStrategy{
		ID:         "strat-log",
		Name:       "Spreadsheet Logs to Data",
		SrcPattern: "*.csv",
		DstPattern: "*.abf",
		Relation:   types.RelationLogFor,
	}
	candidates, err := eng.GenerateCandidates(context.Background(), strategy, []*types.FileRecord{sheet, rec}, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	v := vectorFromEvidence(candidates[0])
	require.NotNil(t, v)
	assert.Equal(t, 1.0, v.HasCanonicalColumnMatch)
	assert.Equal(t, 1.0, v.ColumnHeaderSimilarity)
}

// With a zero LLM budget nothing is marked needs_audit: gated candidates
// fall through to the human review queue and stay pending.
func TestZeroBudgetSendsGatedToHumans(t *testing.T) {
	eng, st := newTestEngine(t, 0)
	base := time.Date(2023, 11, 4, 9, 0, 0, 0, time.UTC)

	note := addCorpusFile(t, st, "/data/notes.txt", base.Add(time.Hour))
	d1 := addCorpusFile(t, st, "/data/day1/20231104_mouse41_024.abf", base)
	d2 := addCorpusFile(t, st, "/data/day2/20231105_mouse42_024.abf", base)

	eng.SetContentReader(readerFor(map[string]string{
		note.Path: "Mouse 4107, 2023-11-04\nbaseline run 024 looked clean",
	}))

	strategy := &types.LinkerStrategy{
		ID:         "strat-budget",
		Name:       "Notes to Data",
		SrcPattern: "*.txt",
		DstPattern: "*.abf",
		Relation:   types.RelationNotesFor,
	}
	candidates, err := eng.GenerateCandidates(context.Background(), strategy, []*types.FileRecord{note, d1, d2}, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	result, err := eng.ReviewCandidates(context.Background(), candidates)
	require.NoError(t, err)

	assert.Empty(t, result.NeedsAudit)
	assert.Len(t, result.NeedsHumanReview, 2)

	for _, c := range candidates {
		got, err := st.GetCandidate(c.ID)
		require.NoError(t, err)
		assert.Equal(t, types.CandidatePending, got.Status)

		audits, err := st.AuditsForCandidate(c.ID)
		require.NoError(t, err)
		assert.Empty(t, audits)
	}
}

func TestRunFullPipelineRequiresStrategies(t *testing.T) {
	eng, _ := newTestEngine(t, 10)
	_, err := eng.RunFullPipeline(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active strategies")
}

func TestFilterByPattern(t *testing.T) {
	files := []*types.FileRecord{
		{Path: "/data/lab_notes_day1.txt", Name: "lab_notes_day1.txt"},
		{Path: "/data/rec_024.abf", Name: "rec_024.abf"},
		{Path: "/data/sub", Name: "sub", IsDir: true},
	}

	assert.Len(t, filterByPattern(files, ""), 3)

	txt := filterByPattern(files, "*.txt")
	require.Len(t, txt, 1)
	assert.Equal(t, "lab_notes_day1.txt", txt[0].Name)

	notes := filterByPattern(files, "*notes*")
	require.Len(t, notes, 1)
	assert.Equal(t, "lab_notes_day1.txt", notes[0].Name)

	assert.Empty(t, filterByPattern(files, "*.xlsx"))
}

func TestScorePairExplicitMention(t *testing.T) {
	eng, st := newTestEngine(t, 0)
	base := time.Date(2023, 11, 4, 9, 0, 0, 0, time.UTC)

	note := addCorpusFile(t, st, "/data/notes.txt", base.Add(2*time.Hour))
	rec := addCorpusFile(t, st, "/data/20231104_mouse41_024.abf", base)

	eng.SetContentReader(readerFor(map[string]string{
		note.Path: "Mouse 4105, 2023-11-04\nRecorded 20231104_mouse41_024.abf after induction.\nAll good.",
	}))

	score, err := eng.ScorePair(note, rec)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score.Total, 0.9)
	assert.LessOrEqual(t, score.Total, 1.0)
	assert.NotEmpty(t, score.Breakdown)

	var sawEvidence bool
	for _, c := range score.Breakdown {
		if c.Feature == "evidence_strength" {
			sawEvidence = true
		}
	}
	assert.True(t, sawEvidence, "breakdown should explain the evidence term")
}

func TestScorePairWithoutReferenceIsProximityOnly(t *testing.T) {
	eng, st := newTestEngine(t, 0)
	base := time.Date(2023, 11, 4, 9, 0, 0, 0, time.UTC)

	note := addCorpusFile(t, st, "/archive/notes.txt", base)
	rec := addCorpusFile(t, st, "/data/20231104_mouse41_024.abf", base.AddDate(0, 1, 0))

	eng.SetContentReader(readerFor(map[string]string{
		note.Path: "Nothing relevant in here.",
	}))

	score, err := eng.ScorePair(note, rec)
	require.NoError(t, err)
	assert.Less(t, score.Total, 0.5)
}

func TestMatchGlob(t *testing.T) {
	assert.True(t, matchGlob("*.abf", "rec_024.abf"))
	assert.False(t, matchGlob("*.abf", "notes.txt"))
	// Substring fallback is case-insensitive and crosses separators.
	assert.True(t, matchGlob("*photometry*", "/data/Photometry/run.csv"))
	assert.False(t, matchGlob("*photometry*", "/data/ephys/run.csv"))
}

func TestEvidenceTypeMapping(t *testing.T) {
	assert.Equal(t, "explicit_mention", evidenceTypeFor("filename"))
	assert.Equal(t, "explicit_mention", evidenceTypeFor("source_file"))
	assert.Equal(t, "column_cell", evidenceTypeFor("cell_filename"))
	assert.Equal(t, "column_cell", evidenceTypeFor("cell_short_ref"))
	assert.Equal(t, "inferred_sequence", evidenceTypeFor("short_ref"))
	assert.Equal(t, "proximity_only", evidenceTypeFor("anything_else"))
}

func TestVectorFromEvidenceRoundTrip(t *testing.T) {
	_, st := newTestEngine(t, 0)

	vector := &features.FeatureVector{
		SchemaVersion:    features.SchemaVersion,
		FuzzRatio:        42,
		EvidenceStrength: 0.85,
		SameFolder:       1,
	}
	data, err := json.Marshal(vector)
	require.NoError(t, err)

	c := &types.CandidateEdge{
		StrategyID: "strat-1",
		SrcID:      "src-1",
		DstID:      "dst-1",
		Relation:   types.RelationNotesFor,
		Confidence: 0.6,
		Evidence: map[string]interface{}{
			"type":     "context_reference",
			"features": json.RawMessage(data),
		},
	}
	require.NoError(t, st.UpsertCandidate(c))

	// Through the database the raw JSON becomes a generic map; recovery
	// must survive that.
	got, err := st.GetCandidate(c.ID)
	require.NoError(t, err)

	v := vectorFromEvidence(got)
	require.NotNil(t, v)
	assert.Equal(t, 42.0, v.FuzzRatio)
	assert.Equal(t, 0.85, v.EvidenceStrength)
	assert.Equal(t, 1.0, v.SameFolder)
}

func TestVectorFromEvidenceRejectsOtherSchemas(t *testing.T) {
	c := &types.CandidateEdge{Evidence: map[string]interface{}{
		"features": map[string]interface{}{"schema_version": float64(features.SchemaVersion + 1)},
	}}
	assert.Nil(t, vectorFromEvidence(c))

	assert.Nil(t, vectorFromEvidence(&types.CandidateEdge{}))
	assert.Nil(t, vectorFromEvidence(&types.CandidateEdge{Evidence: map[string]interface{}{}}))
}
