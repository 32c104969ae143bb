package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "labindex.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testFile(path string) *types.FileRecord {
	return &types.FileRecord{
		RootID:     "root-1",
		Path:       path,
		ParentPath: filepath.Dir(path),
		Name:       filepath.Base(path),
		Ext:        filepath.Ext(path),
		SizeBytes:  1024,
		MTime:      time.Date(2023, 11, 4, 12, 0, 0, 0, time.UTC),
		Status:     "inventory_ok",
	}
}

func TestUpsertFileKeepsIDAcrossRescans(t *testing.T) {
	s := newTestStore(t)

	f := testFile("/data/20231104_mouse41_024.abf")
	if err := s.UpsertFile(f); err != nil {
		t.Fatalf("UpsertFile() error = %v", err)
	}
	if f.ID == "" {
		t.Fatal("UpsertFile() did not assign an ID")
	}
	firstID := f.ID

	// Rescan: same path, new size, no ID.
	again := testFile("/data/20231104_mouse41_024.abf")
	again.SizeBytes = 2048
	if err := s.UpsertFile(again); err != nil {
		t.Fatalf("UpsertFile() rescan error = %v", err)
	}

	got, err := s.GetFileByPath("/data/20231104_mouse41_024.abf")
	if err != nil {
		t.Fatalf("GetFileByPath() error = %v", err)
	}
	if got.ID != firstID {
		t.Errorf("file ID changed on rescan: got %s, want %s", got.ID, firstID)
	}
	if got.SizeBytes != 2048 {
		t.Errorf("SizeBytes = %d, want 2048", got.SizeBytes)
	}
	if got.Category != types.CategoryData {
		t.Errorf("Category = %s, want %s", got.Category, types.CategoryData)
	}
}

func TestListFilesByCategory(t *testing.T) {
	s := newTestStore(t)

	for _, path := range []string{"/data/a.abf", "/data/b.csv", "/data/notes.txt"} {
		if err := s.UpsertFile(testFile(path)); err != nil {
			t.Fatalf("UpsertFile(%s) error = %v", path, err)
		}
	}

	all, err := s.ListFiles("")
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListFiles(\"\") returned %d files, want 3", len(all))
	}
	if all[0].Path != "/data/a.abf" {
		t.Errorf("files not ordered by path: first is %s", all[0].Path)
	}

	data, err := s.ListFiles(types.CategoryData)
	if err != nil {
		t.Fatalf("ListFiles(data) error = %v", err)
	}
	if len(data) != 1 || data[0].Name != "a.abf" {
		t.Errorf("ListFiles(data) = %v, want just a.abf", data)
	}
}

func TestUpsertCandidateRescoresOnlyPending(t *testing.T) {
	s := newTestStore(t)

	c := &types.CandidateEdge{
		StrategyID: "strat-1",
		SrcID:      "src-1",
		DstID:      "dst-1",
		Relation:   types.RelationNotesFor,
		Confidence: 0.6,
		Evidence:   map[string]interface{}{"type": "explicit_mention"},
	}
	if err := s.UpsertCandidate(c); err != nil {
		t.Fatalf("UpsertCandidate() error = %v", err)
	}

	// Pending candidates are rescored in place.
	rescored := &types.CandidateEdge{
		StrategyID: "strat-1",
		SrcID:      "src-1",
		DstID:      "dst-1",
		Relation:   types.RelationNotesFor,
		Confidence: 0.8,
	}
	if err := s.UpsertCandidate(rescored); err != nil {
		t.Fatalf("UpsertCandidate() rescore error = %v", err)
	}

	got, err := s.GetCandidate(c.ID)
	if err != nil {
		t.Fatalf("GetCandidate() error = %v", err)
	}
	if got.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8 after rescore", got.Confidence)
	}

	// Once reviewed, the candidate is frozen.
	if err := s.UpdateCandidateStatus(c.ID, types.CandidateAccepted, "human"); err != nil {
		t.Fatalf("UpdateCandidateStatus() error = %v", err)
	}
	frozen := &types.CandidateEdge{
		StrategyID: "strat-1",
		SrcID:      "src-1",
		DstID:      "dst-1",
		Relation:   types.RelationNotesFor,
		Confidence: 0.2,
	}
	if err := s.UpsertCandidate(frozen); err != nil {
		t.Fatalf("UpsertCandidate() after review error = %v", err)
	}

	got, err = s.GetCandidate(c.ID)
	if err != nil {
		t.Fatalf("GetCandidate() error = %v", err)
	}
	if got.Confidence != 0.8 {
		t.Errorf("reviewed candidate rescored: Confidence = %v, want 0.8", got.Confidence)
	}
	if got.Status != types.CandidateAccepted {
		t.Errorf("Status = %s, want accepted", got.Status)
	}
}

func TestUpsertCandidateAdoptsSurvivingRowID(t *testing.T) {
	s := newTestStore(t)

	first := &types.CandidateEdge{
		StrategyID: "strat-1",
		SrcID:      "src-1",
		DstID:      "dst-1",
		Relation:   types.RelationNotesFor,
		Confidence: 0.6,
	}
	if err := s.UpsertCandidate(first); err != nil {
		t.Fatalf("UpsertCandidate() error = %v", err)
	}

	// A rerun generates the same pair under a fresh UUID; the conflict
	// clause keeps the original row, so the rerun's candidate must come
	// back holding the surviving ID.
	rerun := &types.CandidateEdge{
		StrategyID: "strat-1",
		SrcID:      "src-1",
		DstID:      "dst-1",
		Relation:   types.RelationNotesFor,
		Confidence: 0.7,
	}
	if err := s.UpsertCandidate(rerun); err != nil {
		t.Fatalf("UpsertCandidate() rerun error = %v", err)
	}
	if rerun.ID != first.ID {
		t.Errorf("rerun ID = %s, want surviving row %s", rerun.ID, first.ID)
	}
	if rerun.Confidence != 0.7 {
		t.Errorf("rerun Confidence = %v, want 0.7", rerun.Confidence)
	}

	// The returned ID must be usable for follow-up review operations.
	if err := s.UpdateCandidateStatus(rerun.ID, types.CandidateNeedsAudit, "router"); err != nil {
		t.Fatalf("UpdateCandidateStatus(%s) error = %v", rerun.ID, err)
	}

	// A frozen row still hands back its status and confidence.
	frozen := &types.CandidateEdge{
		StrategyID: "strat-1",
		SrcID:      "src-1",
		DstID:      "dst-1",
		Relation:   types.RelationNotesFor,
		Confidence: 0.2,
	}
	if err := s.UpsertCandidate(frozen); err != nil {
		t.Fatalf("UpsertCandidate() frozen error = %v", err)
	}
	if frozen.ID != first.ID {
		t.Errorf("frozen ID = %s, want %s", frozen.ID, first.ID)
	}
	if frozen.Status != types.CandidateNeedsAudit {
		t.Errorf("frozen Status = %s, want needs_audit", frozen.Status)
	}
	if frozen.Confidence != 0.7 {
		t.Errorf("frozen Confidence = %v, want 0.7 kept", frozen.Confidence)
	}
}

func TestUpdateCandidateStatusMissing(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpdateCandidateStatus("nope", types.CandidateAccepted, "human"); err == nil {
		t.Error("UpdateCandidateStatus() on missing candidate should error")
	}
}

func TestCandidateEvidenceRoundTrip(t *testing.T) {
	s := newTestStore(t)

	c := &types.CandidateEdge{
		StrategyID: "strat-1",
		SrcID:      "src-1",
		DstID:      "dst-1",
		Relation:   types.RelationLogFor,
		Confidence: 0.7,
		Evidence: map[string]interface{}{
			"type":      "column_cell",
			"reference": "024.abf",
		},
	}
	if err := s.UpsertCandidate(c); err != nil {
		t.Fatalf("UpsertCandidate() error = %v", err)
	}

	got, err := s.GetCandidate(c.ID)
	if err != nil {
		t.Fatalf("GetCandidate() error = %v", err)
	}
	if got.EvidenceType() != "column_cell" {
		t.Errorf("EvidenceType() = %q, want column_cell", got.EvidenceType())
	}
	if got.Evidence["reference"] != "024.abf" {
		t.Errorf("Evidence[reference] = %v, want 024.abf", got.Evidence["reference"])
	}
}

func TestCandidatesForDstOrderedByConfidence(t *testing.T) {
	s := newTestStore(t)

	for i, conf := range []float64{0.4, 0.9, 0.6} {
		c := &types.CandidateEdge{
			StrategyID: "strat-1",
			SrcID:      "src-" + string(rune('a'+i)),
			DstID:      "dst-shared",
			Relation:   types.RelationNotesFor,
			Confidence: conf,
		}
		if err := s.UpsertCandidate(c); err != nil {
			t.Fatalf("UpsertCandidate() error = %v", err)
		}
	}

	got, err := s.CandidatesForDst("dst-shared")
	if err != nil {
		t.Fatalf("CandidatesForDst() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	if got[0].Confidence != 0.9 || got[1].Confidence != 0.6 || got[2].Confidence != 0.4 {
		t.Errorf("candidates not ordered by confidence: %v, %v, %v",
			got[0].Confidence, got[1].Confidence, got[2].Confidence)
	}
}

func TestListCandidatesByStatus(t *testing.T) {
	s := newTestStore(t)

	a := &types.CandidateEdge{StrategyID: "s", SrcID: "s1", DstID: "d1", Relation: "r", Confidence: 0.5}
	b := &types.CandidateEdge{StrategyID: "s", SrcID: "s2", DstID: "d2", Relation: "r", Confidence: 0.5}
	for _, c := range []*types.CandidateEdge{a, b} {
		if err := s.UpsertCandidate(c); err != nil {
			t.Fatalf("UpsertCandidate() error = %v", err)
		}
	}
	if err := s.UpdateCandidateStatus(a.ID, types.CandidateNeedsAudit, "router"); err != nil {
		t.Fatalf("UpdateCandidateStatus() error = %v", err)
	}

	audit, err := s.ListCandidates(types.CandidateNeedsAudit, 0)
	if err != nil {
		t.Fatalf("ListCandidates() error = %v", err)
	}
	if len(audit) != 1 || audit[0].ID != a.ID {
		t.Errorf("ListCandidates(needs_audit) = %d candidates, want just %s", len(audit), a.ID)
	}

	pending, err := s.ListCandidates(types.CandidatePending, 0)
	if err != nil {
		t.Fatalf("ListCandidates() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != b.ID {
		t.Errorf("ListCandidates(pending) = %d candidates, want just %s", len(pending), b.ID)
	}
}

func TestUpsertEdgeKeepsMaxConfidence(t *testing.T) {
	s := newTestStore(t)

	e := &types.Edge{SrcID: "src-1", DstID: "dst-1", Relation: types.RelationNotesFor, Confidence: 0.95, CreatedBy: "auto:high_confidence"}
	if err := s.UpsertEdge(e); err != nil {
		t.Fatalf("UpsertEdge() error = %v", err)
	}
	lower := &types.Edge{SrcID: "src-1", DstID: "dst-1", Relation: types.RelationNotesFor, Confidence: 0.80, CreatedBy: "auditor:rules"}
	if err := s.UpsertEdge(lower); err != nil {
		t.Fatalf("UpsertEdge() second error = %v", err)
	}

	edges, err := s.EdgesFrom("src-1")
	if err != nil {
		t.Fatalf("EdgesFrom() error = %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("got %d edges, want 1", len(edges))
	}
	if edges[0].Confidence != 0.95 {
		t.Errorf("Confidence = %v, want max 0.95 kept", edges[0].Confidence)
	}
	if edges[0].CreatedBy != "auditor:rules" {
		t.Errorf("CreatedBy = %q, want latest writer recorded", edges[0].CreatedBy)
	}
}

func TestLinkedDstIDs(t *testing.T) {
	s := newTestStore(t)

	for _, dst := range []string{"dst-1", "dst-2", "dst-1"} {
		e := &types.Edge{SrcID: "src-" + dst, DstID: dst, Relation: types.RelationNotesFor, Confidence: 0.9}
		if err := s.UpsertEdge(e); err != nil {
			t.Fatalf("UpsertEdge() error = %v", err)
		}
	}

	linked, err := s.LinkedDstIDs()
	if err != nil {
		t.Fatalf("LinkedDstIDs() error = %v", err)
	}
	if len(linked) != 2 || !linked["dst-1"] || !linked["dst-2"] {
		t.Errorf("LinkedDstIDs() = %v, want {dst-1, dst-2}", linked)
	}
}

func TestSaveStrategyVersioning(t *testing.T) {
	s := newTestStore(t)

	v1 := &types.LinkerStrategy{
		Name:       "Notes to Data",
		SrcPattern: "*.txt",
		DstPattern: "*.abf",
		Relation:   types.RelationNotesFor,
	}
	if err := s.SaveStrategy(v1); err != nil {
		t.Fatalf("SaveStrategy() v1 error = %v", err)
	}
	if v1.Version != 1 {
		t.Errorf("first save Version = %d, want 1", v1.Version)
	}

	v2 := &types.LinkerStrategy{
		Name:       "Notes to Data",
		SrcPattern: "*.txt",
		DstPattern: "*.abf",
		Relation:   types.RelationNotesFor,
		Weights:    map[string]float64{"evidence_strength": 0.4},
	}
	if err := s.SaveStrategy(v2); err != nil {
		t.Fatalf("SaveStrategy() v2 error = %v", err)
	}
	if v2.Version != 2 {
		t.Errorf("second save Version = %d, want 2", v2.Version)
	}

	active, err := s.ActiveStrategies()
	if err != nil {
		t.Fatalf("ActiveStrategies() error = %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("got %d active strategies, want 1", len(active))
	}
	if active[0].ID != v2.ID || active[0].Version != 2 {
		t.Errorf("active strategy is version %d (%s), want version 2 (%s)",
			active[0].Version, active[0].ID, v2.ID)
	}
	if active[0].Weights["evidence_strength"] != 0.4 {
		t.Errorf("Weights did not round-trip: %v", active[0].Weights)
	}

	old, err := s.GetStrategy(v1.ID)
	if err != nil {
		t.Fatalf("GetStrategy() error = %v", err)
	}
	if old.Active {
		t.Error("version 1 still active after saving version 2")
	}
}

func TestActivateStrategyRestoresOldVersion(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 2; i++ {
		st := &types.LinkerStrategy{
			Name:       "Notes to Data",
			SrcPattern: "*.txt",
			DstPattern: "*.abf",
			Relation:   types.RelationNotesFor,
		}
		if err := s.SaveStrategy(st); err != nil {
			t.Fatalf("SaveStrategy() error = %v", err)
		}
	}

	if err := s.ActivateStrategy("Notes to Data", 1); err != nil {
		t.Fatalf("ActivateStrategy() error = %v", err)
	}

	active, err := s.ActiveStrategies()
	if err != nil {
		t.Fatalf("ActiveStrategies() error = %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("got %d active strategies, want 1", len(active))
	}
	if active[0].Version != 1 {
		t.Errorf("active Version = %d, want 1", active[0].Version)
	}

	if err := s.ActivateStrategy("Notes to Data", 9); err == nil {
		t.Error("ActivateStrategy() with missing version should error")
	}
	if err := s.ActivateStrategy("No Such Strategy", 1); err == nil {
		t.Error("ActivateStrategy() with unknown name should error")
	}
}

func TestSaveStrategyRequiresName(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveStrategy(&types.LinkerStrategy{}); err == nil {
		t.Error("SaveStrategy() with empty name should error")
	}
}

func TestStrategyPerformanceRollup(t *testing.T) {
	s := newTestStore(t)

	statuses := []types.CandidateStatus{
		types.CandidateAccepted, types.CandidateAccepted, types.CandidateAccepted,
		types.CandidateRejected,
		types.CandidatePending,
		types.CandidateNeedsAudit,
	}
	for i, status := range statuses {
		c := &types.CandidateEdge{
			StrategyID: "strat-1",
			SrcID:      "src-" + string(rune('a'+i)),
			DstID:      "dst-" + string(rune('a'+i)),
			Relation:   "r",
			Confidence: 0.5,
		}
		if err := s.UpsertCandidate(c); err != nil {
			t.Fatalf("UpsertCandidate() error = %v", err)
		}
		if status != types.CandidatePending {
			if err := s.UpdateCandidateStatus(c.ID, status, "test"); err != nil {
				t.Fatalf("UpdateCandidateStatus() error = %v", err)
			}
		}
	}

	perf, err := s.StrategyPerformance("strat-1")
	if err != nil {
		t.Fatalf("StrategyPerformance() error = %v", err)
	}
	if perf.Total != 6 || perf.Accepted != 3 || perf.Rejected != 1 || perf.Pending != 1 || perf.NeedsAudit != 1 {
		t.Errorf("rollup = %+v, want total 6, accepted 3, rejected 1, pending 1, needs_audit 1", perf)
	}
	if perf.Precision != 0.75 {
		t.Errorf("Precision = %v, want 0.75", perf.Precision)
	}
}

func TestAuditHistory(t *testing.T) {
	s := newTestStore(t)

	for _, verdict := range []types.AuditVerdict{types.VerdictNeedsMoreInfo, types.VerdictAccept} {
		a := &types.Audit{
			CandidateID:   "cand-1",
			Verdict:       verdict,
			Confidence:    0.8,
			Reasoning:     "because",
			NextSteps:     []string{"compare timestamps"},
			GatingReason:  "tie",
			Model:         "rules",
			PromptVersion: "1.0",
		}
		if err := s.AddAudit(a); err != nil {
			t.Fatalf("AddAudit() error = %v", err)
		}
	}

	audits, err := s.AuditsForCandidate("cand-1")
	if err != nil {
		t.Fatalf("AuditsForCandidate() error = %v", err)
	}
	if len(audits) != 2 {
		t.Fatalf("got %d audits, want 2", len(audits))
	}
	if audits[0].Verdict != types.VerdictNeedsMoreInfo || audits[1].Verdict != types.VerdictAccept {
		t.Errorf("audits out of order: %s then %s", audits[0].Verdict, audits[1].Verdict)
	}
	if len(audits[0].NextSteps) != 1 || audits[0].NextSteps[0] != "compare timestamps" {
		t.Errorf("NextSteps did not round-trip: %v", audits[0].NextSteps)
	}
	if audits[0].PromptVersion != "1.0" {
		t.Errorf("PromptVersion = %q, want 1.0", audits[0].PromptVersion)
	}
}

func TestLabels(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetLabel("cand-1", "maybe", "human"); err == nil {
		t.Error("SetLabel() with invalid label should error")
	}
	if err := s.SetLabel("cand-1", "accept", "human"); err != nil {
		t.Fatalf("SetLabel() error = %v", err)
	}
	// Relabeling replaces, not appends.
	if err := s.SetLabel("cand-1", "reject", "human"); err != nil {
		t.Fatalf("SetLabel() relabel error = %v", err)
	}

	labels, err := s.Labels()
	if err != nil {
		t.Fatalf("Labels() error = %v", err)
	}
	if len(labels) != 1 {
		t.Fatalf("got %d labels, want 1", len(labels))
	}
	if labels[0].Label != "reject" || labels[0].LabeledBy != "human" {
		t.Errorf("label = %+v, want reject by human", labels[0])
	}
}

func TestClosedStoreIsSafe(t *testing.T) {
	var s *Store
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil store error = %v", err)
	}
	if err := s.UpsertFile(testFile("/data/a.abf")); err == nil {
		t.Error("UpsertFile() on nil store should error")
	}
}
