package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/llm"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/logging"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

// Progress tracks a running pipeline pass. Safe for concurrent updates
// from the generation workers.
type Progress struct {
	mu                  sync.Mutex
	FilesProcessed      int     `json:"files_processed"`
	ReferencesFound     int     `json:"references_found"`
	CandidatesGenerated int     `json:"candidates_generated"`
	AutoAccepted        int     `json:"auto_accepted"`
	NeedsReview         int     `json:"needs_review"`
	ElapsedSeconds      float64 `json:"elapsed_seconds"`

	start    time.Time
	callback func(Snapshot)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	FilesProcessed      int
	ReferencesFound     int
	CandidatesGenerated int
	AutoAccepted        int
	NeedsReview         int
	ElapsedSeconds      float64
}

// NewProgress starts a progress tracker. callback may be nil.
func NewProgress(callback func(Snapshot)) *Progress {
	return &Progress{start: time.Now(), callback: callback}
}

func (p *Progress) addFile(references int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.FilesProcessed++
	p.ReferencesFound += references
	snap := p.snapshotLocked()
	cb := p.callback
	p.mu.Unlock()
	if cb != nil {
		cb(snap)
	}
}

func (p *Progress) addCandidate() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.CandidatesGenerated++
	p.mu.Unlock()
}

func (p *Progress) recordRouting(accepted, review int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.AutoAccepted += accepted
	p.NeedsReview += review
	p.mu.Unlock()
}

// Snapshot returns the current counters.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Progress) snapshotLocked() Snapshot {
	return Snapshot{
		FilesProcessed:      p.FilesProcessed,
		ReferencesFound:     p.ReferencesFound,
		CandidatesGenerated: p.CandidatesGenerated,
		AutoAccepted:        p.AutoAccepted,
		NeedsReview:         p.NeedsReview,
		ElapsedSeconds:      time.Since(p.start).Seconds(),
	}
}

const explorationSystemPrompt = `You design linking strategies for a research data corpus.
Given a summary of the corpus, propose strategies that connect related files.
Respond with a JSON array; each element:
{"name": "...", "description": "...", "src_folder_pattern": "glob", "dst_folder_pattern": "glob",
 "relation_type": "...", "feature_weights": {"feature": weight},
 "token_patterns": {"date"|"animal_id"|"chamber": "regex"},
 "confidence": 0.0-1.0, "rationale": "..."}`

// ExploreStrategies asks the LLM to propose linking strategies for the
// corpus. Any LLM or parse failure falls back to the rule-based
// proposals, so exploration always yields something on a non-empty
// corpus.
func (e *Engine) ExploreStrategies(ctx context.Context, client types.LLMClient, files []*types.FileRecord) ([]types.StrategyProposal, error) {
	log := logging.Get(logging.CategoryPipeline)
	summary := summarizeCorpus(files)

	if client != nil && client.Available() {
		reply, err := client.CompleteWithSystem(ctx, explorationSystemPrompt, summary)
		if err == nil {
			var proposals []types.StrategyProposal
			if jerr := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &proposals); jerr == nil && len(proposals) > 0 {
				log.Info("llm proposed %d strategies", len(proposals))
				return proposals, nil
			}
			log.Warn("unparseable exploration response, falling back to rules")
		} else {
			log.Warn("exploration request failed, falling back to rules: %v", err)
		}
	}
	return ruleBasedExploration(files), nil
}

// ruleBasedExploration proposes stock strategies from the categories
// present in the corpus.
func ruleBasedExploration(files []*types.FileRecord) []types.StrategyProposal {
	counts := make(map[types.FileCategory]int)
	for _, f := range files {
		if !f.IsDir {
			counts[f.Category]++
		}
	}

	var proposals []types.StrategyProposal
	if counts[types.CategoryDocuments] > 0 && counts[types.CategoryData] > 0 {
		proposals = append(proposals, types.StrategyProposal{
			Name:             "Notes to Data",
			Description:      "Link free-form notes to the recordings they mention",
			SrcFolderPattern: "*",
			DstFolderPattern: "*",
			Relation:         types.RelationNotesFor,
			Confidence:       0.6,
			Rationale:        "Corpus contains both documents and data files",
		})
	}
	if counts[types.CategorySpreadsheets] > 0 && counts[types.CategoryData] > 0 {
		proposals = append(proposals, types.StrategyProposal{
			Name:             "Spreadsheet Logs to Data",
			Description:      "Link experiment log rows to the recordings they track",
			SrcFolderPattern: "*",
			DstFolderPattern: "*",
			Relation:         types.RelationLogFor,
			Confidence:       0.7,
			Rationale:        "Corpus contains both spreadsheets and data files",
		})
	}
	return proposals
}

// summarizeCorpus renders category counts and sample folders for the
// exploration prompt.
func summarizeCorpus(files []*types.FileRecord) string {
	counts := make(map[types.FileCategory]int)
	folders := make(map[string]int)
	for _, f := range files {
		if f.IsDir {
			continue
		}
		counts[f.Category]++
		folders[f.ParentPath]++
	}

	var b strings.Builder
	b.WriteString("File counts by category:\n")
	cats := make([]string, 0, len(counts))
	for c := range counts {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)
	for _, c := range cats {
		fmt.Fprintf(&b, "  %s: %d\n", c, counts[types.FileCategory(c)])
	}

	names := make([]string, 0, len(folders))
	for f := range folders {
		names = append(names, f)
	}
	sort.Slice(names, func(i, j int) bool {
		if folders[names[i]] != folders[names[j]] {
			return folders[names[i]] > folders[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > 20 {
		names = names[:20]
	}
	b.WriteString("Largest folders:\n")
	for _, f := range names {
		fmt.Fprintf(&b, "  %s (%d files)\n", f, folders[f])
	}
	return b.String()
}

// StrategyFromProposal converts an exploration proposal into a saveable
// strategy.
func StrategyFromProposal(p types.StrategyProposal) *types.LinkerStrategy {
	return &types.LinkerStrategy{
		Name:          p.Name,
		Description:   p.Description,
		SrcPattern:    p.SrcFolderPattern,
		DstPattern:    p.DstFolderPattern,
		Relation:      p.Relation,
		Weights:       p.FeatureWeights,
		TokenPatterns: p.TokenPatterns,
	}
}

// RunSummary reports one full pipeline run.
type RunSummary struct {
	Strategies          int               `json:"strategies"`
	FilesProcessed      int               `json:"files_processed"`
	ReferencesFound     int               `json:"references_found"`
	CandidatesGenerated int               `json:"candidates_generated"`
	AutoAccepted        int               `json:"auto_accepted"`
	NeedsAudit          int               `json:"needs_audit"`
	NeedsHumanReview    int               `json:"needs_human_review"`
	AutoRejected        int               `json:"auto_rejected"`
	PerStrategy         map[string]int    `json:"candidates_per_strategy"`
	ElapsedSeconds      float64           `json:"elapsed_seconds"`
}

// RunFullPipeline generates and reviews candidates for every active
// strategy over the given files.
func (e *Engine) RunFullPipeline(ctx context.Context, files []*types.FileRecord, progress *Progress) (*RunSummary, error) {
	log := logging.Get(logging.CategoryPipeline)
	start := time.Now()

	strategies, err := e.store.ActiveStrategies()
	if err != nil {
		return nil, fmt.Errorf("failed to load strategies: %w", err)
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no active strategies; save or explore strategies first")
	}
	if progress == nil {
		progress = NewProgress(nil)
	}

	summary := &RunSummary{
		Strategies:  len(strategies),
		PerStrategy: make(map[string]int),
	}
	for _, strategy := range strategies {
		candidates, err := e.GenerateCandidates(ctx, strategy, files, progress)
		if err != nil {
			return nil, fmt.Errorf("generation failed for strategy %s: %w", strategy.Name, err)
		}
		summary.PerStrategy[strategy.Name] = len(candidates)
		summary.CandidatesGenerated += len(candidates)

		result, err := e.ReviewCandidates(ctx, candidates)
		if err != nil {
			return nil, fmt.Errorf("review failed for strategy %s: %w", strategy.Name, err)
		}
		summary.AutoAccepted += len(result.AutoAccepted)
		summary.NeedsAudit += len(result.NeedsAudit)
		summary.NeedsHumanReview += len(result.NeedsHumanReview)
		summary.AutoRejected += len(result.AutoRejected)
		progress.recordRouting(len(result.AutoAccepted), len(result.NeedsHumanReview))
	}

	snap := progress.Snapshot()
	summary.FilesProcessed = snap.FilesProcessed
	summary.ReferencesFound = snap.ReferencesFound
	summary.ElapsedSeconds = time.Since(start).Seconds()

	log.Info("pipeline run complete: %d strategies, %d candidates, %d accepted, %.1fs",
		summary.Strategies, summary.CandidatesGenerated, summary.AutoAccepted, summary.ElapsedSeconds)
	return summary, nil
}
