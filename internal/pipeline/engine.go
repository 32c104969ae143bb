// Package pipeline wires handlers, matching, scoring, routing, auditing
// and training into strategy-driven linking runs.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/audit"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/classifier"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/features"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/handlers"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/logging"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/matcher"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/router"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/store"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

// maxContentBytes caps how much of a source file is read for parsing.
const maxContentBytes = 1 << 20

// generateWorkers bounds the parallel per-source parsing pass.
const generateWorkers = 8

// ContentReader fetches the text content of a file. Binary files may
// return "" without error.
type ContentReader func(f *types.FileRecord) (string, error)

// Engine runs the linking pipeline.
type Engine struct {
	store      *store.Store
	registry   *handlers.Registry
	thresholds router.Thresholds
	llmBudget  int
	auditor    *audit.Auditor
	trainer    *classifier.Trainer
	readFile   ContentReader

	mu        sync.Mutex
	mlScoring bool
}

// New builds an engine. llm may be nil; audits and exploration then use
// rule-based fallbacks only.
func New(st *store.Store, llm types.LLMClient, thresholds router.Thresholds, llmBudget int, trainer *classifier.Trainer) (*Engine, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		store:      st,
		registry:   handlers.NewDefaultRegistry(),
		thresholds: thresholds,
		llmBudget:  llmBudget,
		auditor:    audit.New(st, llm),
		trainer:    trainer,
		readFile:   readFromDisk,
	}, nil
}

// SetContentReader replaces the default disk reader, mainly for tests.
func (e *Engine) SetContentReader(r ContentReader) {
	e.readFile = r
}

func readFromDisk(f *types.FileRecord) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", err
	}
	if len(data) > maxContentBytes {
		data = data[:maxContentBytes]
	}
	// Binary content is useless to the text handlers; a NUL in the first
	// kilobyte is a cheap tell.
	probe := data
	if len(probe) > 1024 {
		probe = probe[:1024]
	}
	for _, b := range probe {
		if b == 0 {
			return "", nil
		}
	}
	return string(data), nil
}

// rawCandidate is a generation-pass result before graph features and
// scoring are applied.
type rawCandidate struct {
	src     *types.FileRecord
	dst     *types.FileRecord
	match   matcher.Match
	context *matcher.FileContext
}

// GenerateCandidates runs one strategy over the corpus: source files are
// parsed in parallel, their references matched against the destination
// set, then a serial pass computes candidate-graph features, scores each
// pair and persists it. The serial pass keeps conflict counting
// deterministic regardless of parse order.
func (e *Engine) GenerateCandidates(ctx context.Context, strategy *types.LinkerStrategy, files []*types.FileRecord, progress *Progress) ([]*types.CandidateEdge, error) {
	log := logging.Get(logging.CategoryPipeline)
	timer := log.StartTimer("generate:" + strategy.Name)
	defer timer.Stop()

	srcFiles := filterByPattern(files, strategy.SrcPattern)
	dstFiles := filterByPattern(files, strategy.DstPattern)
	if len(srcFiles) == 0 || len(dstFiles) == 0 {
		log.Info("strategy %s matched %d sources and %d destinations, nothing to do",
			strategy.Name, len(srcFiles), len(dstFiles))
		return nil, nil
	}

	raws := make([][]rawCandidate, len(srcFiles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(generateWorkers)
	for i, src := range srcFiles {
		i, src := i, src
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := e.readFile(src)
			if err != nil {
				log.Warn("failed to read %s: %v", src.Path, err)
				return nil
			}
			fctx := matcher.ContextFor(e.registry, src, content)
			if fctx.HandlerName == "" || len(fctx.References) == 0 {
				progress.addFile(0)
				return nil
			}
			matches := matcher.MatchReferences(fctx.References, dstFiles, src.ParentPath)
			out := make([]rawCandidate, 0, len(matches))
			for _, m := range matches {
				if m.Target.ID == src.ID {
					continue
				}
				out = append(out, rawCandidate{src: src, dst: m.Target, match: m, context: fctx})
			}
			raws[i] = out
			progress.addFile(len(fctx.References))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var flat []rawCandidate
	for _, rs := range raws {
		flat = append(flat, rs...)
	}
	sort.SliceStable(flat, func(i, j int) bool {
		if flat[i].src.Path != flat[j].src.Path {
			return flat[i].src.Path < flat[j].src.Path
		}
		return flat[i].dst.Path < flat[j].dst.Path
	})

	// Graph shape over the whole batch.
	srcCounts := make(map[string]int)
	dstCounts := make(map[string]int)
	for _, rc := range flat {
		srcCounts[rc.src.ID]++
		dstCounts[rc.dst.ID]++
	}
	linked, err := e.store.LinkedDstIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to load linked destinations: %w", err)
	}

	scorer := features.NewSoftScorerWithWeights(strategy.Weights)
	patterns, err := features.CompileTokenPatterns(strategy.TokenPatterns)
	if err != nil {
		log.Warn("strategy %s token patterns rejected, using defaults: %v", strategy.Name, err)
		patterns = features.DefaultTokenPatterns()
	}
	var out []*types.CandidateEdge
	for _, rc := range flat {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		c, err := e.buildCandidate(strategy, rc, srcCounts, dstCounts, linked, scorer, patterns)
		if err != nil {
			return out, err
		}
		out = append(out, c)
		progress.addCandidate()
	}

	log.Info("strategy %s generated %d candidates from %d sources", strategy.Name, len(out), len(srcFiles))
	return out, nil
}

func (e *Engine) buildCandidate(strategy *types.LinkerStrategy, rc rawCandidate, srcCounts, dstCounts map[string]int, linked map[string]bool, scorer *features.SoftScorer, patterns *features.TokenPatterns) (*types.CandidateEdge, error) {
	ref := rc.match.Reference

	evidenceType := evidenceTypeFor(ref.ReferenceType)
	graph := features.GraphInput{
		NumCandidatesForSrc: srcCounts[rc.src.ID],
		NumCandidatesForDst: dstCounts[rc.dst.ID],
		ViolatesOneToOne:    dstCounts[rc.dst.ID] > 1,
		DstAlreadyLinked:    linked[rc.dst.ID],
	}
	contextIn := features.ContextInput{
		ExplicitReference: explicitRef(ref.ReferenceType),
		Confidence:        rc.match.Confidence,
		LinesAnalyzed:     len(ref.BeforeLines) + len(ref.AfterLines) + 1,
	}
	if ref.Metadata["animal_id"] != "" {
		contextIn.MouseIDMatch = 1
	}
	if ref.Metadata["date"] != "" {
		contextIn.DateMatch = 1
	}

	vector := features.ExtractWith(patterns, rc.src, rc.dst, features.EvidenceInput{
		Type:           evidenceType,
		Reference:      ref.Reference,
		ReferenceType:  ref.ReferenceType,
		ContextExcerpt: ref.FullContext,
		ColumnHeader:   ref.Metadata["column_header"],
	}, contextIn, graph)
	score := scorer.Score(vector)

	// Evidence-class confidence floors the soft score: an explicit
	// pointer to a file stays decisive even when the surrounding feature
	// terms are thin.
	pathSim := matcher.PathSimilarity(rc.src.ParentPath, rc.dst.ParentPath)
	confidence := score.Total
	if direct := directConfidence(evidenceType, rc.match.Confidence, pathSim, graph); direct > confidence {
		confidence = direct
	}

	evidence := map[string]interface{}{
		"type":           "context_reference",
		"reference":      ref.Reference,
		"reference_type": ref.ReferenceType,
		"evidence_type":  evidenceType,
		"match_kind":     rc.match.MatchKind,
	}
	if ref.FullContext != "" {
		excerpt := ref.FullContext
		if len(excerpt) > 500 {
			excerpt = excerpt[:500]
		}
		evidence["context_excerpt"] = excerpt
	}
	if len(ref.Metadata) > 0 {
		evidence["context_metadata"] = ref.Metadata
	}
	if vector.ExactBasenameMatch > 0 {
		evidence["exact_basename_match"] = true
	}
	if graph.ViolatesOneToOne {
		evidence["violates_one_to_one"] = true
	}
	if data, err := json.Marshal(vector); err == nil {
		evidence["features"] = json.RawMessage(data)
	}

	relation := strategy.Relation
	if relation == "" {
		relation = pickRelation(rc.context.RelationshipHints)
	}

	c := &types.CandidateEdge{
		StrategyID: strategy.ID,
		SrcID:      rc.src.ID,
		DstID:      rc.dst.ID,
		Relation:   relation,
		Confidence: confidence,
		Evidence:   evidence,
		Status:     types.CandidatePending,
	}
	if err := e.store.UpsertCandidate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// evidenceTypeFor maps reference types onto the evidence strength
// vocabulary.
func evidenceTypeFor(refType string) string {
	switch refType {
	case "filename", "source_file":
		return "explicit_mention"
	case "cell_filename", "cell_short_ref":
		return "column_cell"
	case "short_ref":
		return "inferred_sequence"
	default:
		return "proximity_only"
	}
}

func explicitRef(refType string) float64 {
	switch refType {
	case "filename", "cell_filename", "source_file":
		return 1
	}
	return 0
}

// directConfidence is the confidence floor the match evidence itself
// justifies. Explicit mentions and spreadsheet cells carry the matcher
// confidence plus a small path-proximity bonus; inferred sequence
// matches carry the path-gated matcher confidence unchanged; proximity
// alone earns no floor. Each graph conflict deducts 0.10.
func directConfidence(evidenceType string, matchConf, pathSim float64, graph features.GraphInput) float64 {
	var conf float64
	switch evidenceType {
	case "explicit_mention", "column_cell":
		conf = matchConf + pathSim*0.04
	case "inferred_sequence":
		conf = matchConf
	default:
		return 0
	}
	if graph.ViolatesOneToOne {
		conf -= 0.10
	}
	if graph.DstAlreadyLinked {
		conf -= 0.10
	}
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

func pickRelation(hints []string) string {
	if len(hints) > 0 {
		return hints[0]
	}
	return types.RelationRelatedTo
}

// filterByPattern keeps files whose path or name matches the glob
// pattern. Empty and "*" patterns match everything.
func filterByPattern(files []*types.FileRecord, pattern string) []*types.FileRecord {
	if pattern == "" || pattern == "*" {
		return files
	}
	var out []*types.FileRecord
	for _, f := range files {
		if f.IsDir {
			continue
		}
		if matchGlob(pattern, f.Path) || matchGlob(pattern, f.Name) {
			out = append(out, f)
		}
	}
	return out
}

// matchGlob is filepath.Match extended so "*" crosses path separators,
// matching the loose patterns strategies are written with.
func matchGlob(pattern, name string) bool {
	if ok, err := filepath.Match(pattern, name); err == nil && ok {
		return true
	}
	// Fall back to substring semantics for patterns like "*notes*".
	trimmed := strings.Trim(pattern, "*")
	if trimmed != pattern && trimmed != "" {
		return strings.Contains(strings.ToLower(name), strings.ToLower(trimmed))
	}
	return false
}

// ReviewCandidates scores and routes the pending candidates, then runs
// the batch audit over whatever the router gated, within the LLM budget.
func (e *Engine) ReviewCandidates(ctx context.Context, candidates []*types.CandidateEdge) (*router.Result, error) {
	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		s, err := e.scoreCandidate(c)
		if err != nil {
			return nil, err
		}
		scores[c.ID] = s.Total
	}

	rt, err := router.New(e.thresholds, e.store, audit.ShouldAudit)
	if err != nil {
		return nil, err
	}
	result, err := rt.Route(candidates, scores, e.llmBudget)
	if err != nil {
		return nil, err
	}

	if len(result.NeedsAudit) > 0 {
		gated := make([]*types.CandidateEdge, 0, len(result.NeedsAudit))
		for _, id := range result.NeedsAudit {
			c, err := e.store.GetCandidate(id)
			if err != nil {
				return nil, err
			}
			gated = append(gated, c)
		}
		if _, err := e.auditor.AuditBatch(ctx, gated, e.llmBudget); err != nil {
			return nil, fmt.Errorf("batch audit failed: %w", err)
		}
	}
	return result, nil
}

// ScorePair scores a single source/target pair on demand and returns the
// explained breakdown. No candidate is persisted; the strongest reference
// to the target found in the source content supplies the evidence, and a
// source with no such reference scores on proximity alone.
func (e *Engine) ScorePair(src, dst *types.FileRecord) (types.SoftScore, error) {
	content, err := e.readFile(src)
	if err != nil {
		return types.SoftScore{}, fmt.Errorf("failed to read %s: %w", src.Path, err)
	}
	fctx := matcher.ContextFor(e.registry, src, content)

	var best handlers.ReferenceContext
	for _, ref := range matcher.FindMatchingReferences(dst, fctx.References, src.ParentPath) {
		if ref.Confidence > best.Confidence {
			best = ref
		}
	}

	evidenceType := "proximity_only"
	contextIn := features.ContextInput{}
	if best.Reference != "" {
		evidenceType = evidenceTypeFor(best.ReferenceType)
		contextIn = features.ContextInput{
			ExplicitReference: explicitRef(best.ReferenceType),
			Confidence:        best.Confidence,
			LinesAnalyzed:     len(best.BeforeLines) + len(best.AfterLines) + 1,
		}
		if best.Metadata["animal_id"] != "" {
			contextIn.MouseIDMatch = 1
		}
		if best.Metadata["date"] != "" {
			contextIn.DateMatch = 1
		}
	}

	vector := features.Extract(src, dst, features.EvidenceInput{
		Type:           evidenceType,
		Reference:      best.Reference,
		ReferenceType:  best.ReferenceType,
		ContextExcerpt: best.FullContext,
		ColumnHeader:   best.Metadata["column_header"],
	}, contextIn, features.GraphInput{})
	return features.NewSoftScorer().Score(vector), nil
}

// scoreCandidate applies the ML model when enabled and trained, otherwise
// the stored soft-score confidence stands.
func (e *Engine) scoreCandidate(c *types.CandidateEdge) (types.SoftScore, error) {
	e.mu.Lock()
	useML := e.mlScoring && e.trainer.Trained()
	e.mu.Unlock()

	if useML {
		if v := vectorFromEvidence(c); v != nil {
			score, err := e.trainer.ScoreWithModel(v)
			if err == nil {
				return score, nil
			}
			if !errors.Is(err, classifier.ErrModelNotTrained) {
				return types.SoftScore{}, err
			}
		}
	}
	return types.SoftScore{Total: c.Confidence}, nil
}

// EnableMLScoring loads the trained model and switches scoring to it.
// Returns false without error when no model has been trained yet.
func (e *Engine) EnableMLScoring() (bool, error) {
	err := e.trainer.Load()
	if errors.Is(err, classifier.ErrModelNotTrained) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	e.mlScoring = true
	e.mu.Unlock()
	logging.Get(logging.CategoryClassifier).Info("ml scoring enabled")
	return true, nil
}

// TrainFromLabels assembles the labeled training set from stored
// candidates and fits the classifier.
func (e *Engine) TrainFromLabels() (*classifier.Metrics, error) {
	labels, err := e.store.Labels()
	if err != nil {
		return nil, err
	}

	var examples []classifier.Example
	for _, l := range labels {
		c, err := e.store.GetCandidate(l.CandidateID)
		if err != nil {
			logging.Get(logging.CategoryClassifier).Warn("label for missing candidate %s skipped", l.CandidateID)
			continue
		}
		v := vectorFromEvidence(c)
		if v == nil {
			continue
		}
		examples = append(examples, classifier.Example{Vector: v, Label: l.Label})
	}
	return e.trainer.Train(examples)
}

// ExportTrainingSet writes the labeled examples to a CSV file.
func (e *Engine) ExportTrainingSet(path string) (int, error) {
	labels, err := e.store.Labels()
	if err != nil {
		return 0, err
	}
	var examples []classifier.Example
	for _, l := range labels {
		c, err := e.store.GetCandidate(l.CandidateID)
		if err != nil {
			continue
		}
		if v := vectorFromEvidence(c); v != nil {
			examples = append(examples, classifier.Example{Vector: v, Label: l.Label})
		}
	}
	if err := classifier.ExportTrainingSet(path, examples); err != nil {
		return 0, err
	}
	return len(examples), nil
}

// vectorFromEvidence recovers the feature vector persisted with the
// candidate. Returns nil when absent or from another schema version.
func vectorFromEvidence(c *types.CandidateEdge) *features.FeatureVector {
	if c.Evidence == nil {
		return nil
	}
	raw, ok := c.Evidence["features"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var v features.FeatureVector
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	if v.SchemaVersion != features.SchemaVersion {
		return nil
	}
	return &v
}
