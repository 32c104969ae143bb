// Package matcher resolves references found in file content to concrete
// files in the corpus and quantifies how plausible each resolution is.
package matcher

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/handlers"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/logging"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

// FileContext is the parsed view of one source file: which handler claimed
// it, the metadata it yielded, and every outbound reference found in it.
type FileContext struct {
	File              *types.FileRecord
	Content           string
	HandlerName       string
	Metadata          map[string]string
	References        []handlers.ReferenceContext
	RelationshipHints []string
}

// ContextFor parses a file with the best-matching handler. Returns a
// context with empty HandlerName when no handler claims the file.
func ContextFor(registry *handlers.Registry, file *types.FileRecord, content string) *FileContext {
	ctx := &FileContext{File: file, Content: content}
	h := registry.HandlerFor(file, content)
	if h == nil {
		return ctx
	}
	ctx.HandlerName = h.Name()
	ctx.Metadata = h.ExtractMetadata(file, content)
	ctx.References = h.FindReferences(file, content)
	ctx.RelationshipHints = h.RelationshipHints(file, content)
	logging.Get(logging.CategoryMatcher).Debug("parsed %s with %s: %d references",
		file.Name, ctx.HandlerName, len(ctx.References))
	return ctx
}

// Match is a resolved reference: the reference, the file it points at, and
// the combined confidence of the resolution.
type Match struct {
	Reference  handlers.ReferenceContext
	Target     *types.FileRecord
	Confidence float64
	MatchKind  string // exact_name, stem, suffix
}

// suffixPattern extracts the 3-digit session suffix of data file names,
// e.g. "024" from "20231104_mouse41_024.abf".
var suffixPattern = regexp.MustCompile(`(\d{3})\.(?:abf|smrx?)$`)

// MatchReferences resolves each reference against the candidate target
// files. Exact basename matches lift confidence to at least 0.95, stem
// matches to at least 0.9. Short numeric references resolve through the
// session suffix and only count when the source directory sits near the
// target; their confidence is 0.6 plus a fifth of the path similarity.
func MatchReferences(refs []handlers.ReferenceContext, files []*types.FileRecord, srcDir string) []Match {
	byName := make(map[string][]*types.FileRecord)
	byStem := make(map[string][]*types.FileRecord)
	bySuffix := make(map[string][]*types.FileRecord)

	for _, f := range files {
		if f.IsDir {
			continue
		}
		lower := strings.ToLower(f.Name)
		byName[lower] = append(byName[lower], f)
		stem := strings.TrimSuffix(lower, strings.ToLower(f.Ext))
		byStem[stem] = append(byStem[stem], f)
		if m := suffixPattern.FindStringSubmatch(lower); m != nil {
			bySuffix[m[1]] = append(bySuffix[m[1]], f)
		}
	}

	var matches []Match
	for _, ref := range refs {
		lower := strings.ToLower(ref.Reference)
		stem := strings.TrimSuffix(lower, filepath.Ext(lower))

		if targets, ok := byName[lower]; ok {
			for _, t := range targets {
				matches = append(matches, Match{ref, t, maxf(ref.Confidence, 0.95), "exact_name"})
			}
			continue
		}
		if targets, ok := byStem[stem]; ok {
			for _, t := range targets {
				matches = append(matches, Match{ref, t, maxf(ref.Confidence, 0.9), "stem"})
			}
			continue
		}
		if isShortRef(ref.ReferenceType) {
			for _, t := range bySuffix[stem] {
				sim := PathSimilarity(srcDir, t.ParentPath)
				if sim <= 0.3 {
					continue
				}
				matches = append(matches, Match{ref, t, 0.6 + sim*0.2, "suffix"})
			}
		}
	}
	return matches
}

func isShortRef(refType string) bool {
	return refType == "short_ref" || refType == "cell_short_ref"
}

// FindMatchingReferences filters refs down to those plausibly naming the
// target file, boosting confidence by match quality. Short numeric
// references only count when the source sits near the target in the tree.
func FindMatchingReferences(target *types.FileRecord, refs []handlers.ReferenceContext, srcDir string) []handlers.ReferenceContext {
	targetName := strings.ToLower(target.Name)
	targetStem := strings.TrimSuffix(targetName, strings.ToLower(target.Ext))

	var out []handlers.ReferenceContext
	for _, ref := range refs {
		refLower := strings.ToLower(ref.Reference)
		refStem := strings.TrimSuffix(refLower, filepath.Ext(refLower))

		switch {
		case refLower == targetName:
			ref.Confidence = maxf(ref.Confidence, 0.95)
			out = append(out, ref)
		case refStem == targetStem:
			ref.Confidence = maxf(ref.Confidence, 0.9)
			out = append(out, ref)
		case strings.Contains(targetName, refLower) && len(refLower) > 4:
			ref.Confidence = maxf(ref.Confidence, 0.8)
			out = append(out, ref)
		case isShortRef(ref.ReferenceType):
			if m := suffixPattern.FindStringSubmatch(targetName); m != nil && m[1] == refStem {
				sim := PathSimilarity(srcDir, target.ParentPath)
				if sim > 0.3 {
					ref.Confidence = 0.6 + sim*0.2
					out = append(out, ref)
				}
			}
		}
	}
	return out
}

// PathSimilarity scores how close two directories sit in the tree, in
// [0,1]. Same directory is 1.0, parent/child or shared parent is 0.8,
// deeper relationships decay with the unshared depth, and paths with no
// common prefix are 0.0. Segments compare case-insensitively, since the
// corpora mix Windows-cased and lowercase spellings of the same folders.
func PathSimilarity(a, b string) float64 {
	a = filepath.Clean(a)
	b = filepath.Clean(b)
	if strings.EqualFold(a, b) {
		return 1.0
	}

	aParts := splitPath(a)
	bParts := splitPath(b)

	common := 0
	for common < len(aParts) && common < len(bParts) && strings.EqualFold(aParts[common], bParts[common]) {
		common++
	}
	if common == 0 {
		return 0.0
	}

	maxDepth := len(aParts)
	if len(bParts) > maxDepth {
		maxDepth = len(bParts)
	}

	// Shared parent one level up on both sides (siblings), or direct
	// parent/child one level apart.
	if maxDepth-common <= 1 {
		return 0.8
	}

	sim := float64(common)/float64(maxDepth) + 0.2
	if sim > 0.6 {
		sim = 0.6
	}
	return sim
}

func splitPath(p string) []string {
	p = strings.TrimPrefix(filepath.ToSlash(p), "/")
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
