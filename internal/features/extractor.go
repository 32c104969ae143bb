package features

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

// Evidence strengths by evidence type. Unknown types fall back to
// proximity strength.
var evidenceStrengths = map[string]float64{
	"explicit_mention":  1.0,
	"column_cell":       0.85,
	"inferred_sequence": 0.6,
	"proximity_only":    0.3,
}

// EvidenceStrength maps an evidence type to its strength in [0,1].
func EvidenceStrength(evidenceType string) float64 {
	if s, ok := evidenceStrengths[evidenceType]; ok {
		return s
	}
	return evidenceStrengths["proximity_only"]
}

// CanonicalColumns maps link-relevant concepts to the spreadsheet headers
// that carry them.
var CanonicalColumns = map[string][]string{
	"data_file": {"pleth file", "data file", "recording file", "abf file", "file name"},
	"animal_id": {"animal id", "mouse id", "rat id", "subject id", "id", "animal"},
	"date":      {"date", "recording date", "surgery date", "experiment date"},
	"chamber":   {"chamber", "box", "recording chamber"},
	"strain":    {"strain", "genotype", "mouse line"},
}

var (
	datePattern    = regexp.MustCompile(`(\d{4}[-/]?\d{2}[-/]?\d{2}|\d{8})`)
	animalPattern  = regexp.MustCompile(`(?i)(?:animal|mouse|rat|id)[_\-\s]*(\d{3,5})|[_\-](\d{3,4})[_\-]`)
	chamberPattern = regexp.MustCompile(`(?i)(?:chamber|ch)[_\-\s]*([A-D]|\d{1,2})`)
	suffixDigits   = regexp.MustCompile(`(\d{3,})(?:\.\w+)?$`)

	leadingDate    = regexp.MustCompile(`^(\d{8}|\d{6})`)
	trailingSerial = regexp.MustCompile(`_\d{3}$`)
)

// TokenPatterns are the compiled extractors for token-agreement features,
// applied to the path, name and evidence excerpt of both sides of a pair.
type TokenPatterns struct {
	date    *regexp.Regexp
	animal  *regexp.Regexp
	chamber *regexp.Regexp
}

// DefaultTokenPatterns returns the stock extractors.
func DefaultTokenPatterns() *TokenPatterns {
	return &TokenPatterns{date: datePattern, animal: animalPattern, chamber: chamberPattern}
}

// CompileTokenPatterns overlays strategy-supplied overrides on the stock
// extractors, keyed by token kind ("date", "animal_id", "chamber").
// Compiled once per strategy activation, not per file. An invalid regex
// or unknown kind returns an error; callers fall back to the defaults.
func CompileTokenPatterns(overrides map[string]string) (*TokenPatterns, error) {
	p := DefaultTokenPatterns()
	for kind, expr := range overrides {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("token pattern %q: %w", kind, err)
		}
		switch kind {
		case "date":
			p.date = re
		case "animal_id":
			p.animal = re
		case "chamber":
			p.chamber = re
		default:
			return nil, fmt.Errorf("unknown token kind %q", kind)
		}
	}
	return p, nil
}

// EvidenceInput is the evidence payload a candidate carries into feature
// extraction.
type EvidenceInput struct {
	Type           string
	Reference      string
	ReferenceType  string
	ContextExcerpt string
	ColumnHeader   string
}

// ContextInput carries signals derived from the reference's surrounding
// context.
type ContextInput struct {
	MouseIDMatch      float64
	DateMatch         float64
	ChannelAgreement  float64
	ExplicitReference float64
	SectionType       string
	LinesAnalyzed     int
	Confidence        float64
}

// GraphInput carries candidate-graph shape computed over the whole batch.
type GraphInput struct {
	NumCandidatesForSrc int
	NumCandidatesForDst int
	ViolatesOneToOne    bool
	DstAlreadyLinked    bool
}

// Extract builds the schema-v1 feature vector for a candidate pair using
// the stock token patterns. Deterministic: equal inputs produce equal
// vectors.
func Extract(src, dst *types.FileRecord, evidence EvidenceInput, context ContextInput, graph GraphInput) *FeatureVector {
	return ExtractWith(DefaultTokenPatterns(), src, dst, evidence, context, graph)
}

// ExtractWith is Extract with strategy-compiled token patterns.
func ExtractWith(patterns *TokenPatterns, src, dst *types.FileRecord, evidence EvidenceInput, context ContextInput, graph GraphInput) *FeatureVector {
	v := &FeatureVector{SchemaVersion: SchemaVersion}
	if patterns == nil {
		patterns = DefaultTokenPatterns()
	}

	extractNameFeatures(v, src, dst)
	extractEvidenceFeatures(v, evidence)
	extractTokenFeatures(v, src, dst, evidence, patterns)
	extractGraphFeatures(v, graph)
	extractContextFeatures(v, context)
	extractTemporalFeatures(v, src, dst)

	return v
}

func extractNameFeatures(v *FeatureVector, src, dst *types.FileRecord) {
	srcStem := stem(src)
	dstStem := stem(dst)

	if srcStem == dstStem {
		v.ExactBasenameMatch = 1
	}
	if NormalizeFilename(srcStem) == NormalizeFilename(dstStem) {
		v.NormalizedBasenameMatch = 1
	}

	dist := Levenshtein(srcStem, dstStem)
	v.EditDistance = float64(dist)
	v.FuzzRatio = FuzzRatio(srcStem, dstStem)

	srcSuffix, srcOK := numericSuffix(srcStem)
	dstSuffix, dstOK := numericSuffix(dstStem)
	if srcOK && dstOK {
		delta := srcSuffix - dstSuffix
		if delta < 0 {
			delta = -delta
		}
		v.NumericSuffixDelta = float64(delta)
	} else {
		// -1 is the "no comparable suffix" sentinel: at least one name has
		// no trailing digit run, which is different from a delta of zero.
		v.NumericSuffixDelta = -1
	}

	srcParts := pathParts(src.ParentPath)
	dstParts := pathParts(dst.ParentPath)

	if src.ParentPath == dst.ParentPath {
		v.SameFolder = 1
	} else if isParentOf(srcParts, dstParts) || isParentOf(dstParts, srcParts) {
		v.ParentFolder = 1
	} else if len(srcParts) > 0 && len(dstParts) > 0 &&
		len(srcParts) == len(dstParts) &&
		strings.Join(srcParts[:len(srcParts)-1], "/") == strings.Join(dstParts[:len(dstParts)-1], "/") {
		v.SiblingFolder = 1
	}

	depthDiff := len(srcParts) - len(dstParts)
	if depthDiff < 0 {
		depthDiff = -depthDiff
	}
	v.PathDepthDifference = float64(depthDiff)

	common := 0
	for common < len(srcParts) && common < len(dstParts) && srcParts[common] == dstParts[common] {
		common++
	}
	v.CommonAncestorDepth = float64(common)
}

func extractEvidenceFeatures(v *FeatureVector, ev EvidenceInput) {
	v.EvidenceType = ev.Type
	v.EvidenceStrength = EvidenceStrength(ev.Type)
	v.EvidenceSpanLength = float64(len(ev.ContextExcerpt))

	if ev.ColumnHeader != "" {
		header := strings.ToLower(strings.TrimSpace(ev.ColumnHeader))
		best := 0.0
		for _, aliases := range CanonicalColumns {
			for _, alias := range aliases {
				if header == alias {
					v.HasCanonicalColumnMatch = 1
					best = 1
				} else if strings.Contains(header, alias) || strings.Contains(alias, header) {
					if s := FuzzRatio(header, alias) / 100; s > best {
						best = s
					}
				}
			}
		}
		v.ColumnHeaderSimilarity = best
	}
}

// extractTokenFeatures runs the token patterns over the full path and
// name of both sides, plus the evidence excerpt on the source side, so a
// date written in prose still agrees with one embedded in a filename.
func extractTokenFeatures(v *FeatureVector, src, dst *types.FileRecord, ev EvidenceInput, p *TokenPatterns) {
	srcText := src.Path + "\n" + ev.ContextExcerpt
	dstText := dst.Path

	v.DateTokenAgreement = setAgreement(dateTokens(p.date, srcText), dateTokens(p.date, dstText))
	v.AnimalIDAgreement = setAgreement(captureSet(p.animal, srcText), captureSet(p.animal, dstText))
	v.ChamberAgreement = setAgreement(captureSet(p.chamber, srcText), captureSet(p.chamber, dstText))
	// Video pairing and binary header signatures need content probes the
	// inventory does not carry; left at zero until a probe stage exists.
}

func extractGraphFeatures(v *FeatureVector, g GraphInput) {
	v.NumCandidatesForSrc = float64(g.NumCandidatesForSrc)
	v.NumCandidatesForDst = float64(g.NumCandidatesForDst)
	if g.ViolatesOneToOne {
		v.ViolatesOneToOne = 1
	}
	if g.DstAlreadyLinked {
		v.DstAlreadyLinked = 1
	}
}

func extractContextFeatures(v *FeatureVector, c ContextInput) {
	v.ContextMouseIDMatch = c.MouseIDMatch
	v.ContextDateMatch = c.DateMatch
	v.ContextChannelAgreement = c.ChannelAgreement
	v.ContextExplicitReference = c.ExplicitReference
	v.ContextSectionType = c.SectionType
	v.ContextLinesAnalyzed = float64(c.LinesAnalyzed)
	v.ContextConfidence = c.Confidence
}

func extractTemporalFeatures(v *FeatureVector, src, dst *types.FileRecord) {
	v.SrcSizeBytes = float64(src.SizeBytes)
	v.DstSizeBytes = float64(dst.SizeBytes)

	if !src.CTime.IsZero() && !dst.CTime.IsZero() {
		delta := absHours(src.CTime, dst.CTime)
		v.TimeCreatedDeltaHours = delta
		if delta <= 1 {
			v.CreatedWithin1h = 1
		}
		if delta <= 24 {
			v.CreatedWithin24h = 1
		}
		if delta <= 24*7 {
			v.CreatedWithin7d = 1
		}
	}
	if !src.MTime.IsZero() && !dst.MTime.IsZero() {
		delta := absHours(src.MTime, dst.MTime)
		v.TimeModifiedDeltaHours = delta
		if delta <= 1 {
			v.ModifiedWithin1h = 1
		}
		if delta <= 24 {
			v.ModifiedWithin24h = 1
		}
	}
}

// NormalizeFilename strips date prefixes, trailing serial suffixes and
// separators, and lowercases, so "20231104_Mouse-41_003" and
// "mouse41" compare equal.
func NormalizeFilename(name string) string {
	name = strings.ToLower(name)
	name = leadingDate.ReplaceAllString(name, "")
	name = trailingSerial.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, "-", "")
	name = strings.ReplaceAll(name, "_", "")
	return name
}

// Levenshtein returns the edit distance between two strings.
func Levenshtein(a, b string) int {
	ar := []rune(a)
	br := []rune(b)
	if len(ar) == 0 {
		return len(br)
	}
	if len(br) == 0 {
		return len(ar)
	}

	prev := make([]int, len(br)+1)
	curr := make([]int, len(br)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ar); i++ {
		curr[0] = i
		for j := 1; j <= len(br); j++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(br)]
}

// FuzzRatio is a 0-100 similarity derived from edit distance.
func FuzzRatio(a, b string) float64 {
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 100
	}
	return 100 * (1 - float64(Levenshtein(a, b))/float64(maxLen))
}

// captureSet collects the first non-empty capture group of every match,
// lowercased. Patterns without capture groups contribute the whole match.
func captureSet(p *regexp.Regexp, s string) map[string]bool {
	set := make(map[string]bool)
	for _, m := range p.FindAllStringSubmatch(s, -1) {
		if len(m) == 1 {
			set[strings.ToLower(m[0])] = true
			continue
		}
		for _, g := range m[1:] {
			if g != "" {
				set[strings.ToLower(g)] = true
				break
			}
		}
	}
	return set
}

// dateTokens canonicalizes date captures by dropping separators, so
// "2023-11-04" and "20231104" count as the same token.
func dateTokens(p *regexp.Regexp, s string) map[string]bool {
	set := make(map[string]bool)
	for t := range captureSet(p, s) {
		set[strings.NewReplacer("-", "", "/", "").Replace(t)] = true
	}
	return set
}

// setAgreement returns |intersection| / max(|a|, |b|); zero when either
// side is empty.
func setAgreement(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	max := len(a)
	if len(b) > max {
		max = len(b)
	}
	return float64(inter) / float64(max)
}

func stem(f *types.FileRecord) string {
	return strings.TrimSuffix(f.Name, f.Ext)
}

func numericSuffix(name string) (int, bool) {
	m := suffixDigits.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func pathParts(p string) []string {
	p = strings.TrimPrefix(filepath.ToSlash(filepath.Clean(p)), "/")
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}

func isParentOf(parent, child []string) bool {
	if len(parent)+1 != len(child) {
		return false
	}
	for i := range parent {
		if parent[i] != child[i] {
			return false
		}
	}
	return true
}

func absHours(a, b time.Time) float64 {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d.Hours()
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
