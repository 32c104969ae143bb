package handlers

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

var (
	dataFilePattern = regexp.MustCompile(`\b([\w\-]+\.(?:abf|smrx|smr|edf|mat|nwb|h5|csv|xlsx?))\b`)
	shortRefPattern = regexp.MustCompile(`\b(\d{3})(?:\.abf)?\b`)

	textDatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(\d{4}[-/]\d{2}[-/]\d{2})\b`),
		regexp.MustCompile(`\b(\d{8})\b`),
		regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{2,4})\b`),
	}
	textAnimalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:animal|mouse|rat|subject)[\s_\-#:]*(\d{3,5})`),
		regexp.MustCompile(`\b([A-Z]{2,3}\d{3,5})\b`),
		regexp.MustCompile(`(?i)\bid[\s_\-#:]+(\d{3,5})\b`),
	}

	// Words that make a nearby 3-digit number document structure rather
	// than a recording reference.
	shortRefNoiseWords = []string{
		"page", "figure", "fig", "table", "section", "chapter",
		"version", "revision",
	}
)

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".log": true, ".rtf": true,
}

// GenericTextHandler parses free-form notes: lab notebooks, readme files,
// surgery and protocol notes. It finds explicit data-file mentions and
// bare 3-digit recording references.
type GenericTextHandler struct {
	contextLines int
}

func NewGenericTextHandler() *GenericTextHandler {
	return &GenericTextHandler{contextLines: 3}
}

func (h *GenericTextHandler) Name() string { return "generic_text" }

func (h *GenericTextHandler) CanHandle(file *types.FileRecord, content string) float64 {
	if textExtensions[strings.ToLower(file.Ext)] {
		return 0.6
	}
	if file.Category == types.CategoryDocuments {
		return 0.5
	}
	if content != "" {
		return 0.2
	}
	return 0
}

func (h *GenericTextHandler) ExtractMetadata(file *types.FileRecord, content string) map[string]string {
	meta := make(map[string]string)
	for _, p := range textDatePatterns {
		if m := p.FindStringSubmatch(content); m != nil {
			meta["date"] = m[1]
			break
		}
	}
	for _, p := range textAnimalPatterns {
		if m := p.FindStringSubmatch(content); m != nil {
			meta["animal_id"] = m[1]
			break
		}
	}
	return meta
}

func (h *GenericTextHandler) FindReferences(file *types.FileRecord, content string) []ReferenceContext {
	lines := strings.Split(content, "\n")
	var refs []ReferenceContext
	seen := make(map[string]bool)

	for i, line := range lines {
		for _, m := range dataFilePattern.FindAllStringSubmatch(line, -1) {
			key := m[1] + ":" + strconv.Itoa(i)
			if seen[key] {
				continue
			}
			seen[key] = true
			refs = append(refs, h.buildRef(m[1], "filename", 0.9, i, lines))
		}
		for _, m := range shortRefPattern.FindAllStringSubmatchIndex(line, -1) {
			ref := line[m[2]:m[3]]
			if isShortRefNoise(line, m[2]) {
				continue
			}
			// Skip positions already captured as part of a full filename.
			if withinDataFileMatch(line, m[2]) {
				continue
			}
			key := ref + ":" + strconv.Itoa(i)
			if seen[key] {
				continue
			}
			seen[key] = true
			refs = append(refs, h.buildRef(ref, "short_ref", 0.5, i, lines))
		}
	}
	return refs
}

func (h *GenericTextHandler) buildRef(ref, refType string, conf float64, lineIdx int, lines []string) ReferenceContext {
	start := lineIdx - h.contextLines
	if start < 0 {
		start = 0
	}
	end := lineIdx + h.contextLines + 1
	if end > len(lines) {
		end = len(lines)
	}
	before := append([]string(nil), lines[start:lineIdx]...)
	after := append([]string(nil), lines[lineIdx+1:end]...)
	full := strings.Join(lines[start:end], "\n")

	meta := make(map[string]string)
	for _, p := range textDatePatterns {
		if m := p.FindStringSubmatch(full); m != nil {
			meta["date"] = m[1]
			break
		}
	}
	for _, p := range textAnimalPatterns {
		if m := p.FindStringSubmatch(full); m != nil {
			meta["animal_id"] = m[1]
			break
		}
	}

	return ReferenceContext{
		Reference:     ref,
		LineNumber:    lineIdx + 1,
		BeforeLines:   before,
		AfterLines:    after,
		FullContext:   full,
		Metadata:      meta,
		ReferenceType: refType,
		Confidence:    conf,
	}
}

func (h *GenericTextHandler) RelationshipHints(file *types.FileRecord, content string) []string {
	lower := strings.ToLower(content)
	var hints []string
	if strings.Contains(lower, "surgery") {
		hints = append(hints, types.RelationSurgeryNotes)
	}
	if strings.Contains(lower, "protocol") {
		hints = append(hints, types.RelationProtocolFor)
	}
	if strings.Contains(lower, "analysis") {
		hints = append(hints, types.RelationAnalysisOf)
	}
	if len(hints) == 0 {
		return []string{types.RelationNotesFor, types.RelationRelatedTo, types.RelationMentions}
	}
	return append(hints, types.RelationNotesFor)
}

// isShortRefNoise reports whether a document-structure word appears within
// 20 characters before the match position.
func isShortRefNoise(line string, pos int) bool {
	start := pos - 20
	if start < 0 {
		start = 0
	}
	window := strings.ToLower(line[start:pos])
	for _, w := range shortRefNoiseWords {
		if strings.Contains(window, w) {
			return true
		}
	}
	return false
}

// withinDataFileMatch reports whether pos falls inside a full-filename
// match on the line.
func withinDataFileMatch(line string, pos int) bool {
	for _, m := range dataFilePattern.FindAllStringIndex(line, -1) {
		if pos >= m[0] && pos < m[1] {
			return true
		}
	}
	return false
}
