package handlers

import (
	"regexp"
	"strings"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

var spreadsheetExtensions = map[string]bool{
	".csv": true, ".xlsx": true, ".xls": true, ".tsv": true,
}

// Column classification patterns, matched against lowercased headers.
var (
	fileColumnPatterns   = []string{"file", "recording", "abf", "pleth", "data file"}
	animalColumnPatterns = []string{"animal", "mouse", "rat", "subject", "id"}
	dateColumnPatterns   = []string{"date"}
	notesColumnPatterns  = []string{"note", "comment", "remark", "observation"}
)

var cellFilePattern = regexp.MustCompile(`([\w\-]+\.(?:abf|smrx|smr|edf|mat|nwb|h5))`)
var cellShortRefPattern = regexp.MustCompile(`^\s*(\d{3})\s*$`)

// SpreadsheetHandler parses tabular experiment logs. It classifies columns
// from the header row and emits cell-level references carrying row
// metadata (animal, date, notes).
type SpreadsheetHandler struct{}

func NewSpreadsheetHandler() *SpreadsheetHandler { return &SpreadsheetHandler{} }

func (h *SpreadsheetHandler) Name() string { return "spreadsheet" }

func (h *SpreadsheetHandler) CanHandle(file *types.FileRecord, content string) float64 {
	if spreadsheetExtensions[strings.ToLower(file.Ext)] {
		return 0.9
	}
	if file.Category == types.CategorySpreadsheets {
		return 0.85
	}
	return 0
}

// splitRow splits a line on the first delimiter that yields multiple
// cells: tab, comma, pipe, then runs of two or more spaces.
func splitRow(line string) []string {
	if strings.Contains(line, "\t") {
		return strings.Split(line, "\t")
	}
	if strings.Contains(line, ",") {
		cells := strings.Split(line, ",")
		for i, c := range cells {
			cells[i] = strings.Trim(strings.TrimSpace(c), `"`)
		}
		return cells
	}
	if strings.Contains(line, "|") {
		return strings.Split(line, "|")
	}
	return regexp.MustCompile(`\s{2,}`).Split(line, -1)
}

type columnMap struct {
	file   int
	animal int
	date   int
	notes  int
}

func classifyColumns(header []string) columnMap {
	cm := columnMap{file: -1, animal: -1, date: -1, notes: -1}
	match := func(cell string, pats []string) bool {
		lower := strings.ToLower(strings.TrimSpace(cell))
		for _, p := range pats {
			if strings.Contains(lower, p) {
				return true
			}
		}
		return false
	}
	for i, cell := range header {
		switch {
		case cm.file < 0 && match(cell, fileColumnPatterns):
			cm.file = i
		case cm.animal < 0 && match(cell, animalColumnPatterns):
			cm.animal = i
		case cm.date < 0 && match(cell, dateColumnPatterns):
			cm.date = i
		case cm.notes < 0 && match(cell, notesColumnPatterns):
			cm.notes = i
		}
	}
	return cm
}

func (h *SpreadsheetHandler) ExtractMetadata(file *types.FileRecord, content string) map[string]string {
	meta := make(map[string]string)
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return meta
	}
	header := splitRow(lines[0])
	meta["columns"] = strings.Join(header, ";")
	cm := classifyColumns(header)
	if cm.file >= 0 {
		meta["file_column"] = strings.TrimSpace(header[cm.file])
	}
	if cm.animal >= 0 {
		meta["animal_column"] = strings.TrimSpace(header[cm.animal])
	}
	return meta
}

func (h *SpreadsheetHandler) FindReferences(file *types.FileRecord, content string) []ReferenceContext {
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return nil
	}
	header := splitRow(lines[0])
	cm := classifyColumns(header)

	var refs []ReferenceContext
	for rowIdx, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := splitRow(line)

		rowMeta := make(map[string]string)
		if cm.animal >= 0 && cm.animal < len(cells) {
			if v := strings.TrimSpace(cells[cm.animal]); v != "" {
				rowMeta["animal_id"] = v
			}
		}
		if cm.date >= 0 && cm.date < len(cells) {
			if v := strings.TrimSpace(cells[cm.date]); v != "" {
				rowMeta["date"] = v
			}
		}
		if cm.notes >= 0 && cm.notes < len(cells) {
			if v := strings.TrimSpace(cells[cm.notes]); v != "" {
				if len(v) > 200 {
					v = v[:200]
				}
				rowMeta["notes"] = v
			}
		}
		if len(cells) > 0 {
			rowMeta["row_header"] = strings.TrimSpace(cells[0])
		}

		for colIdx, cell := range cells {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			var ref, refType string
			var conf float64
			if m := cellFilePattern.FindStringSubmatch(cell); m != nil {
				ref, refType, conf = m[1], "cell_filename", 0.85
			} else if m := cellShortRefPattern.FindStringSubmatch(cell); m != nil {
				ref, refType, conf = m[1], "cell_short_ref", 0.6
			} else {
				continue
			}
			// References found in the identified file column are more
			// trustworthy than stray matches elsewhere.
			if cm.file >= 0 && colIdx == cm.file {
				conf += 0.1
				if conf > 0.95 {
					conf = 0.95
				}
			}
			// Each reference gets its own metadata copy: the shared row
			// fields plus the header of the column it came from.
			meta := make(map[string]string, len(rowMeta)+1)
			for k, v := range rowMeta {
				meta[k] = v
			}
			if colIdx < len(header) {
				if hv := strings.TrimSpace(header[colIdx]); hv != "" {
					meta["column_header"] = hv
				}
			}
			refs = append(refs, ReferenceContext{
				Reference:     ref,
				LineNumber:    rowIdx + 2,
				FullContext:   line,
				Metadata:      meta,
				ReferenceType: refType,
				Confidence:    conf,
			})
		}
	}
	return refs
}

func (h *SpreadsheetHandler) RelationshipHints(file *types.FileRecord, content string) []string {
	return []string{types.RelationNotesFor, types.RelationMetadataFor, types.RelationLogFor}
}
