// Package handlers provides pluggable per-file-type parsers that extract
// metadata, outbound references and relationship hints from file content,
// plus a confidence-ranked registry for choosing the right handler.
package handlers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/logging"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

// minHandleConfidence is the floor below which no handler is considered a
// match for a file.
const minHandleConfidence = 0.1

// ReferenceContext is one reference found in a file, with the surrounding
// lines and any metadata extracted from them.
type ReferenceContext struct {
	Reference     string            `json:"reference"`
	LineNumber    int               `json:"line_number"`
	BeforeLines   []string          `json:"before_lines,omitempty"`
	AfterLines    []string          `json:"after_lines,omitempty"`
	FullContext   string            `json:"full_context,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	ReferenceType string            `json:"reference_type"`
	Confidence    float64           `json:"confidence"`
}

// ContentSignature scores content by weighted keyword hits. A signature
// matches when at least RequiredCount keywords are present; the score is
// the summed weights of the hits plus ConfidenceBoost.
type ContentSignature struct {
	Keywords        []string
	KeywordWeights  map[string]float64
	RequiredCount   int
	ConfidenceBoost float64
}

// Score returns the signature's confidence contribution for content, or 0
// when fewer than RequiredCount keywords are present.
func (s ContentSignature) Score(content string) float64 {
	lower := strings.ToLower(content)
	hits := 0
	total := 0.0
	for _, kw := range s.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			hits++
			if w, ok := s.KeywordWeights[kw]; ok {
				total += w
			} else {
				total += 0.1
			}
		}
	}
	required := s.RequiredCount
	if required == 0 {
		required = 2
	}
	if hits < required {
		return 0
	}
	boost := s.ConfidenceBoost
	if boost == 0 {
		boost = 0.2
	}
	return total + boost
}

// Handler parses one family of file types.
type Handler interface {
	// Name identifies the handler; registry names must be unique.
	Name() string

	// CanHandle returns a confidence in [0,1] that this handler should
	// parse the file. Content may be empty for binary files.
	CanHandle(file *types.FileRecord, content string) float64

	// ExtractMetadata pulls structured fields (dates, animal IDs, session
	// numbers) out of the file name and content.
	ExtractMetadata(file *types.FileRecord, content string) map[string]string

	// FindReferences locates mentions of other files within the content.
	FindReferences(file *types.FileRecord, content string) []ReferenceContext

	// RelationshipHints suggests relation types for links whose evidence
	// comes from this file.
	RelationshipHints(file *types.FileRecord, content string) []string
}

// Registry holds registered handlers and selects the best one per file.
type Registry struct {
	mu       sync.RWMutex
	handlers []Handler
	byName   map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Handler)}
}

// Register adds a handler. Registering a second handler with the same name
// is an error.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[h.Name()]; exists {
		return fmt.Errorf("handler %q already registered", h.Name())
	}
	r.byName[h.Name()] = h
	r.handlers = append(r.handlers, h)
	return nil
}

// HandlerFor returns the handler with the highest CanHandle confidence for
// the file, or nil when no handler reaches the confidence floor.
func (r *Registry) HandlerFor(file *types.FileRecord, content string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Handler
	bestConf := 0.0
	for _, h := range r.handlers {
		conf := h.CanHandle(file, content)
		if conf > bestConf {
			best = h
			bestConf = conf
		}
	}
	if bestConf < minHandleConfidence {
		return nil
	}
	logging.Get(logging.CategoryHandlers).Debug("selected handler %s for %s (confidence %.2f)",
		best.Name(), file.Name, bestConf)
	return best
}

// AllMatching returns every handler at or above the confidence floor,
// sorted by descending confidence. Registration order breaks ties, so the
// ranking is stable.
func (r *Registry) AllMatching(file *types.FileRecord, content string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type scored struct {
		h    Handler
		conf float64
		idx  int
	}
	var matches []scored
	for i, h := range r.handlers {
		if conf := h.CanHandle(file, content); conf >= minHandleConfidence {
			matches = append(matches, scored{h, conf, i})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].conf != matches[j].conf {
			return matches[i].conf > matches[j].conf
		}
		return matches[i].idx < matches[j].idx
	})
	out := make([]Handler, len(matches))
	for i, m := range matches {
		out[i] = m.h
	}
	return out
}

// Names returns the registered handler names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.handlers))
	for i, h := range r.handlers {
		names[i] = h.Name()
	}
	return names
}

// NewDefaultRegistry returns a registry with the built-in handlers. The
// spreadsheet handler is registered first so it wins CanHandle ties on
// tabular files.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, h := range []Handler{
		NewSpreadsheetHandler(),
		NewGenericDataHandler(),
		NewPhotometryHandler(),
		NewGenericTextHandler(),
	} {
		// Names are unique by construction here.
		_ = r.Register(h)
	}
	return r
}
