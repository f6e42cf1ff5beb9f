// Package clinical turns token-classification spans into entity records with
// a fixed window of surrounding context.
package clinical

import (
	"fmt"
	"strings"

	"github.com/straja-ai/medner/internal/entities"
	"github.com/straja-ai/medner/internal/ner"
)

// ContextWindow is how many bytes of text are kept on each side of an entity.
const ContextWindow = 30

// Default model ids.
const (
	DiseaseModel = "en_ner_bc5cdr_md"
	DrugModel    = "en_core_med7_lg"
)

// ModelSource resolves a model id to a loaded model.
type ModelSource interface {
	Get(modelID string) (ner.SpanFinder, error)
}

// Extractor runs clinical models from a ModelSource.
type Extractor struct {
	models ModelSource
}

// NewExtractor returns an Extractor backed by models.
func NewExtractor(models ModelSource) *Extractor {
	return &Extractor{models: models}
}

// Extract runs modelID over text and returns one record per entity in model
// order. Blank text yields an empty slice without touching the model.
func (e *Extractor) Extract(text, modelID string) ([]entities.Record, error) {
	out := []entities.Record{}
	if strings.TrimSpace(text) == "" {
		return out, nil
	}
	if e == nil || e.models == nil {
		return nil, fmt.Errorf("%w: no model source", ner.ErrModelUnavailable)
	}
	model, err := e.models.Get(modelID)
	if err != nil {
		return nil, err
	}
	spans, err := model.Find(text)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", modelID, err)
	}
	for _, s := range spans {
		if s.Start < 0 || s.End > len(text) || s.Start >= s.End {
			continue
		}
		out = append(out, entities.Record{
			Entity:  text[s.Start:s.End],
			Label:   s.Label,
			Context: Context(text, s.Start, s.End),
			Start:   s.Start,
			End:     s.End,
		})
	}
	return out, nil
}

// Context returns text[max(start-ContextWindow,0):min(end+ContextWindow,len(text))].
func Context(text string, start, end int) string {
	lo := start - ContextWindow
	if lo < 0 {
		lo = 0
	}
	hi := end + ContextWindow
	if hi > len(text) {
		hi = len(text)
	}
	if lo > hi {
		return ""
	}
	return text[lo:hi]
}
