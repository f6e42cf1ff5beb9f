package ner

import (
	"fmt"
	"strings"

	"github.com/jdkato/prose/v2"

	"github.com/straja-ai/medner/internal/entities"
)

// ProseRecognizer finds ordinary entities with the prose averaged-perceptron
// models. prose tags people and places; numbers come from the CD POS tag.
type ProseRecognizer struct {
	// Cardinals adds tokens tagged CD as CARDINAL entities.
	Cardinals bool
}

// NewProseRecognizer returns a recognizer that also reports cardinals.
func NewProseRecognizer() *ProseRecognizer {
	return &ProseRecognizer{Cardinals: true}
}

// Recognize implements cleaner.Recognizer.
func (p *ProseRecognizer) Recognize(text string) (*entities.Map, error) {
	out := entities.NewMap()
	if strings.TrimSpace(text) == "" {
		return out, nil
	}
	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		return nil, fmt.Errorf("prose: %w", err)
	}
	for _, ent := range doc.Entities() {
		out.Set(ent.Text, ent.Label)
	}
	if p != nil && p.Cardinals {
		for _, tok := range doc.Tokens() {
			if tok.Tag == "CD" {
				out.Set(tok.Text, string(entities.CategoryCardinal))
			}
		}
	}
	return out, nil
}

// SpanRecognizer adapts a SpanFinder to cleaner.Recognizer. The surface of
// each span is the exact input substring; labels pass through Aliases first.
type SpanRecognizer struct {
	Finder  SpanFinder
	Aliases map[string]string
}

// Recognize implements cleaner.Recognizer.
func (r *SpanRecognizer) Recognize(text string) (*entities.Map, error) {
	out := entities.NewMap()
	if strings.TrimSpace(text) == "" {
		return out, nil
	}
	if r == nil || r.Finder == nil {
		return nil, fmt.Errorf("%w: no ordinary entity model", ErrModelUnavailable)
	}
	spans, err := r.Finder.Find(text)
	if err != nil {
		return nil, err
	}
	for _, s := range spans {
		if s.Start < 0 || s.End > len(text) || s.End <= s.Start {
			continue
		}
		surface := text[s.Start:s.End]
		out.Set(surface, aliasLabel(r.Aliases, s.Label))
	}
	return out, nil
}

// RegistryRecognizer resolves its model from a Registry on every call so the
// model is loaded lazily on first use.
type RegistryRecognizer struct {
	Registry *Registry
	ModelID  string
	Aliases  map[string]string
}

// Recognize implements cleaner.Recognizer.
func (r *RegistryRecognizer) Recognize(text string) (*entities.Map, error) {
	if strings.TrimSpace(text) == "" {
		return entities.NewMap(), nil
	}
	m, err := r.Registry.Get(r.ModelID)
	if err != nil {
		return nil, err
	}
	return (&SpanRecognizer{Finder: m, Aliases: r.Aliases}).Recognize(text)
}
