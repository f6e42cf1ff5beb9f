// Package pipeline wires PDF sniffing, text extraction, cleaning and the two
// clinical models into one call per uploaded file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/straja-ai/medner/internal/cleaner"
	"github.com/straja-ai/medner/internal/clinical"
	"github.com/straja-ai/medner/internal/entities"
	"github.com/straja-ai/medner/internal/pdftext"
)

// ErrNoText means the PDF parsed but held no text. Its message is returned
// to API clients as is.
var ErrNoText = errors.New("No text has been detected")

// TextCleaner strips ordinary entities and normalises text.
type TextCleaner interface {
	CleanWithStats(text string) (string, cleaner.Stats, error)
}

// EntityExtractor runs one clinical model over cleaned text.
type EntityExtractor interface {
	Extract(text, modelID string) ([]entities.Record, error)
}

// Config names the models used for each result list.
type Config struct {
	DiseaseModel string
	DrugModel    string
}

// Result is the API response body.
type Result struct {
	ClinicalEntities []entities.Record `json:"clinical_entities"`
	DrugEntities     []entities.Record `json:"drug_entities"`
	Stats            Stats             `json:"-"`
}

// Stats reports per-stage latency and sizes.
type Stats struct {
	Sniff     time.Duration
	Extract   time.Duration
	Clean     time.Duration
	Disease   time.Duration
	Drug      time.Duration
	TextBytes int
	Cleaned   int
	Redacted  map[entities.Category]int
}

// RedactedTotal sums Redacted.
func (s Stats) RedactedTotal() int {
	n := 0
	for _, v := range s.Redacted {
		n += v
	}
	return n
}

// Pipeline processes one file at a time and holds no per-request state.
type Pipeline struct {
	sniffer   pdftext.Sniffer
	extractor pdftext.Extractor
	cleaner   TextCleaner
	clinical  EntityExtractor
	cfg       Config
}

// New builds a Pipeline. Empty model ids fall back to the clinical defaults.
func New(sniffer pdftext.Sniffer, extractor pdftext.Extractor, c TextCleaner, ex EntityExtractor, cfg Config) *Pipeline {
	if cfg.DiseaseModel == "" {
		cfg.DiseaseModel = clinical.DiseaseModel
	}
	if cfg.DrugModel == "" {
		cfg.DrugModel = clinical.DrugModel
	}
	return &Pipeline{sniffer: sniffer, extractor: extractor, cleaner: c, clinical: ex, cfg: cfg}
}

// Models returns the disease and drug model ids.
func (p *Pipeline) Models() (string, string) {
	return p.cfg.DiseaseModel, p.cfg.DrugModel
}

// Run processes the PDF at path.
func (p *Pipeline) Run(ctx context.Context, path string) (*Result, error) {
	res := &Result{
		ClinicalEntities: []entities.Record{},
		DrugEntities:     []entities.Record{},
	}

	start := time.Now()
	if p.sniffer != nil {
		if err := pdftext.Check(p.sniffer, path); err != nil {
			return res, err
		}
	}
	res.Stats.Sniff = time.Since(start)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	start = time.Now()
	raw, err := p.extractor.ExtractText(path)
	res.Stats.Extract = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("extract text: %w", err)
	}
	raw = strings.TrimSpace(raw)
	res.Stats.TextBytes = len(raw)
	if raw == "" {
		return res, ErrNoText
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	start = time.Now()
	cleaned, cs, err := p.cleaner.CleanWithStats(raw)
	res.Stats.Clean = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("clean text: %w", err)
	}
	res.Stats.Cleaned = len(cleaned)
	res.Stats.Redacted = cs.Redacted
	if err := ctx.Err(); err != nil {
		return res, err
	}

	start = time.Now()
	disease, err := p.clinical.Extract(cleaned, p.cfg.DiseaseModel)
	res.Stats.Disease = time.Since(start)
	if err != nil {
		return res, err
	}
	if disease != nil {
		res.ClinicalEntities = disease
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	start = time.Now()
	drug, err := p.clinical.Extract(cleaned, p.cfg.DrugModel)
	res.Stats.Drug = time.Since(start)
	if err != nil {
		return res, err
	}
	if drug != nil {
		res.DrugEntities = drug
	}
	return res, nil
}
