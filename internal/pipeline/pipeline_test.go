package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straja-ai/medner/internal/cleaner"
	"github.com/straja-ai/medner/internal/clinical"
	"github.com/straja-ai/medner/internal/entities"
	"github.com/straja-ai/medner/internal/ner"
	"github.com/straja-ai/medner/internal/pdftext"
)

type fakeSniffer struct {
	ok  bool
	err error
}

func (f fakeSniffer) LooksLikePDF(string) (bool, error) { return f.ok, f.err }

type fakeExtractor struct {
	text string
	err  error
}

func (f fakeExtractor) ExtractText(string) (string, error) { return f.text, f.err }

type recordingExtractor struct {
	byModel map[string][]entities.Record
	texts   []string
	models  []string
}

func (r *recordingExtractor) Extract(text, modelID string) ([]entities.Record, error) {
	r.texts = append(r.texts, text)
	r.models = append(r.models, modelID)
	if recs, ok := r.byModel[modelID]; ok {
		return recs, nil
	}
	return nil, ner.ErrModelUnavailable
}

func newCleaner() *cleaner.Cleaner {
	return cleaner.New(cleaner.RecognizerFunc(func(text string) (*entities.Map, error) {
		m := entities.NewMap()
		if strings.Contains(text, "Smith") {
			m.Set("Smith", "PERSON")
		}
		return m, nil
	}), cleaner.ModeSubstring)
}

func TestRunHappyPath(t *testing.T) {
	ex := &recordingExtractor{byModel: map[string][]entities.Record{
		clinical.DiseaseModel: {{Entity: "diabetes", Label: "DISEASE", Context: "dr has diabetes", Start: 7, End: 15}},
		clinical.DrugModel:    {},
	}}
	p := New(fakeSniffer{ok: true}, fakeExtractor{text: "  Dr Smith has diabetes!\n"}, newCleaner(), ex, Config{})

	res, err := p.Run(context.Background(), "in.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"dr has diabetes", "dr has diabetes"}, ex.texts)
	assert.Equal(t, []string{clinical.DiseaseModel, clinical.DrugModel}, ex.models)
	require.Len(t, res.ClinicalEntities, 1)
	assert.NotNil(t, res.DrugEntities)
	assert.Equal(t, 1, res.Stats.RedactedTotal())
	assert.Equal(t, len("Dr Smith has diabetes!"), res.Stats.TextBytes)

	body, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"clinical_entities":[{"entity":"diabetes","label":"DISEASE","context":"dr has diabetes","start":7,"end":15}],"drug_entities":[]}`, string(body))
}

func TestRunNotPDF(t *testing.T) {
	ex := &recordingExtractor{}
	p := New(fakeSniffer{ok: false}, fakeExtractor{text: "x"}, newCleaner(), ex, Config{})
	_, err := p.Run(context.Background(), "in.pdf")
	require.ErrorIs(t, err, pdftext.ErrCorrupted)
	assert.Empty(t, ex.models)
}

func TestRunSnifferError(t *testing.T) {
	boom := errors.New("exec failed")
	p := New(fakeSniffer{err: boom}, fakeExtractor{}, newCleaner(), &recordingExtractor{}, Config{})
	_, err := p.Run(context.Background(), "in.pdf")
	require.ErrorIs(t, err, boom)
}

func TestRunNoText(t *testing.T) {
	for _, text := range []string{"", "  \n\t "} {
		ex := &recordingExtractor{}
		p := New(fakeSniffer{ok: true}, fakeExtractor{text: text}, newCleaner(), ex, Config{})
		_, err := p.Run(context.Background(), "in.pdf")
		require.ErrorIs(t, err, ErrNoText)
		assert.Equal(t, "No text has been detected", err.Error())
		assert.Empty(t, ex.models)
	}
}

func TestRunExtractError(t *testing.T) {
	p := New(nil, fakeExtractor{err: pdftext.ErrUnableToOpen}, newCleaner(), &recordingExtractor{}, Config{})
	_, err := p.Run(context.Background(), "in.pdf")
	require.ErrorIs(t, err, pdftext.ErrUnableToOpen)
}

func TestRunModelUnavailable(t *testing.T) {
	ex := &recordingExtractor{byModel: map[string][]entities.Record{"disease": {}}}
	p := New(fakeSniffer{ok: true}, fakeExtractor{text: "fever"}, newCleaner(), ex, Config{DiseaseModel: "disease", DrugModel: "drug"})
	_, err := p.Run(context.Background(), "in.pdf")
	require.ErrorIs(t, err, ner.ErrModelUnavailable)
	assert.Equal(t, []string{"disease", "drug"}, ex.models)
}

func TestRunCleanerError(t *testing.T) {
	boom := errors.New("recognizer down")
	c := cleaner.New(cleaner.RecognizerFunc(func(string) (*entities.Map, error) { return nil, boom }), "")
	p := New(fakeSniffer{ok: true}, fakeExtractor{text: "fever"}, c, &recordingExtractor{}, Config{})
	_, err := p.Run(context.Background(), "in.pdf")
	require.ErrorIs(t, err, boom)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := &recordingExtractor{}
	p := New(fakeSniffer{ok: true}, fakeExtractor{text: "fever"}, newCleaner(), ex, Config{})
	_, err := p.Run(ctx, "in.pdf")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ex.models)
}

func TestModels(t *testing.T) {
	d, g := New(nil, nil, nil, nil, Config{DrugModel: "x"}).Models()
	assert.Equal(t, clinical.DiseaseModel, d)
	assert.Equal(t, "x", g)
}
