package ner

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFinder struct {
	spans  []Span
	err    error
	closed bool
}

func (f *fakeFinder) Find(string) ([]Span, error) { return f.spans, f.err }

func (f *fakeFinder) Close() error {
	f.closed = true
	return nil
}

func TestRegistryUnknownModel(t *testing.T) {
	r := NewRegistryWithLoader(RegistryConfig{}, func(string, string, ModelConfig, RuntimeSettings) (SpanFinder, error) {
		t.Fatal("loader must not run for unknown ids")
		return nil, nil
	})
	_, err := r.Get("nope")
	require.ErrorIs(t, err, ErrModelUnavailable)
}

func TestRegistryLoadsOnce(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	ff := &fakeFinder{}
	r := NewRegistryWithLoader(RegistryConfig{
		ModelsDir: "/models",
		Models:    map[string]ModelConfig{"en_ner_bc5cdr_md": {Onnx: "bc5cdr/model.onnx"}},
	}, func(dir, id string, cfg ModelConfig, _ RuntimeSettings) (SpanFinder, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		assert.Equal(t, "/models", dir)
		assert.Equal(t, "en_ner_bc5cdr_md", id)
		assert.Equal(t, "bc5cdr/model.onnx", cfg.Onnx)
		return ff, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := r.Get("en_ner_bc5cdr_md")
			assert.NoError(t, err)
			assert.Same(t, ff, m)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)

	require.NoError(t, r.Close())
	assert.True(t, ff.closed)
}

func TestRegistryWrapsLoadErrors(t *testing.T) {
	attempts := 0
	r := NewRegistryWithLoader(RegistryConfig{
		Models: map[string]ModelConfig{"drug": {Onnx: "drug.onnx"}},
	}, func(string, string, ModelConfig, RuntimeSettings) (SpanFinder, error) {
		attempts++
		return nil, errors.New("disk on fire")
	})
	_, err := r.Get("drug")
	require.ErrorIs(t, err, ErrModelUnavailable)
	assert.Contains(t, err.Error(), "disk on fire")

	_, err = r.Get("drug")
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.Error(t, r.Preload())
}

func TestRegistryIDs(t *testing.T) {
	r := NewRegistry(RegistryConfig{Models: map[string]ModelConfig{"b": {}, "a": {}}})
	assert.Equal(t, []string{"a", "b"}, r.IDs())
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	_, err := r.Get("x")
	require.ErrorIs(t, err, ErrModelUnavailable)
	assert.NoError(t, r.Close())
}

func TestLoadRegistryConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	raw := `models_dir: /srv/models
runtime:
  max_sessions: 2
models:
  en_core_med7_lg:
    onnx: med7/model.onnx
    max_tokens: 128
    label_aliases:
      DRUG: DRUG
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	cfg, err := LoadRegistryConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/models", cfg.ModelsDir)
	assert.Equal(t, 2, cfg.Runtime.MaxSessions)
	assert.Equal(t, 128, cfg.Models["en_core_med7_lg"].MaxTokens)
	assert.Equal(t, "med7/model.onnx", cfg.Models["en_core_med7_lg"].Onnx)

	_, err = LoadRegistryConfig("")
	require.Error(t, err)
}
