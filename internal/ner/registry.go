package ner

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// RegistryConfig lists the models available to the service.
type RegistryConfig struct {
	ModelsDir string                 `yaml:"models_dir"`
	Runtime   RuntimeConfig          `yaml:"runtime"`
	Models    map[string]ModelConfig `yaml:"models"`
}

// LoadRegistryConfig reads a models YAML file.
func LoadRegistryConfig(path string) (*RegistryConfig, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg RegistryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoaderFunc builds a SpanFinder for one configured model.
type LoaderFunc func(modelsDir, id string, cfg ModelConfig, rt RuntimeSettings) (SpanFinder, error)

func onnxLoader(modelsDir, id string, cfg ModelConfig, rt RuntimeSettings) (SpanFinder, error) {
	return LoadModel(modelsDir, id, cfg, rt)
}

// Registry resolves model ids to loaded models. Each model is loaded on first
// use and shared by all later callers; a failed load is retried on the next call.
type Registry struct {
	modelsDir string
	rt        RuntimeSettings
	configs   map[string]ModelConfig
	load      LoaderFunc

	mu     sync.Mutex
	models map[string]SpanFinder
}

// NewRegistry returns a registry backed by ONNX models.
func NewRegistry(cfg RegistryConfig) *Registry {
	return NewRegistryWithLoader(cfg, onnxLoader)
}

// NewRegistryWithLoader returns a registry that builds models with load.
func NewRegistryWithLoader(cfg RegistryConfig, load LoaderFunc) *Registry {
	configs := make(map[string]ModelConfig, len(cfg.Models))
	for id, mc := range cfg.Models {
		configs[id] = mc
	}
	return &Registry{
		modelsDir: cfg.ModelsDir,
		rt:        ResolveRuntime(cfg.Runtime),
		configs:   configs,
		load:      load,
		models:    map[string]SpanFinder{},
	}
}

// IDs returns the configured model ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns the model for id, loading it if needed.
func (r *Registry) Get(id string) (SpanFinder, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: registry not initialized", ErrModelUnavailable)
	}
	cfg, ok := r.configs[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown model %q", ErrModelUnavailable, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.models[id]; ok {
		return m, nil
	}
	m, err := r.load(r.modelsDir, id, cfg, r.rt)
	if err != nil {
		if !errors.Is(err, ErrModelUnavailable) {
			err = fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		return nil, err
	}
	r.models[id] = m
	return m, nil
}

// Preload loads every configured model and returns the first failure.
func (r *Registry) Preload() error {
	for _, id := range r.IDs() {
		if _, err := r.Get(id); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every loaded model.
func (r *Registry) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, m := range r.models {
		if c, ok := m.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", id, err))
			}
		}
		delete(r.models, id)
	}
	return errors.Join(errs...)
}
