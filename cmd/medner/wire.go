package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/straja-ai/medner/internal/cleaner"
	"github.com/straja-ai/medner/internal/clinical"
	"github.com/straja-ai/medner/internal/config"
	"github.com/straja-ai/medner/internal/ner"
	"github.com/straja-ai/medner/internal/pdftext"
	"github.com/straja-ai/medner/internal/pipeline"
	"github.com/straja-ai/medner/internal/redact"
)

// app holds everything built from one config.
type app struct {
	cfg      *config.Config
	registry *ner.Registry
	cleaner  *cleaner.Cleaner
	pipeline *pipeline.Pipeline
	logFile  io.Closer
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	a.logFile = redact.SetOutput(redact.FileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})

	a.registry = ner.NewRegistry(cfg.RegistryConfig())

	mode, err := cleaner.ParseMode(cfg.Cleaning.Mode)
	if err != nil {
		return nil, err
	}
	a.cleaner = cleaner.New(newRecognizer(cfg, a.registry), mode)

	sniffer, err := pdftext.NewSniffer(cfg.PDF.Sniffer)
	if err != nil {
		return nil, err
	}
	extractor, err := pdftext.NewExtractor(cfg.PDF.Engine)
	if err != nil {
		return nil, err
	}

	a.pipeline = pipeline.New(sniffer, extractor, a.cleaner, clinical.NewExtractor(a.registry), pipeline.Config{
		DiseaseModel: cfg.Models.Disease,
		DrugModel:    cfg.Models.Drug,
	})
	return a, nil
}

func newRecognizer(cfg *config.Config, reg *ner.Registry) cleaner.Recognizer {
	if strings.EqualFold(cfg.Cleaning.Recognizer, "onnx") {
		return &ner.RegistryRecognizer{
			Registry: reg,
			ModelID:  cfg.Cleaning.OrdinaryModel,
			Aliases:  cfg.Cleaning.LabelAliases,
		}
	}
	return ner.NewProseRecognizer()
}

func (a *app) Close() {
	if err := a.registry.Close(); err != nil {
		redact.Logf("medner: close models: %v", err)
	}
	if err := ner.DestroyEnvironment(); err != nil {
		redact.Logf("medner: destroy onnxruntime: %v", err)
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
