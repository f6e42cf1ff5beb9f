package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/straja-ai/medner/internal/clinical"
	"github.com/straja-ai/medner/internal/ner"
)

const (
	defaultAddr           = ":4040"
	defaultMaxUploadBytes = 5 * 1024 * 1024
	defaultOrdinaryModel  = "ordinary"
)

// Config holds medner configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	PDF       PDFConfig       `yaml:"pdf"`
	Cleaning  CleaningConfig  `yaml:"cleaning"`
	Models    ModelsConfig    `yaml:"models"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Clients   []ClientConfig  `yaml:"clients"`
}

// ClientConfig lists the API keys of one caller. With no clients configured
// the extract API is open.
type ClientConfig struct {
	ID      string   `yaml:"id"`
	APIKeys []string `yaml:"api_keys"`
}

type ServerConfig struct {
	Addr               string        `yaml:"addr"`       // HTTP listen address, e.g. ":4040"
	UploadDir          string        `yaml:"upload_dir"` // defaults to os.TempDir()
	MaxUploadBytes     int64         `yaml:"max_upload_bytes"`
	RateLimitPerSecond float64       `yaml:"rate_limit_per_second"` // 0 disables
	RateLimitBurst     int           `yaml:"rate_limit_burst"`
	MaxInFlight        int           `yaml:"max_in_flight"` // 0 disables
	ReadHeaderTimeout  time.Duration `yaml:"read_header_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	Console            bool          `yaml:"console"` // serve the upload page at /console
}

type PDFConfig struct {
	Engine  string `yaml:"engine"`  // fitz | pure
	Sniffer string `yaml:"sniffer"` // mimetype | file
}

type CleaningConfig struct {
	Mode          string            `yaml:"mode"`       // substring | word
	Recognizer    string            `yaml:"recognizer"` // prose | onnx
	OrdinaryModel string            `yaml:"ordinary_model"`
	LabelAliases  map[string]string `yaml:"label_aliases"`
}

type ModelsConfig struct {
	Dir      string                     `yaml:"dir"`
	Disease  string                     `yaml:"disease"`
	Drug     string                     `yaml:"drug"`
	Preload  bool                       `yaml:"preload"`
	Runtime  ner.RuntimeConfig          `yaml:"runtime"`
	Registry map[string]ner.ModelConfig `yaml:"registry"`
}

type AuditConfig struct {
	Sinks     []AuditSinkConfig `yaml:"sinks"`
	QueueSize int               `yaml:"queue_size"`
	Workers   int               `yaml:"workers"`
}

type AuditSinkConfig struct {
	Type                 string        `yaml:"type"` // stdout | file_jsonl | webhook
	Path                 string        `yaml:"path"`
	URL                  string        `yaml:"url"`
	Timeout              time.Duration `yaml:"timeout"`
	AllowPrivateNetworks bool          `yaml:"allow_private_networks"`
}

type LoggingConfig struct {
	File       string `yaml:"file"` // empty logs to stderr
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TelemetryConfig controls OpenTelemetry export of traces and metrics.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // host:port of the OTLP collector
	Protocol string `yaml:"protocol"` // grpc | http
	Service  string `yaml:"service"`
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("MEDNER_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("MEDNER_MODELS_DIR")); v != "" {
		cfg.Models.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" && cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); v != "" {
		cfg.Models.Runtime.SharedLibraryPath = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultAddr
	}
	if cfg.Server.UploadDir == "" {
		cfg.Server.UploadDir = os.TempDir()
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		cfg.Server.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.Server.RateLimitPerSecond > 0 && cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 1
	}
	if cfg.Server.ReadHeaderTimeout <= 0 {
		cfg.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 60 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 120 * time.Second
	}
	if cfg.Server.IdleTimeout <= 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.PDF.Engine == "" {
		cfg.PDF.Engine = "fitz"
	}
	if cfg.PDF.Sniffer == "" {
		cfg.PDF.Sniffer = "mimetype"
	}

	if cfg.Cleaning.Mode == "" {
		cfg.Cleaning.Mode = "substring"
	}
	if cfg.Cleaning.Recognizer == "" {
		cfg.Cleaning.Recognizer = "prose"
	}
	if cfg.Cleaning.Recognizer == "onnx" && cfg.Cleaning.OrdinaryModel == "" {
		cfg.Cleaning.OrdinaryModel = defaultOrdinaryModel
	}

	if cfg.Models.Disease == "" {
		cfg.Models.Disease = clinical.DiseaseModel
	}
	if cfg.Models.Drug == "" {
		cfg.Models.Drug = clinical.DrugModel
	}
	if cfg.Models.Registry == nil {
		cfg.Models.Registry = map[string]ner.ModelConfig{}
	}
	for _, id := range []string{cfg.Models.Disease, cfg.Models.Drug} {
		if _, ok := cfg.Models.Registry[id]; !ok {
			cfg.Models.Registry[id] = ner.ModelConfig{Onnx: id + "/model.onnx"}
		}
	}
	if cfg.Cleaning.Recognizer == "onnx" {
		if _, ok := cfg.Models.Registry[cfg.Cleaning.OrdinaryModel]; !ok {
			cfg.Models.Registry[cfg.Cleaning.OrdinaryModel] = ner.ModelConfig{Onnx: cfg.Cleaning.OrdinaryModel + "/model.onnx"}
		}
	}

	if cfg.Audit.QueueSize <= 0 {
		cfg.Audit.QueueSize = 1000
	}
	if cfg.Audit.Workers <= 0 {
		cfg.Audit.Workers = 1
	}

	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.Service == "" {
		cfg.Telemetry.Service = "medner"
	}

	if cfg.Logging.File != "" {
		if cfg.Logging.MaxSizeMB <= 0 {
			cfg.Logging.MaxSizeMB = 100
		}
		if cfg.Logging.MaxBackups <= 0 {
			cfg.Logging.MaxBackups = 3
		}
		if cfg.Logging.MaxAgeDays <= 0 {
			cfg.Logging.MaxAgeDays = 28
		}
	}
}

// RegistryConfig converts the models section for ner.NewRegistry.
func (c *Config) RegistryConfig() ner.RegistryConfig {
	return ner.RegistryConfig{
		ModelsDir: c.Models.Dir,
		Runtime:   c.Models.Runtime,
		Models:    c.Models.Registry,
	}
}
