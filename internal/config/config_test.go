package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straja-ai/medner/internal/clinical"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":4040", cfg.Server.Addr)
	assert.Equal(t, int64(5*1024*1024), cfg.Server.MaxUploadBytes)
	assert.Equal(t, "fitz", cfg.PDF.Engine)
	assert.Equal(t, "mimetype", cfg.PDF.Sniffer)
	assert.Equal(t, "substring", cfg.Cleaning.Mode)
	assert.Equal(t, "prose", cfg.Cleaning.Recognizer)
	assert.Equal(t, clinical.DiseaseModel, cfg.Models.Disease)
	assert.Equal(t, clinical.DrugModel, cfg.Models.Drug)
	assert.Equal(t, "en_ner_bc5cdr_md/model.onnx", cfg.Models.Registry[clinical.DiseaseModel].Onnx)
	assert.Equal(t, "en_core_med7_lg/model.onnx", cfg.Models.Registry[clinical.DrugModel].Onnx)
	assert.Empty(t, cfg.Logging.File)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medner.yaml")
	raw := `server:
  addr: ":9090"
  max_upload_bytes: 1048576
  rate_limit_per_second: 5
  max_in_flight: 2
  read_timeout: 30s
pdf:
  engine: pure
  sniffer: file
cleaning:
  mode: word
  recognizer: onnx
  label_aliases:
    PER: PERSON
models:
  dir: /srv/models
  registry:
    en_ner_bc5cdr_md:
      onnx: bc5cdr/model.onnx
      max_tokens: 128
audit:
  sinks:
    - type: file_jsonl
      path: /var/log/medner/audit.jsonl
logging:
  file: /var/log/medner/medner.log
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, int64(1048576), cfg.Server.MaxUploadBytes)
	assert.Equal(t, 1, cfg.Server.RateLimitBurst)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "pure", cfg.PDF.Engine)
	assert.Equal(t, "word", cfg.Cleaning.Mode)
	assert.Equal(t, "ordinary", cfg.Cleaning.OrdinaryModel)
	assert.Equal(t, "PERSON", cfg.Cleaning.LabelAliases["PER"])
	assert.Equal(t, "bc5cdr/model.onnx", cfg.Models.Registry["en_ner_bc5cdr_md"].Onnx)
	assert.Equal(t, 128, cfg.Models.Registry["en_ner_bc5cdr_md"].MaxTokens)
	assert.Contains(t, cfg.Models.Registry, "ordinary")
	assert.Contains(t, cfg.Models.Registry, "en_core_med7_lg")
	assert.Equal(t, 100, cfg.Logging.MaxSizeMB)
	require.NoError(t, Validate(cfg))

	rc := cfg.RegistryConfig()
	assert.Equal(t, "/srv/models", rc.ModelsDir)
	assert.Len(t, rc.Models, 3)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MEDNER_ADDR", "127.0.0.1:7000")
	t.Setenv("MEDNER_MODELS_DIR", "/opt/models")
	t.Setenv("ONNXRUNTIME_SHARED_LIBRARY_PATH", "/opt/lib/libonnxruntime.so")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	assert.Equal(t, "/opt/models", cfg.Models.Dir)
	assert.Equal(t, "/opt/lib/libonnxruntime.so", cfg.Models.Runtime.SharedLibraryPath)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
