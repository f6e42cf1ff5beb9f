package ner

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	defaultIntraThreads = 1
	defaultInterThreads = 1
	defaultSeqLen       = 256
)

// RuntimeConfig is the user-facing ONNX runtime tuning.
type RuntimeConfig struct {
	SharedLibraryPath string `yaml:"shared_library_path"`
	MaxSessions       int    `yaml:"max_sessions"`
	IntraThreads      int    `yaml:"intra_threads"`
	InterThreads      int    `yaml:"inter_threads"`
}

// RuntimeSettings are the resolved values used when creating sessions.
type RuntimeSettings struct {
	SharedLibraryPath string
	MaxSessions       int
	IntraThreads      int
	InterThreads      int
}

// ResolveRuntime fills defaults for unset runtime values.
func ResolveRuntime(cfg RuntimeConfig) RuntimeSettings {
	rt := RuntimeSettings{
		SharedLibraryPath: strings.TrimSpace(cfg.SharedLibraryPath),
		MaxSessions:       cfg.MaxSessions,
		IntraThreads:      cfg.IntraThreads,
		InterThreads:      cfg.InterThreads,
	}
	if rt.MaxSessions <= 0 {
		rt.MaxSessions = 1
	}
	if rt.IntraThreads <= 0 {
		rt.IntraThreads = defaultIntraThreads
		if n := runtime.NumCPU() / 2; n > rt.IntraThreads {
			rt.IntraThreads = n
		}
	}
	if rt.InterThreads <= 0 {
		rt.InterThreads = defaultInterThreads
	}
	return rt
}

var envMu sync.Mutex

// initEnvironment points onnxruntime_go at a shared library and initializes
// the process-wide environment once.
func initEnvironment(modelsDir string, rt RuntimeSettings) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	libPath := rt.SharedLibraryPath
	if libPath == "" {
		libPath = resolveSharedLibraryPath(modelsDir)
	}
	if libPath == "" {
		return fmt.Errorf("%w: onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime", ErrModelUnavailable)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("%w: initialize onnxruntime: %v", ErrModelUnavailable, err)
	}
	return nil
}

// DestroyEnvironment releases the onnxruntime environment, if initialized.
func DestroyEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// resolveSharedLibraryPath attempts to locate a platform-specific onnxruntime shared library.
// If ONNXRUNTIME_SHARED_LIBRARY_PATH is set, it wins; otherwise we probe common names/locations.
func resolveSharedLibraryPath(modelsDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.so",
		"onnxruntime.so",
		"libonnxruntime.dylib",
		"onnxruntime.dylib",
		"onnxruntime.dll",
	}
	dirs := []string{".", "/opt/homebrew/lib", "/usr/local/lib", "/usr/lib"}
	if modelsDir != "" {
		dirs = append([]string{modelsDir, filepath.Join(modelsDir, "lib")}, dirs...)
	}

	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
