package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "extract", "clean", "models"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestCleanCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader("fever and cough, see http://example.org/notes\n"))
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "clean"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "fever and cough see\n", out.String())
}

func TestExtractRequiresFile(t *testing.T) {
	rootCmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "extract"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	assert.Error(t, rootCmd.Execute())
}
