package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/straja-ai/medner/internal/redact"
)

var configPath string

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "medner",
	Short: "Extract clinical and drug entities from PDF documents",
	Long: `medner pulls the text out of a PDF, strips names, places, nationalities
and numbers, then runs a disease model and a drug model over what is left.

Run "medner serve" for the HTTP API or "medner extract <file.pdf>" for a
one-off extraction.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "medner.yaml", "Path to medner config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		redact.Logf("medner: %v", err)
		os.Exit(1)
	}
}
