package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	extractPretty bool
	extractStats  bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <file.pdf>",
	Short: "Extract entities from a local PDF and print JSON",
	Long: `Run the same pipeline as the HTTP API on a local file.

Examples:
  medner extract discharge.pdf
  medner extract --pretty --stats discharge.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().BoolVar(&extractPretty, "pretty", false, "Indent JSON output")
	extractCmd.Flags().BoolVar(&extractStats, "stats", false, "Print stage timings to stderr")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.pipeline.Run(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	if extractPretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(res); err != nil {
		return err
	}

	if extractStats {
		st := res.Stats
		fmt.Fprintf(os.Stderr, "sniff=%s extract=%s clean=%s disease=%s drug=%s text_bytes=%d redacted=%d\n",
			st.Sniff, st.Extract, st.Clean, st.Disease, st.Drug, st.TextBytes, st.RedactedTotal())
	}
	return nil
}
