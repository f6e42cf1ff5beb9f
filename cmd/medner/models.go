package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var modelsLoad bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List configured models",
	Long: `List the model ids in the registry with their ONNX paths.

With --load every model is loaded once, which checks that the runtime,
tokenizer and label files are in place.`,
	Args: cobra.NoArgs,
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().BoolVar(&modelsLoad, "load", false, "Load each model and report failures")
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	failed := 0
	for _, id := range a.registry.IDs() {
		status := "configured"
		if modelsLoad {
			if _, err := a.registry.Get(id); err != nil {
				status = "error: " + err.Error()
				failed++
			} else {
				status = "ok"
			}
		}
		fmt.Fprintf(out, "%s\t%s\t%s\n", id, cfg.Models.Registry[id].Onnx, status)
	}
	if failed > 0 {
		return fmt.Errorf("%d model(s) failed to load", failed)
	}
	return nil
}
