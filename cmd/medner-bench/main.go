package main

import (
	"flag"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/straja-ai/medner/internal/clinical"
	"github.com/straja-ai/medner/internal/config"
	"github.com/straja-ai/medner/internal/ner"
)

func main() {
	cfgPath := flag.String("config", "", "path to config yaml (required)")
	n := flag.Int("n", 200, "number of iterations")
	modelID := flag.String("model", clinical.DiseaseModel, "registry model id to benchmark")
	text := flag.String("text", "patient presents with acute myocardial infarction treated with aspirin mg daily", "text to run through the model")
	flag.Parse()

	if *cfgPath == "" {
		log.Fatalf("config flag is required")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Single session keeps queueing out of the numbers.
	regCfg := cfg.RegistryConfig()
	regCfg.Runtime.MaxSessions = 1

	reg := ner.NewRegistry(regCfg)
	defer func() {
		_ = reg.Close()
		_ = ner.DestroyEnvironment()
	}()

	model, err := reg.Get(*modelID)
	if err != nil {
		log.Fatalf("load model %s: %v", *modelID, err)
	}

	// Warmup
	var spans int
	for i := 0; i < 5; i++ {
		out, err := model.Find(*text)
		if err != nil {
			log.Fatalf("warmup find failed: %v", err)
		}
		spans = len(out)
	}

	if *n <= 0 {
		*n = 1
	}

	durations := make([]time.Duration, 0, *n)
	for i := 0; i < *n; i++ {
		start := time.Now()
		if _, err := model.Find(*text); err != nil {
			log.Fatalf("find failed: %v", err)
		}
		durations = append(durations, time.Since(start))
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var total time.Duration
	for _, d := range durations {
		total += d
	}

	avg := float64(total.Microseconds()) / 1000.0 / float64(len(durations))
	p50 := float64(durations[len(durations)/2].Microseconds()) / 1000.0
	p95 := float64(durations[int(float64(len(durations))*0.95)].Microseconds()) / 1000.0

	fmt.Printf("bench: n=%d avg_ms=%.2f p50_ms=%.2f p95_ms=%.2f spans=%d model=%s onnx=%s\n",
		len(durations),
		avg,
		p50,
		p95,
		spans,
		*modelID,
		cfg.Models.Registry[*modelID].Onnx,
	)
}
