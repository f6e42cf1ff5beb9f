package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/straja-ai/medner/internal/audit"
	"github.com/straja-ai/medner/internal/auth"
	"github.com/straja-ai/medner/internal/redact"
	"github.com/straja-ai/medner/internal/server"
	"github.com/straja-ai/medner/internal/telemetry"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API.

Endpoints:
  POST /api/v1/extract          multipart upload, field "file"
  GET  /api/v1/requests/<id>    audit summary of a recent request
  GET  /healthz`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Models.Preload {
		if err := a.registry.Preload(); err != nil {
			return err
		}
	}

	sinks, err := audit.NewSinks(cfg.Audit.Sinks)
	if err != nil {
		return err
	}
	var emitter *audit.Emitter
	if len(sinks) > 0 {
		emitter = audit.NewEmitter(audit.EmitterConfig{
			QueueSize: cfg.Audit.QueueSize,
			Workers:   cfg.Audit.Workers,
		}, sinks)
		defer func() {
			if err := emitter.Close(context.Background()); err != nil {
				redact.Logf("medner: close audit: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Protocol: cfg.Telemetry.Protocol,
		Service:  cfg.Telemetry.Service,
		Version:  version,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			redact.Logf("medner: telemetry shutdown: %v", err)
		}
	}()

	keys, err := auth.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	srv := server.New(cfg, a.pipeline, emitter)
	srv.SetTelemetry(tel)
	srv.SetAuth(keys)
	return srv.Run(ctx)
}
