package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/straja-ai/medner/internal/cleaner"
	"github.com/straja-ai/medner/internal/pdftext"
)

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		return errors.New("server.max_upload_bytes must be positive")
	}
	if cfg.Server.RateLimitPerSecond < 0 {
		return errors.New("server.rate_limit_per_second must not be negative")
	}
	if cfg.Server.MaxInFlight < 0 {
		return errors.New("server.max_in_flight must not be negative")
	}

	if _, err := pdftext.NewExtractor(cfg.PDF.Engine); err != nil {
		return fmt.Errorf("pdf.engine: %w", err)
	}
	if _, err := pdftext.NewSniffer(cfg.PDF.Sniffer); err != nil {
		return fmt.Errorf("pdf.sniffer: %w", err)
	}

	if _, err := cleaner.ParseMode(cfg.Cleaning.Mode); err != nil {
		return fmt.Errorf("cleaning.mode: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Cleaning.Recognizer)) {
	case "", "prose":
	case "onnx":
		if strings.TrimSpace(cfg.Cleaning.OrdinaryModel) == "" {
			return errors.New("cleaning.ordinary_model must be set when cleaning.recognizer is onnx")
		}
	default:
		return fmt.Errorf("cleaning.recognizer must be prose or onnx, got %q", cfg.Cleaning.Recognizer)
	}

	if err := validateModelsConfig(cfg.Models); err != nil {
		return err
	}

	if err := validateAuditConfig(cfg.Audit); err != nil {
		return err
	}

	if err := validateTelemetryConfig(cfg.Telemetry); err != nil {
		return err
	}

	if err := validateClients(cfg.Clients); err != nil {
		return err
	}

	return nil
}

func validateClients(clients []ClientConfig) error {
	ids := make(map[string]bool, len(clients))
	for i, c := range clients {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return fmt.Errorf("clients[%d].id must be set", i)
		}
		if ids[id] {
			return fmt.Errorf("client id %q is defined more than once", id)
		}
		ids[id] = true
		keys := 0
		for _, k := range c.APIKeys {
			if strings.TrimSpace(k) != "" {
				keys++
			}
		}
		if keys == 0 {
			return fmt.Errorf("client %q has no api_keys", id)
		}
	}
	return nil
}

func validateTelemetryConfig(t TelemetryConfig) error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		return errors.New("telemetry enabled but endpoint is empty")
	}
	switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", t.Protocol)
	}
	return nil
}

func validateModelsConfig(m ModelsConfig) error {
	if strings.TrimSpace(m.Disease) == "" {
		return errors.New("models.disease must be set")
	}
	if strings.TrimSpace(m.Drug) == "" {
		return errors.New("models.drug must be set")
	}
	for id, mc := range m.Registry {
		if strings.TrimSpace(mc.Onnx) == "" {
			return fmt.Errorf("models.registry.%s missing onnx path", id)
		}
		if mc.MaxTokens < 0 {
			return fmt.Errorf("models.registry.%s max_tokens must not be negative", id)
		}
	}
	return nil
}

func validateAuditConfig(a AuditConfig) error {
	for i, s := range a.Sinks {
		switch strings.ToLower(strings.TrimSpace(s.Type)) {
		case "stdout":
		case "file_jsonl":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("audit sink %d (file_jsonl) missing path", i)
			}
		case "webhook":
			if strings.TrimSpace(s.URL) == "" {
				return fmt.Errorf("audit sink %d (webhook) missing url", i)
			}
			u, err := url.Parse(s.URL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("audit sink %d (webhook) has invalid url", i)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("audit sink %d (webhook) url must be http or https", i)
			}
			if err := blockPrivateHost(u.Host, s.AllowPrivateNetworks); err != nil {
				return fmt.Errorf("audit sink %d (webhook) url blocked: %w", i, err)
			}
		default:
			return fmt.Errorf("audit sink %d has unknown type %q", i, s.Type)
		}
	}
	return nil
}

func blockPrivateHost(hostport string, allowPrivate bool) error {
	if allowPrivate {
		return nil
	}
	host := hostport
	if strings.Contains(hostport, "]") || strings.Contains(hostport, ":") {
		h, _, err := net.SplitHostPort(hostport)
		if err == nil {
			host = h
		}
	}
	lc := strings.ToLower(strings.TrimSpace(host))
	if lc == "localhost" {
		return errors.New("private network host localhost blocked for SSRF safety")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return fmt.Errorf("private network IP %s blocked for SSRF safety", ip.String())
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	privateBlocks := []*net.IPNet{
		{IP: net.ParseIP("127.0.0.0"), Mask: net.CIDRMask(8, 32)},
		{IP: net.ParseIP("10.0.0.0"), Mask: net.CIDRMask(8, 32)},
		{IP: net.ParseIP("172.16.0.0"), Mask: net.CIDRMask(12, 32)},
		{IP: net.ParseIP("192.168.0.0"), Mask: net.CIDRMask(16, 32)},
		{IP: net.ParseIP("169.254.0.0"), Mask: net.CIDRMask(16, 32)},
		{IP: net.ParseIP("::1"), Mask: net.CIDRMask(128, 128)},
		{IP: net.ParseIP("fc00::"), Mask: net.CIDRMask(7, 128)},
		{IP: net.ParseIP("fe80::"), Mask: net.CIDRMask(10, 128)},
	}
	for _, block := range privateBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}
