package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/straja-ai/medner/internal/config"
)

// WriterSink writes one JSON object per line to an io.Writer.
type WriterSink struct {
	name string
	mu   sync.Mutex
	w    io.Writer
	c    io.Closer
}

// NewStdoutSink writes events to standard output.
func NewStdoutSink() *WriterSink {
	return &WriterSink{name: "stdout", w: os.Stdout}
}

// NewFileSink appends events to a JSONL file rotated at maxSizeMB.
func NewFileSink(path string, maxSizeMB int) (*WriterSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	lj := &lumberjack.Logger{Filename: path, MaxSize: maxSizeMB, MaxBackups: 5}
	return &WriterSink{name: "file_jsonl:" + path, w: lj, c: lj}, nil
}

func (s *WriterSink) Name() string { return s.name }

func (s *WriterSink) Deliver(_ context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (s *WriterSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}

// WebhookSink POSTs events to an HTTP endpoint, retrying twice on failure.
type WebhookSink struct {
	url      string
	headers  map[string]string
	client   *http.Client
	backoffs []time.Duration
}

func NewWebhookSink(url string, headers map[string]string, timeout time.Duration) (*WebhookSink, error) {
	if url == "" {
		return nil, errors.New("webhook url is empty")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	hdr := make(map[string]string, len(headers))
	for k, v := range headers {
		hdr[k] = v
	}
	return &WebhookSink{
		url:      url,
		headers:  hdr,
		client:   &http.Client{Timeout: timeout},
		backoffs: []time.Duration{100 * time.Millisecond, 300 * time.Millisecond},
	}, nil
}

func (s *WebhookSink) Name() string { return "webhook:" + s.url }

func (s *WebhookSink) Deliver(ctx context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(s.backoffs); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = s.post(ctx, ev.RequestID, payload)
		if lastErr == nil {
			return nil
		}
		if attempt < len(s.backoffs) {
			timer := time.NewTimer(s.backoffs[attempt])
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func (s *WebhookSink) post(ctx context.Context, requestID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("status %d body=%q", resp.StatusCode, truncateBody(body))
}

func (s *WebhookSink) Close(context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}

func truncateBody(b []byte) string {
	const limit = 200
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}

// NewSinks builds sinks from the audit config section. On error, sinks
// opened so far are closed.
func NewSinks(cfgs []config.AuditSinkConfig) ([]Sink, error) {
	var sinks []Sink
	for i, c := range cfgs {
		var (
			s   Sink
			err error
		)
		switch strings.ToLower(strings.TrimSpace(c.Type)) {
		case "stdout":
			s = NewStdoutSink()
		case "file_jsonl":
			s, err = NewFileSink(c.Path, 0)
		case "webhook":
			s, err = NewWebhookSink(c.URL, nil, c.Timeout)
		default:
			err = fmt.Errorf("unknown type %q", c.Type)
		}
		if err != nil {
			for _, open := range sinks {
				_ = open.Close(context.Background())
			}
			return nil, fmt.Errorf("audit sink %d: %w", i, err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}
