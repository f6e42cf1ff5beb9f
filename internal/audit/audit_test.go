package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/straja-ai/medner/internal/config"
	"github.com/straja-ai/medner/internal/entities"
	"github.com/straja-ai/medner/internal/pipeline"
)

func TestBuildEventSuccess(t *testing.T) {
	res := &pipeline.Result{
		ClinicalEntities: []entities.Record{
			{Entity: "diabetes", Label: "DISEASE"},
			{Entity: "asthma", Label: "DISEASE"},
		},
		DrugEntities: []entities.Record{{Entity: "aspirin", Label: "DRUG"}},
		Stats: pipeline.Stats{
			Extract:   3 * time.Millisecond,
			TextBytes: 120,
			Cleaned:   90,
			Redacted:  map[entities.Category]int{entities.CategoryPerson: 2, entities.CategoryGPE: 1},
		},
	}
	ev := BuildEvent(BuildParams{
		RequestID:    "req-1",
		Status:       http.StatusOK,
		UploadBytes:  2048,
		Result:       res,
		DiseaseModel: "en_ner_bc5cdr_md",
		DrugModel:    "en_core_med7_lg",
		Total:        10 * time.Millisecond,
	})

	if ev.RequestID != "req-1" || ev.Outcome != OutcomeOK || ev.Status != 200 {
		t.Fatalf("unexpected header fields: %+v", ev)
	}
	if ev.RedactedTotal != 3 || ev.Redacted["PERSON"] != 2 {
		t.Fatalf("unexpected redaction counts: %+v", ev.Redacted)
	}
	if ev.Clinical == nil || ev.Clinical.Count != 2 || ev.Clinical.Labels["DISEASE"] != 2 {
		t.Fatalf("unexpected clinical summary: %+v", ev.Clinical)
	}
	if ev.Drug == nil || ev.Drug.Model != "en_core_med7_lg" || ev.Drug.Count != 1 {
		t.Fatalf("unexpected drug summary: %+v", ev.Drug)
	}
	if ev.TimingMs.Extract != 3 || ev.TimingMs.Total != 10 {
		t.Fatalf("unexpected timings: %+v", ev.TimingMs)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, leak := range []string{"diabetes", "aspirin", "asthma"} {
		if strings.Contains(string(data), leak) {
			t.Fatalf("event leaks entity text %q: %s", leak, data)
		}
	}
}

func TestBuildEventFailure(t *testing.T) {
	ev := BuildEvent(BuildParams{Status: 415, Err: errors.New("Unsupported file type")})
	if ev.Outcome != OutcomeRejected {
		t.Fatalf("expected rejected, got %s", ev.Outcome)
	}
	if ev.RequestID == "" {
		t.Fatal("expected generated request id")
	}
	if ev.Clinical != nil || ev.Drug != nil {
		t.Fatal("failed requests carry no entity summaries")
	}

	ev = BuildEvent(BuildParams{Status: 500, Err: errors.New("model unavailable"), Result: &pipeline.Result{}})
	if ev.Outcome != OutcomeError || ev.Error != "model unavailable" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Clinical != nil {
		t.Fatal("error events carry no entity summaries")
	}
}

func TestSortedLabels(t *testing.T) {
	s := &ModelSummary{Labels: map[string]int{"DRUG": 1, "DOSAGE": 2}}
	got := s.SortedLabels()
	if len(got) != 2 || got[0] != "DOSAGE" || got[1] != "DRUG" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestFileSinkWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	sink, err := NewFileSink(path, 1)
	if err != nil {
		t.Fatalf("file sink: %v", err)
	}

	for _, id := range []string{"req-1", "req-2"} {
		if err := sink.Deliver(context.Background(), &Event{Version: "1", RequestID: id, Outcome: OutcomeOK}); err != nil {
			t.Fatalf("deliver %s: %v", id, err)
		}
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close sink: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var decoded Event
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("unmarshal jsonl line: %v", err)
	}
	if decoded.RequestID != "req-1" {
		t.Fatalf("expected request_id req-1, got %s", decoded.RequestID)
	}
}

func TestWebhookSinkHandlesNon2xx(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("fail"))
	}))

	sink, err := NewWebhookSink(srv.URL, map[string]string{"X-Test": "1"}, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("webhook sink: %v", err)
	}
	err = sink.Deliver(context.Background(), &Event{Version: "1", RequestID: "req-1"})
	if err == nil {
		t.Fatal("expected non-2xx to return error")
	}
	if !strings.Contains(err.Error(), "status 418") {
		t.Fatalf("error should mention status, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestEmitterDropsWhenQueueFull(t *testing.T) {
	wait := make(chan struct{})
	sink := &blockingSink{wait: wait}
	em := NewEmitter(EmitterConfig{QueueSize: 1, Workers: 1, ShutdownTimeout: time.Second}, []Sink{sink})

	ev := &Event{Version: "1", RequestID: "r1"}
	em.Emit(ev)
	em.Emit(ev)
	em.Emit(ev)

	if em.Stats().Dropped == 0 {
		t.Fatal("expected dropped events when queue is full")
	}

	close(wait)
	if err := em.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if em.Emit(ev) {
		t.Fatal("closed emitter must not accept events")
	}
}

func TestEmitterWebhookIntegration(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Event
	)
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err == nil && r.Header.Get("X-Request-Id") == ev.RequestID {
			mu.Lock()
			received = append(received, ev)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))

	sink, err := NewWebhookSink(srv.URL, nil, time.Second)
	if err != nil {
		t.Fatalf("webhook sink: %v", err)
	}
	em := NewEmitter(EmitterConfig{QueueSize: 8, Workers: 1, ShutdownTimeout: time.Second}, []Sink{sink})
	defer em.Close(context.Background())

	for i := 0; i < 5; i++ {
		em.Emit(&Event{Version: "1", RequestID: "integration"})
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n >= 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for webhook events, got %d", n)
		}
		time.Sleep(20 * time.Millisecond)
	}

	st := em.Stats()
	if st.SinkSuccess[sink.Name()] == 0 {
		t.Fatal("expected sink success counter to increase")
	}
	if st.Dropped != 0 {
		t.Fatalf("did not expect dropped events, got %d", st.Dropped)
	}
}

func TestNewSinks(t *testing.T) {
	sinks, err := NewSinks([]config.AuditSinkConfig{
		{Type: "stdout"},
		{Type: "file_jsonl", Path: filepath.Join(t.TempDir(), "a.jsonl")},
		{Type: "webhook", URL: "https://audit.example.com/events"},
	})
	if err != nil {
		t.Fatalf("new sinks: %v", err)
	}
	if len(sinks) != 3 {
		t.Fatalf("expected 3 sinks, got %d", len(sinks))
	}
	for _, s := range sinks {
		_ = s.Close(context.Background())
	}

	if _, err := NewSinks([]config.AuditSinkConfig{{Type: "stdout"}, {Type: "kafka"}}); err == nil {
		t.Fatal("expected error for unknown sink type")
	}
}

type blockingSink struct {
	wait chan struct{}
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Deliver(context.Context, *Event) error {
	<-s.wait
	return nil
}

func (s *blockingSink) Close(context.Context) error { return nil }

func newTestServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping: cannot open listener: %v", err)
	}
	srv := httptest.NewUnstartedServer(h)
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}
