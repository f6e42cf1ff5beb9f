// Package audit records one event per extraction request and ships it to
// sinks off the request path. Events carry counts and timings only, never
// document text or file names.
package audit

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/straja-ai/medner/internal/entities"
	"github.com/straja-ai/medner/internal/pipeline"
	"github.com/straja-ai/medner/internal/redact"
)

// Outcome is the result of a request.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeRejected Outcome = "rejected" // client error, nothing processed
	OutcomeError    Outcome = "error"
)

const eventVersion = "1"

// ModelSummary counts the entities one model returned.
type ModelSummary struct {
	Model  string         `json:"model"`
	Count  int            `json:"count"`
	Labels map[string]int `json:"labels,omitempty"`
}

type TimingMs struct {
	Sniff   float64 `json:"sniff"`
	Extract float64 `json:"extract"`
	Clean   float64 `json:"clean"`
	Disease float64 `json:"disease"`
	Drug    float64 `json:"drug"`
	Total   float64 `json:"total"`
}

// Event is the audit payload.
type Event struct {
	Version       string         `json:"version"`
	Timestamp     time.Time      `json:"timestamp"`
	RequestID     string         `json:"request_id"`
	ClientID      string         `json:"client_id,omitempty"`
	Outcome       Outcome        `json:"outcome"`
	Status        int            `json:"status"`
	Error         string         `json:"error,omitempty"`
	UploadBytes   int64          `json:"upload_bytes"`
	TextBytes     int            `json:"text_bytes"`
	CleanedBytes  int            `json:"cleaned_bytes"`
	Redacted      map[string]int `json:"redacted,omitempty"`
	RedactedTotal int            `json:"redacted_total"`
	Clinical      *ModelSummary  `json:"clinical,omitempty"`
	Drug          *ModelSummary  `json:"drug,omitempty"`
	TimingMs      TimingMs       `json:"timing_ms"`
}

// BuildParams collects inputs needed to assemble an event.
type BuildParams struct {
	RequestID    string
	ClientID     string
	Status       int
	Err          error
	UploadBytes  int64
	Result       *pipeline.Result
	DiseaseModel string
	DrugModel    string
	Total        time.Duration
}

// BuildEvent assembles an event from a finished request.
func BuildEvent(p BuildParams) *Event {
	ev := &Event{
		Version:     eventVersion,
		Timestamp:   time.Now().UTC(),
		RequestID:   ensureRequestID(p.RequestID),
		ClientID:    p.ClientID,
		Outcome:     outcomeFor(p.Status),
		Status:      p.Status,
		UploadBytes: p.UploadBytes,
	}
	if p.Err != nil {
		ev.Error = redact.String(p.Err.Error())
	}
	ev.TimingMs.Total = durationMillis(p.Total)

	if p.Result == nil {
		return ev
	}
	st := p.Result.Stats
	ev.TextBytes = st.TextBytes
	ev.CleanedBytes = st.Cleaned
	ev.RedactedTotal = st.RedactedTotal()
	if len(st.Redacted) > 0 {
		ev.Redacted = make(map[string]int, len(st.Redacted))
		for cat, n := range st.Redacted {
			ev.Redacted[string(cat)] = n
		}
	}
	ev.TimingMs.Sniff = durationMillis(st.Sniff)
	ev.TimingMs.Extract = durationMillis(st.Extract)
	ev.TimingMs.Clean = durationMillis(st.Clean)
	ev.TimingMs.Disease = durationMillis(st.Disease)
	ev.TimingMs.Drug = durationMillis(st.Drug)

	if p.Status < 400 {
		ev.Clinical = summarize(p.DiseaseModel, p.Result.ClinicalEntities)
		ev.Drug = summarize(p.DrugModel, p.Result.DrugEntities)
	}
	return ev
}

// LogEvent prints a redacted JSON representation of the event.
func LogEvent(ev *Event) {
	if ev == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		redact.Logf("audit: failed to marshal event: %v", err)
		return
	}
	redact.Logf("audit: %s", string(data))
}

// SortedLabels returns the label names of a summary in sorted order.
func (s *ModelSummary) SortedLabels() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Labels))
	for l := range s.Labels {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func summarize(model string, recs []entities.Record) *ModelSummary {
	s := &ModelSummary{Model: model, Count: len(recs)}
	if len(recs) == 0 {
		return s
	}
	s.Labels = make(map[string]int)
	for _, r := range recs {
		s.Labels[r.Label]++
	}
	return s
}

func outcomeFor(status int) Outcome {
	switch {
	case status >= 500:
		return OutcomeError
	case status >= 400:
		return OutcomeRejected
	default:
		return OutcomeOK
	}
}

func ensureRequestID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
