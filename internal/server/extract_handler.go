package server

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/straja-ai/medner/internal/audit"
	"github.com/straja-ai/medner/internal/pdftext"
	"github.com/straja-ai/medner/internal/pipeline"
	"github.com/straja-ai/medner/internal/redact"
	"github.com/straja-ai/medner/internal/telemetry"
)

const (
	msgTooLarge        = "File too large. The maximum file size is 5MB."
	msgNoFilePart      = "No file part"
	msgNoSelectedFile  = "No selected file"
	msgUnsupportedType = "Unsupported file type"
)

// maxMemory is how much of a multipart body is held in memory before
// spilling to disk; the body itself is capped by max_upload_bytes.
const maxMemory = 1 << 20

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	started := time.Now()
	requestID := requestIDFrom(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)
	}
	s.requests.Start(requestID)

	ctx, span := s.telemetry.StartSpan(r.Context(), "medner.extract", trace.SpanKindServer, map[string]interface{}{
		"request_id":    requestID,
		"request_bytes": r.ContentLength,
	})
	r = r.WithContext(ctx)

	rec := &outcome{requestID: requestID, clientID: clientIDFrom(ctx), started: started, span: span}
	defer s.finish(ctx, rec)

	redact.Logf("server: request=%s %s called", requestID, extractPath)

	if r.ContentLength > s.cfg.MaxUploadBytes {
		s.fail(w, rec, http.StatusRequestEntityTooLarge, msgTooLarge, nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			s.fail(w, rec, http.StatusRequestEntityTooLarge, msgTooLarge, err)
			return
		}
		s.fail(w, rec, http.StatusBadRequest, msgNoFilePart, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		// A part named "file" with an empty filename is parsed as a plain value.
		if _, ok := r.MultipartForm.Value["file"]; ok {
			s.fail(w, rec, http.StatusBadRequest, msgNoSelectedFile, nil)
			return
		}
		s.fail(w, rec, http.StatusBadRequest, msgNoFilePart, nil)
		return
	}
	defer file.Close()
	rec.uploadBytes = header.Size

	if header.Filename == "" {
		s.fail(w, rec, http.StatusBadRequest, msgNoSelectedFile, nil)
		return
	}
	if !strings.HasSuffix(header.Filename, ".pdf") {
		s.fail(w, rec, http.StatusUnsupportedMediaType, msgUnsupportedType, nil)
		return
	}

	path, err := s.saveUpload(file, header)
	if err != nil {
		s.fail(w, rec, http.StatusInternalServerError, err.Error(), err)
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			redact.Logf("server: request=%s remove upload: %v", requestID, err)
			return
		}
		redact.Logf("server: request=%s temporary upload removed", requestID)
	}()

	res, err := s.processor.Run(r.Context(), path)
	rec.result = res
	if err != nil {
		s.fail(w, rec, http.StatusInternalServerError, errorMessage(err), err)
		return
	}

	rec.status = http.StatusOK
	redact.Logf("server: request=%s entities extracted clinical=%d drug=%d", requestID, len(res.ClinicalEntities), len(res.DrugEntities))
	writeJSON(w, http.StatusOK, res)
}

// errorMessage maps pipeline failures to the client-facing message.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, pdftext.ErrCorrupted):
		return pdftext.ErrCorrupted.Error()
	case errors.Is(err, pipeline.ErrNoText):
		return pipeline.ErrNoText.Error()
	default:
		return err.Error()
	}
}

func (s *Server) saveUpload(src multipart.File, header *multipart.FileHeader) (string, error) {
	dir := s.cfg.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	dst, err := os.CreateTemp(dir, "medner-*-"+secureFilename(header.Filename))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

// secureFilename reduces name to ASCII letters, digits, dot, dash and
// underscore, without leading dots, so it cannot escape the upload dir.
func secureFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	var b strings.Builder
	for _, r := range strings.Join(strings.Fields(name), "_") {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	out := strings.TrimLeft(b.String(), "._")
	if out == "" {
		return "upload.pdf"
	}
	return out
}

type outcome struct {
	requestID   string
	clientID    string
	started     time.Time
	status      int
	err         error
	uploadBytes int64
	result      *pipeline.Result
	span        trace.Span
}

func (s *Server) fail(w http.ResponseWriter, rec *outcome, status int, message string, err error) {
	rec.status = status
	rec.err = errors.New(message)
	if err != nil {
		redact.Logf("server: request=%s status=%d error=%v", rec.requestID, status, err)
	} else {
		redact.Logf("server: request=%s status=%d error=%s", rec.requestID, status, message)
	}
	writeError(w, status, message)
}

func (s *Server) finish(ctx context.Context, rec *outcome) {
	disease, drug := "", ""
	if s.processor != nil {
		disease, drug = s.processor.Models()
	}
	ev := audit.BuildEvent(audit.BuildParams{
		RequestID:    rec.requestID,
		ClientID:     rec.clientID,
		Status:       rec.status,
		Err:          rec.err,
		UploadBytes:  rec.uploadBytes,
		Result:       rec.result,
		DiseaseModel: disease,
		DrugModel:    drug,
		Total:        time.Since(rec.started),
	})
	s.requests.Complete(rec.requestID, ev)
	if s.audit != nil {
		s.audit.Emit(ev)
	}

	s.telemetry.RecordRequest(ctx, requestMetrics(ev))
	if rec.span != nil {
		rec.span.SetAttributes(telemetry.SafeAttributes(map[string]interface{}{
			"http.status_code": rec.status,
			"medner.outcome":   string(ev.Outcome),
			"upload_bytes":     rec.uploadBytes,
		})...)
		if rec.err != nil {
			rec.span.SetStatus(codes.Error, rec.err.Error())
		}
		rec.span.End()
	}
}

func requestMetrics(ev *audit.Event) telemetry.RequestMetrics {
	m := telemetry.RequestMetrics{
		Outcome:    string(ev.Outcome),
		Status:     ev.Status,
		DurationMs: ev.TimingMs.Total,
		StagesMs: map[string]float64{
			"sniff":   ev.TimingMs.Sniff,
			"extract": ev.TimingMs.Extract,
			"clean":   ev.TimingMs.Clean,
			"disease": ev.TimingMs.Disease,
			"drug":    ev.TimingMs.Drug,
		},
		Redacted: ev.Redacted,
		Entities: map[string]int{},
	}
	for _, sum := range []*audit.ModelSummary{ev.Clinical, ev.Drug} {
		if sum != nil {
			m.Entities[sum.Model] += sum.Count
		}
	}
	return m
}
