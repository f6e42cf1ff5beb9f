package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/straja-ai/medner/internal/audit"
	"github.com/straja-ai/medner/internal/auth"
	"github.com/straja-ai/medner/internal/config"
	"github.com/straja-ai/medner/internal/console"
	"github.com/straja-ai/medner/internal/pipeline"
	"github.com/straja-ai/medner/internal/redact"
	"github.com/straja-ai/medner/internal/telemetry"
)

const extractPath = "/api/v1/extract"

// Processor runs the extraction pipeline on a saved upload.
type Processor interface {
	Run(ctx context.Context, path string) (*pipeline.Result, error)
	Models() (disease, drug string)
}

// Server is the medner HTTP API.
type Server struct {
	mux       *http.ServeMux
	cfg       config.ServerConfig
	processor Processor
	audit     *audit.Emitter
	admission *admission
	requests  *requestStore
	telemetry *telemetry.Provider
	auth      *auth.Auth
}

// New creates a server with all routes registered. emitter may be nil.
func New(cfg *config.Config, processor Processor, emitter *audit.Emitter) *Server {
	mux := http.NewServeMux()
	s := &Server{
		mux:       mux,
		cfg:       cfg.Server,
		processor: processor,
		audit:     emitter,
		admission: newAdmission(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst, cfg.Server.MaxInFlight),
		requests:  newRequestStore(0),
	}

	// Routes
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc(extractPath, s.requireAPIKey(s.admission.wrap(s.handleExtract)))
	mux.HandleFunc(requestStatusPrefix, s.requireAPIKey(s.handleRequestStatus))
	if cfg.Server.Console {
		mux.Handle("/console", console.Handler())
	}

	return s
}

// SetTelemetry attaches a telemetry provider. A nil provider disables it.
func (s *Server) SetTelemetry(p *telemetry.Provider) {
	s.telemetry = p
}

// SetAuth requires an API key on the extract endpoint when a has keys.
func (s *Server) SetAuth(a *auth.Auth) {
	s.auth = a
}

// Handler returns the root handler with request-id tagging applied.
func (s *Server) Handler() http.Handler {
	return withRequestID(s.mux)
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		redact.Logf("medner API running on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	redact.Logf("medner API shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "ok")
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError writes {"error": message}.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		redact.Logf("server: failed to write response: %v", err)
	}
}

type ctxKey struct{}

type clientKey struct{}

// requireAPIKey rejects requests without a known bearer key when auth is
// enabled and records the client id on the request context.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			next(w, r)
			return
		}
		client, ok := s.auth.Lookup(auth.KeyFromRequest(r))
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="medner"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), clientKey{}, client.ID)))
	}
}

func clientIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(clientKey{}).(string); ok {
		return id
	}
	return ""
}

// withRequestID keeps a caller-supplied X-Request-Id when it is a UUID and
// mints one otherwise. The id is echoed in the response header.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}
