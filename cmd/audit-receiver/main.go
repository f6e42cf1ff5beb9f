package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/straja-ai/medner/internal/audit"
)

const maxEventBytes = 1 << 20

func main() {
	addr := flag.String("addr", ":8099", "listen address for audit receiver")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/audit", handleAudit)
	mux.HandleFunc("/", handleAudit)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("audit receiver listening on %s (POST JSON to /audit)...", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("receiver error: %v", err)
	}
}

func handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	_ = r.Body.Close()
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	var ev audit.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Printf("rejected audit event: path=%s len=%d err=%v", r.URL.Path, len(body), err)
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}
	if hdr := r.Header.Get("X-Request-Id"); hdr != "" && hdr != ev.RequestID {
		log.Printf("request id mismatch: header=%s body=%s", hdr, ev.RequestID)
	}

	audit.LogEvent(&ev)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, `{"status":"ok"}`+"\n")
}
