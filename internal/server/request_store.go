package server

import (
	"sync"
	"time"

	"github.com/straja-ai/medner/internal/audit"
)

const (
	statusProcessing = "processing"
	statusCompleted  = "completed"
)

// requestStore keeps the audit event of recent requests so clients can look
// up what happened to an upload by its X-Request-Id.
type requestStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	data map[string]requestEntry
}

type requestEntry struct {
	status    string
	event     *audit.Event
	expiresAt time.Time
}

func newRequestStore(ttl time.Duration) *requestStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &requestStore{
		ttl:  ttl,
		data: make(map[string]requestEntry),
	}
}

func (s *requestStore) Start(requestID string) {
	s.put(requestID, requestEntry{status: statusProcessing})
}

func (s *requestStore) Complete(requestID string, ev *audit.Event) {
	s.put(requestID, requestEntry{status: statusCompleted, event: ev})
}

func (s *requestStore) put(requestID string, entry requestEntry) {
	if s == nil || requestID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	entry.expiresAt = time.Now().Add(s.ttl)
	s.data[requestID] = entry
}

func (s *requestStore) Get(requestID string) (requestEntry, bool) {
	if s == nil || requestID == "" {
		return requestEntry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	entry, ok := s.data[requestID]
	return entry, ok
}

func (s *requestStore) cleanupLocked() {
	now := time.Now()
	for k, v := range s.data {
		if now.After(v.expiresAt) {
			delete(s.data, k)
		}
	}
}
