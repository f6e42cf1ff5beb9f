package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/straja-ai/medner/internal/redact"
)

// Sink consumes audit events.
type Sink interface {
	Name() string
	Deliver(context.Context, *Event) error
	Close(context.Context) error
}

type sinkCounters struct {
	success atomic.Uint64
	failure atomic.Uint64
}

// Stats is a point-in-time copy of the emitter counters.
type Stats struct {
	Enqueued    uint64            `json:"enqueued"`
	Dropped     uint64            `json:"dropped"`
	SinkSuccess map[string]uint64 `json:"sink_success"`
	SinkFailure map[string]uint64 `json:"sink_failure"`
}

// EmitterConfig controls worker and queue sizing.
type EmitterConfig struct {
	QueueSize       int
	Workers         int
	ShutdownTimeout time.Duration
	// DeliverTimeout bounds a single Deliver call.
	DeliverTimeout time.Duration
}

// Emitter buffers events and delivers them to every sink from a fixed pool
// of workers. Emit never blocks; a full queue drops the event.
type Emitter struct {
	queue           chan *Event
	sinks           []Sink
	counters        map[string]*sinkCounters
	shutdownTimeout time.Duration
	deliverTimeout  time.Duration

	enqueued atomic.Uint64
	dropped  atomic.Uint64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewEmitter starts background workers to deliver events to sinks.
func NewEmitter(cfg EmitterConfig, sinks []Sink) *Emitter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = 5 * time.Second
	}

	e := &Emitter{
		queue:           make(chan *Event, cfg.QueueSize),
		sinks:           sinks,
		counters:        make(map[string]*sinkCounters, len(sinks)),
		shutdownTimeout: cfg.ShutdownTimeout,
		deliverTimeout:  cfg.DeliverTimeout,
	}
	for _, s := range sinks {
		e.counters[s.Name()] = &sinkCounters{}
	}
	for i := 0; i < cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Emit enqueues ev and reports whether it was accepted.
func (e *Emitter) Emit(ev *Event) bool {
	if e == nil || ev == nil {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return false
	}
	select {
	case e.queue <- ev:
		e.enqueued.Add(1)
		return true
	default:
		e.dropped.Add(1)
		return false
	}
}

// Close stops accepting events, waits for the queue to drain up to the
// shutdown timeout, then closes every sink.
func (e *Emitter) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	waitCtx, cancel := context.WithTimeout(ctx, e.shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-waitCtx.Done():
		redact.Logf("audit: shutdown timeout, %d events undelivered", len(e.queue))
	}

	var errs []error
	for _, s := range e.sinks {
		if err := s.Close(waitCtx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Stats copies the current counters.
func (e *Emitter) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	st := Stats{
		Enqueued:    e.enqueued.Load(),
		Dropped:     e.dropped.Load(),
		SinkSuccess: make(map[string]uint64, len(e.counters)),
		SinkFailure: make(map[string]uint64, len(e.counters)),
	}
	for name, c := range e.counters {
		st.SinkSuccess[name] = c.success.Load()
		st.SinkFailure[name] = c.failure.Load()
	}
	return st
}

func (e *Emitter) worker() {
	defer e.wg.Done()
	for ev := range e.queue {
		e.deliver(ev)
	}
}

func (e *Emitter) deliver(ev *Event) {
	for _, s := range e.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), e.deliverTimeout)
		err := s.Deliver(ctx, ev)
		cancel()
		c := e.counters[s.Name()]
		if err != nil {
			redact.Logf("audit: sink %s failed: %v", s.Name(), err)
			c.failure.Add(1)
			continue
		}
		c.success.Add(1)
	}
}
