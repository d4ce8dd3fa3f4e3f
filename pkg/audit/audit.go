// Package audit implements the two-tier audit log (C8): a bounded
// in-memory ring for recent-activity reads plus a durable append-only
// mirror, fed by a non-blocking buffered Logger.
package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/vaultd/pkg/metrics"
)

// Entry is one audit record. GroupID scopes List queries (e.g. a resource
// name or capability ID); Verb is the internal operation name, Action its
// namespaced external name from ActionFor.
type Entry struct {
	ID        string          `json:"id"`
	GroupID   string          `json:"group_id"`
	Verb      string          `json:"verb"`
	Action    string          `json:"action"`
	Actor     string          `json:"actor,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is the durable mirror's contract. Schema-agnostic: any persistence
// layer satisfying this can back the Logger's durable tier.
type Store interface {
	Append(e Entry) error
	List(groupID string, limit int) ([]Entry, error)
}

const ringCapacity = 10000

// Ring is a bounded in-memory buffer of the most recent entries,
// overwriting the oldest once full.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// NewRing creates an empty ring at the package's fixed capacity.
func NewRing() *Ring {
	return &Ring{entries: make([]Entry, ringCapacity)}
}

// Add appends e, overwriting the oldest entry once the ring is full.
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns up to limit entries matching groupID (or all groups, if
// groupID is empty), most recent first.
func (r *Ring) Recent(groupID string, limit int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.entries)
	count := r.next
	if r.full {
		count = capacity
	}
	var out []Entry
	for i := 0; i < count && len(out) < limit; i++ {
		idx := (r.next - 1 - i + capacity) % capacity
		e := r.entries[idx]
		if groupID == "" || e.GroupID == groupID {
			out = append(out, e)
		}
	}
	return out
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// Logger is an async, buffered audit writer: Log never blocks the caller,
// and a background goroutine flushes to the durable Store in batches.
type Logger struct {
	ring    *Ring
	store   Store
	logger  zerolog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

// NewLogger creates a Logger. Call Start to begin the flush goroutine.
func NewLogger(store Store, logger zerolog.Logger) *Logger {
	return &Logger{
		ring:    NewRing(),
		store:   store,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start begins the background flush loop. It runs until ctx is cancelled,
// draining and flushing any remaining buffered entries before returning.
func (l *Logger) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(ctx)
	}()
}

// Close stops accepting new entries and waits for the flush loop to drain.
func (l *Logger) Close() {
	close(l.entries)
	l.wg.Wait()
}

// Log records an audit event. It never blocks or panics: the entry always
// lands in the in-memory ring immediately; if the durable-flush buffer is
// full, the entry is dropped from the durable mirror (not the ring) and a
// warning is logged.
func (l *Logger) Log(groupID, verb, actor string, detail json.RawMessage) {
	e := Entry{
		ID:        newEntryID(),
		GroupID:   groupID,
		Verb:      verb,
		Action:    ActionFor(verb),
		Actor:     actor,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	l.ring.Add(e)
	metrics.AuditEventsTotal.WithLabelValues(e.Action).Inc()

	select {
	case l.entries <- e:
	default:
		metrics.AuditRingDropsTotal.Inc()
		l.logger.Warn().Str("verb", verb).Str("group_id", groupID).Msg("audit durable-flush buffer full, dropping entry")
	}
}

// LogJSON marshals detail and calls Log. detail may be nil. A nil *Logger
// is a safe no-op, so callers can thread an optional logger through
// operations without a nil check at every call site.
func (l *Logger) LogJSON(groupID, verb, actor string, detail any) {
	if l == nil {
		return
	}
	var raw json.RawMessage
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			raw = b
		}
	}
	l.Log(groupID, verb, actor, raw)
}

// Recent reads from the in-memory ring only — fast, but bounded.
func (l *Logger) Recent(groupID string, limit int) []Entry {
	return l.ring.Recent(groupID, limit)
}

// List reads from the durable Store, falling through to the ring if no
// Store was configured.
func (l *Logger) List(groupID string, limit int) ([]Entry, error) {
	if l.store == nil {
		return l.ring.Recent(groupID, limit), nil
	}
	return l.store.List(groupID, limit)
}

func (l *Logger) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)
	flush := func() {
		if len(batch) == 0 || l.store == nil {
			batch = batch[:0]
			return
		}
		for _, e := range batch {
			if err := l.store.Append(e); err != nil {
				l.logger.Error().Err(err).Str("id", e.ID).Msg("writing audit entry to durable store")
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-l.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-l.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func newEntryID() string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
