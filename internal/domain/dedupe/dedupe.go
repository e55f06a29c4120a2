// Package dedupe tracks idempotency keys so a retried submission maps to the
// event it already created instead of counting twice.
package dedupe

import (
	"container/list"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrKeyReused is returned when a known key arrives with a different request
// fingerprint.
var ErrKeyReused = errors.New("idempotency key was used with a different request")

// Fingerprint joins the fields that identify a request. Two requests may
// share a key only when their fingerprints are equal.
func Fingerprint(fields ...string) string {
	return strings.Join(fields, "\x1f")
}

// Deduper records idempotency keys and the event each one produced.
type Deduper interface {
	// SeenAndRecord atomically checks key and claims it for fingerprint if
	// new. seen is false when the caller now owns the key. When seen is true,
	// eventID is the event the key resolved to, or "" while the first
	// request is still in flight. A key held for another fingerprint
	// returns ErrKeyReused.
	SeenAndRecord(ctx context.Context, key, fingerprint string) (eventID string, seen bool, err error)

	// Resolve binds a claimed key to the event it produced.
	Resolve(ctx context.Context, key, eventID string)

	// Unrecord releases a claim whose request failed so it can be retried.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

type entry struct {
	key         string
	fingerprint string
	eventID     string
}

// inMemoryDeduper keeps at most maxSize keys and evicts the oldest resolved
// key first. Keys still in flight are never evicted, so the map may briefly
// exceed maxSize under load. maxSize <= 0 means unbounded.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // front is oldest
	maxSize int
	size    atomic.Int64
}

// Option applies a configuration option to the in-memory deduper.
type Option func(*inMemoryDeduper)

// WithMaxSize bounds the number of remembered keys.
func WithMaxSize(maxSize int) Option {
	return func(d *inMemoryDeduper) {
		d.maxSize = maxSize
	}
}

// NewInMemoryDeduper creates a deduper remembering up to 50000 keys unless
// configured otherwise.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50000,
		seen:    make(map[string]*list.Element),
		order:   list.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key, fingerprint string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[key]; ok {
		e := el.Value.(*entry)
		if e.fingerprint != fingerprint {
			return "", true, ErrKeyReused
		}
		return e.eventID, true, nil
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}
	d.seen[key] = d.order.PushBack(&entry{key: key, fingerprint: fingerprint})
	d.size.Add(1)
	return "", false, nil
}

func (d *inMemoryDeduper) Resolve(_ context.Context, key, eventID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.seen[key]; ok {
		el.Value.(*entry).eventID = eventID
	}
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.seen[key]; ok {
		d.order.Remove(el)
		delete(d.seen, key)
		d.size.Add(-1)
	}
}

// evictOldest drops the oldest resolved key. It must be called with d.mu
// held.
func (d *inMemoryDeduper) evictOldest() {
	for el := d.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.eventID == "" {
			continue
		}
		d.order.Remove(el)
		delete(d.seen, e.key)
		d.size.Add(-1)
		return
	}
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
