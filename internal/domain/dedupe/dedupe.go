// Package dedupe tracks telemetry event keys that were already accepted so a
// batch the game client re-sends after a failed request is not stored twice.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records seen event keys to ensure at-most-once persistence.
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen and reserves it if not.
	// Returns true if key was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, key string) bool
	// Unrecord releases a key reserved by SeenAndRecord whose write was rolled back.
	Unrecord(ctx context.Context, key string)
	Size() int64
}

// node is an entry in the insertion-ordered list; head is newest, tail oldest.
type node struct {
	key        string
	prev, next *node
}

func (n *node) reset() {
	n.key = ""
	n.prev = nil
	n.next = nil
}

// inMemoryDeduper keeps keys in a map plus a doubly linked list so both
// eviction of the oldest key and Unrecord are O(1).
type inMemoryDeduper struct {
	mu       sync.Mutex
	seen     map[string]*node
	head     *node
	tail     *node
	maxSize  int
	size     atomic.Int64
	nodePool sync.Pool
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50_000,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]*node)
	d.nodePool = sync.Pool{
		New: func() interface{} { return &node{} },
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; exists {
		return true
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}

	n := d.nodePool.Get().(*node)
	n.key = key
	d.pushFront(n)
	d.seen[key] = n
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, exists := d.seen[key]
	if !exists {
		return
	}
	d.remove(n)
}

// Size returns the current number of keys in the window.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}

// pushFront links n as the newest entry. Caller holds d.mu.
func (d *inMemoryDeduper) pushFront(n *node) {
	n.next = d.head
	if d.head != nil {
		d.head.prev = n
	}
	d.head = n
	if d.tail == nil {
		d.tail = n
	}
}

// remove unlinks n, drops it from the map and returns it to the pool. Caller holds d.mu.
func (d *inMemoryDeduper) remove(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		d.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		d.tail = n.prev
	}
	delete(d.seen, n.key)
	n.reset()
	d.nodePool.Put(n)
	d.size.Add(-1)
}

func (d *inMemoryDeduper) evictOldest() {
	if d.tail != nil {
		d.remove(d.tail)
	}
}
