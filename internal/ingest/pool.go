package ingest

import "github.com/Aman-CERP/amankb/internal/store"

// DefaultPoolCapacity bounds the number of idle builders kept for reuse.
const DefaultPoolCapacity = 128

// builder is a mutable record under construction. Its scratch slices keep
// their capacity across reuse.
type builder struct {
	rec  store.Record
	tags []string
	uris []string
}

func (b *builder) reset() {
	b.rec = store.Record{}
	b.tags = b.tags[:0]
	b.uris = b.uris[:0]
}

// Pool is a fixed-capacity freelist of builders. It is confined to one
// ingesting goroutine and is not safe for concurrent use.
type Pool struct {
	free      []*builder
	allocated int
}

// NewPool creates a pool that retains at most capacity idle builders.
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	return &Pool{free: make([]*builder, 0, capacity)}
}

func (p *Pool) get() *builder {
	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		return b
	}
	p.allocated++
	return &builder{}
}

// put resets b and keeps it if there is room.
func (p *Pool) put(b *builder) {
	b.reset()
	if len(p.free) < cap(p.free) {
		p.free = append(p.free, b)
	}
}

// Idle returns the number of builders waiting for reuse.
func (p *Pool) Idle() int {
	return len(p.free)
}

// Allocated returns how many builders were ever created.
func (p *Pool) Allocated() int {
	return p.allocated
}
