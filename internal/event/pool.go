package event

import "sync"

// Pool is an unbounded lock-free free-list of pooled PDU payloads (UCI,
// CRC, SRS, BSR, PHR, positioning request), so a producer thread
// allocates from the free list rather than the global heap. Go's
// sync.Pool already implements a per-P lock-free free list; wrapping it
// keeps the event-manager call sites symmetric with Get/Put regardless of
// payload type.
type Pool[T any] struct {
	pool sync.Pool
}

// NewPool builds a pool whose slots are created by newFn on first use.
func NewPool[T any](newFn func() *T) *Pool[T] {
	return &Pool[T]{pool: sync.Pool{New: func() any { return newFn() }}}
}

func (p *Pool[T]) Get() *T  { return p.pool.Get().(*T) }
func (p *Pool[T]) Put(v *T) { p.pool.Put(v) }
