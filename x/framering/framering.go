// Package framering is a fixed-capacity single-producer, single-consumer ring
// of fixed-size records. The producer may run in interrupt context: Push never
// allocates, blocks or takes a lock. A record becomes visible to the consumer
// only after it has been completely written.
package framering

import "sync/atomic"

// Ring holds up to Cap() records of type T.
type Ring[T any] struct {
	buf  []T
	mask uint32
	rd   atomic.Uint32 // consumer index (monotonic)
	wr   atomic.Uint32 // producer index (monotonic)

	dropped atomic.Uint32
}

// New allocates a ring; size must be a power of two >= 2.
func New[T any](size int) *Ring[T] {
	if size < 2 || (size&(size-1)) != 0 {
		panic("framering: size must be power of two >= 2")
	}
	return &Ring[T]{
		buf:  make([]T, size),
		mask: uint32(size - 1),
	}
}

// Cap returns the number of slots.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len returns the number of records waiting.
func (r *Ring[T]) Len() int {
	return int(r.wr.Load() - r.rd.Load())
}

// Dropped returns how many records Push rejected because the ring was full.
func (r *Ring[T]) Dropped() uint32 { return r.dropped.Load() }

// Producer side

// Push appends v. It returns false, and counts a drop, when the ring is full.
func (r *Ring[T]) Push(v T) bool {
	rd := r.rd.Load()
	wr := r.wr.Load()
	if wr-rd >= uint32(len(r.buf)) {
		r.dropped.Add(1)
		return false
	}
	r.buf[wr&r.mask] = v
	r.wr.Store(wr + 1) // release
	return true
}

// Consumer side

// Pop removes the oldest record.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	rd := r.rd.Load()
	wr := r.wr.Load() // acquire
	if wr == rd {
		return zero, false
	}
	v := r.buf[rd&r.mask]
	r.buf[rd&r.mask] = zero
	r.rd.Store(rd + 1) // release
	return v, true
}

// Drain pops every waiting record into fn, oldest first, and returns the count.
// Records pushed while draining are left for the next call.
func (r *Ring[T]) Drain(fn func(T)) int {
	n := r.Len()
	for i := 0; i < n; i++ {
		v, ok := r.Pop()
		if !ok {
			return i
		}
		fn(v)
	}
	return n
}
