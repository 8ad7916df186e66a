// Package ring provides a fixed-capacity buffer that evicts its oldest entry
// when full.
package ring

// Ring holds up to Cap values in insertion order.
type Ring[T any] struct {
	buf  []T
	head int
	n    int
}

// New returns a ring with the given capacity. Capacities below one are raised to one.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	if r == nil {
		return 0
	}
	return len(r.buf)
}

// Len returns the number of stored values.
func (r *Ring[T]) Len() int {
	if r == nil {
		return 0
	}
	return r.n
}

// Push appends v. When the ring is full the oldest value is evicted and returned.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = v
		r.n++
		return evicted, false
	}
	evicted = r.buf[r.head]
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	return evicted, true
}

// At returns the i-th value, 0 being the oldest. It panics when i is out of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.n {
		panic("ring: index out of range")
	}
	return r.buf[(r.head+i)%len(r.buf)]
}

// Slice copies values [from, to) in age order. Bounds are clamped.
func (r *Ring[T]) Slice(from, to int) []T {
	if r == nil {
		return nil
	}
	if from < 0 {
		from = 0
	}
	if to > r.n {
		to = r.n
	}
	if from >= to {
		return nil
	}
	out := make([]T, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}

// All copies every value, oldest first.
func (r *Ring[T]) All() []T {
	return r.Slice(0, r.Len())
}

// Last returns the newest value.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r == nil || r.n == 0 {
		return zero, false
	}
	return r.At(r.n - 1), true
}

// Clear drops every value.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.n = 0
}
