// internal/bounded/ring.go
package bounded

// Ring is a fixed-capacity FIFO buffer. Appending beyond capacity evicts
// the oldest entry. The zero value is not usable; construct with NewRing.
type Ring[T any] struct {
	capacity int
	items    []T
	start    int
	count    int
}

// NewRing creates a ring holding at most capacity items. Capacity must be
// positive; non-positive values are coerced to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		capacity: capacity,
		items:    make([]T, capacity),
	}
}

// Append adds an item, evicting the oldest if the ring is full. It reports
// whether an eviction occurred.
func (r *Ring[T]) Append(item T) bool {
	if r.count < r.capacity {
		r.items[(r.start+r.count)%r.capacity] = item
		r.count++
		return false
	}
	r.items[r.start] = item
	r.start = (r.start + 1) % r.capacity
	return true
}

// Len returns the number of items currently held.
func (r *Ring[T]) Len() int {
	return r.count
}

// Cap returns the configured capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Items returns the contents oldest-first as a fresh slice.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(r.start+i)%r.capacity]
	}
	return out
}

// ItemsNewestFirst returns the contents newest-first as a fresh slice.
func (r *Ring[T]) ItemsNewestFirst() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(r.start+r.count-1-i+r.capacity)%r.capacity]
	}
	return out
}

// Newest returns the most recently appended item.
func (r *Ring[T]) Newest() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.items[(r.start+r.count-1)%r.capacity], true
}

// Replace swaps the item at position i (oldest-first order) for updated.
func (r *Ring[T]) Replace(i int, updated T) bool {
	if i < 0 || i >= r.count {
		return false
	}
	r.items[(r.start+i)%r.capacity] = updated
	return true
}

// Reset empties the ring without changing capacity.
func (r *Ring[T]) Reset() {
	r.start = 0
	r.count = 0
}

// Load replaces the ring contents with items, keeping only the newest
// entries if items exceeds capacity.
func (r *Ring[T]) Load(items []T) {
	r.Reset()
	if len(items) > r.capacity {
		items = items[len(items)-r.capacity:]
	}
	for _, it := range items {
		r.Append(it)
	}
}
