// Package ring provides a fixed-capacity, insertion-ordered buffer that
// evicts its oldest element once full. It is not safe for concurrent use;
// owners guard it with their own lock.
package ring

// Buffer is a FIFO ring of at most Cap elements.
type Buffer[T any] struct {
	items []T
	start int
	size  int
}

// New creates a buffer holding at most capacity elements. capacity < 1 is
// treated as 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when full. It reports whether
// an eviction happened.
func (b *Buffer[T]) Push(v T) bool {
	capacity := len(b.items)
	if b.size < capacity {
		b.items[(b.start+b.size)%capacity] = v
		b.size++
		return false
	}
	b.items[b.start] = v
	b.start = (b.start + 1) % capacity
	return true
}

// Len returns the number of stored elements
func (b *Buffer[T]) Len() int { return b.size }

// Cap returns the capacity
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Last returns a copy of the newest n elements, oldest first. n <= 0 or
// n > Len returns everything.
func (b *Buffer[T]) Last(n int) []T {
	if n <= 0 || n > b.size {
		n = b.size
	}
	out := make([]T, n)
	capacity := len(b.items)
	offset := b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.items[(b.start+offset+i)%capacity]
	}
	return out
}

// Newest returns the most recently pushed element.
func (b *Buffer[T]) Newest() (T, bool) {
	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.items[(b.start+b.size-1)%len(b.items)], true
}

// Reset drops all elements.
func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.start, b.size = 0, 0
}
