// Package buffers provides a generic fixed-capacity ring buffer.
//
// Entries are appended at the tail and the oldest entry is evicted from the
// head once capacity is reached, so a buffer always holds the most recent
// min(capacity, total written) entries in arrival order. All access is
// guarded by an RWMutex.
package buffers

import (
	"sync"
)

// RingBuffer is a generic fixed-capacity circular buffer
type RingBuffer[T any] struct {
	mu sync.RWMutex

	entries  []T
	capacity int

	// head is where the next write goes once the buffer is full
	head       int
	totalAdded int64
}

// NewRingBuffer creates a ring buffer with the given capacity.
// A capacity below 1 is treated as 1.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		entries:  make([]T, 0, capacity),
		capacity: capacity,
	}
}

// WriteOne appends a single entry, evicting the oldest if full
func (rb *RingBuffer[T]) WriteOne(entry T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.writeOneLocked(entry)
}

// Write appends entries in order and returns how many were written
func (rb *RingBuffer[T]) Write(entries []T) int {
	if len(entries) == 0 {
		return 0
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, entry := range entries {
		rb.writeOneLocked(entry)
	}
	return len(entries)
}

// writeOneLocked must be called with mu held
func (rb *RingBuffer[T]) writeOneLocked(entry T) {
	if len(rb.entries) < rb.capacity {
		rb.entries = append(rb.entries, entry)
	} else {
		rb.entries[rb.head] = entry
	}
	rb.head = (rb.head + 1) % rb.capacity
	rb.totalAdded++
}

// ReadAll returns all entries, oldest first
func (rb *RingBuffer[T]) ReadAll() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.orderedLocked()
}

// ReadLast returns the newest n entries, oldest first
func (rb *RingBuffer[T]) ReadLast(n int) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || len(rb.entries) == 0 {
		return nil
	}

	all := rb.orderedLocked()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Filter returns every entry matching pred, oldest first
func (rb *RingBuffer[T]) Filter(pred func(T) bool) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []T
	for _, entry := range rb.orderedLocked() {
		if pred(entry) {
			out = append(out, entry)
		}
	}
	return out
}

// Count returns how many entries match pred
func (rb *RingBuffer[T]) Count(pred func(T) bool) int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := 0
	for _, entry := range rb.entries {
		if pred(entry) {
			n++
		}
	}
	return n
}

// Last returns the newest entry, if any
func (rb *RingBuffer[T]) Last() (T, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var zero T
	if len(rb.entries) == 0 {
		return zero, false
	}
	idx := (rb.head - 1 + len(rb.entries)) % len(rb.entries)
	if len(rb.entries) < rb.capacity {
		idx = len(rb.entries) - 1
	}
	return rb.entries[idx], true
}

// Len returns the number of entries currently held
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.entries)
}

// Cap returns the buffer capacity
func (rb *RingBuffer[T]) Cap() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.capacity
}

// TotalAdded returns the number of entries ever written, including evicted ones
func (rb *RingBuffer[T]) TotalAdded() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.totalAdded
}

// Clear drops all entries but keeps the capacity and the total counter
func (rb *RingBuffer[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries = make([]T, 0, rb.capacity)
	rb.head = 0
}

// Resize changes the capacity, keeping the newest min(len, capacity) entries
func (rb *RingBuffer[T]) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	if capacity == rb.capacity {
		return
	}

	all := rb.orderedLocked()
	if len(all) > capacity {
		all = all[len(all)-capacity:]
	}

	entries := make([]T, len(all), capacity)
	copy(entries, all)

	rb.entries = entries
	rb.capacity = capacity
	rb.head = len(entries) % capacity
}

// orderedLocked returns a copy of the entries oldest first; mu must be held
func (rb *RingBuffer[T]) orderedLocked() []T {
	if len(rb.entries) == 0 {
		return nil
	}

	result := make([]T, len(rb.entries))
	if len(rb.entries) < rb.capacity {
		copy(result, rb.entries)
		return result
	}

	// full: head points at the oldest entry
	n := copy(result, rb.entries[rb.head:])
	copy(result[n:], rb.entries[:rb.head])
	return result
}
