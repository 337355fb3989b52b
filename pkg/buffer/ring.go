// Package buffer provides a generic, thread-safe bounded ring with
// configurable overflow behavior.
//
// The ring always collects statistics. Prometheus export is enabled with
// WithMetrics.
package buffer

import (
	"sync"

	"github.com/zamazir/THMmonitor/errors"
)

// OverflowPolicy defines how the ring behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the ring is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped due to the overflow policy.
type DropCallback[T any] func(item T)

// Ring is a fixed-capacity FIFO. Items are kept in insertion order.
type Ring[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	policy   OverflowPolicy
	onDrop   DropCallback[T]
	stats    *Statistics
	metrics  *ringMetrics
	capacity int
}

// NewRing creates a ring holding at most capacity items.
func NewRing[T any](capacity int, options ...Option[T]) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Ring", "NewRing", "validate capacity")
	}

	opts := applyOptions(options...)
	r := &Ring[T]{
		items:    make([]T, capacity),
		policy:   opts.overflowPolicy,
		onDrop:   opts.dropCallback,
		stats:    NewStatistics(),
		capacity: capacity,
	}

	if opts.metricsReg != nil {
		m, err := newRingMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, err
		}
		r.metrics = m
	}

	return r, nil
}

// Write appends item. It returns false when the item was not stored
// (DropNewest on a full ring).
func (r *Ring[T]) Write(item T) bool {
	r.mu.Lock()

	var dropped T
	didDrop := false
	stored := true

	if r.size == r.capacity {
		r.stats.Overflow()
		switch r.policy {
		case DropNewest:
			dropped, didDrop, stored = item, true, false
		default:
			dropped, didDrop = r.items[r.head], true
			r.items[r.head] = item
			r.head = (r.head + 1) % r.capacity
		}
	} else {
		r.items[(r.head+r.size)%r.capacity] = item
		r.size++
	}

	if stored {
		r.stats.Write()
	}
	if didDrop {
		r.stats.Drop()
	}
	size := r.size
	r.stats.UpdateSize(int64(size))
	onDrop := r.onDrop
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.record(stored, didDrop, size, r.capacity)
	}
	if didDrop && onDrop != nil {
		onDrop(dropped)
	}
	return stored
}

// Snapshot returns a copy of the items from oldest to newest.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head+i)%r.capacity]
	}
	return out
}

// Last returns the newest item.
func (r *Ring[T]) Last() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[(r.head+r.size-1)%r.capacity], true
}

// Len returns the number of stored items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Capacity returns the maximum number of items.
func (r *Ring[T]) Capacity() int {
	return r.capacity
}

// Clear removes every item. Statistics are kept.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
	r.stats.UpdateSize(0)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.size.Set(0)
	}
}

// Stats returns the ring statistics.
func (r *Ring[T]) Stats() *Statistics {
	return r.stats
}
