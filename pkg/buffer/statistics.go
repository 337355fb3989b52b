package buffer

import (
	"sync/atomic"
)

// Statistics tracks ring activity.
type Statistics struct {
	writes      atomic.Int64
	overflows   atomic.Int64
	drops       atomic.Int64
	currentSize atomic.Int64
	maxSize     atomic.Int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Write records a stored item.
func (s *Statistics) Write() { s.writes.Add(1) }

// Overflow records a write against a full ring.
func (s *Statistics) Overflow() { s.overflows.Add(1) }

// Drop records a dropped item.
func (s *Statistics) Drop() { s.drops.Add(1) }

// UpdateSize records the current size and tracks the high-water mark.
func (s *Statistics) UpdateSize(size int64) {
	s.currentSize.Store(size)
	for {
		prev := s.maxSize.Load()
		if size <= prev || s.maxSize.CompareAndSwap(prev, size) {
			return
		}
	}
}

// Writes returns the number of stored items.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Overflows returns the number of writes against a full ring.
func (s *Statistics) Overflows() int64 { return s.overflows.Load() }

// Drops returns the number of dropped items.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// CurrentSize returns the current number of items.
func (s *Statistics) CurrentSize() int64 { return s.currentSize.Load() }

// MaxSize returns the largest size observed.
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }
