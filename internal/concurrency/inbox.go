// File: internal/concurrency/inbox.go
// Bounded lock-free MPMC ring used as the scheduler submit inbox.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Any thread may enqueue; the scheduler loop drains. Based on the
// bounded MPMC queue pattern by Dmitry Vyukov: each cell carries a
// sequence number that tells producers and consumers apart without a
// lock.

package concurrency

import (
	"sync/atomic"

	"github.com/momentics/hioload-core/api"
)

const cacheLinePad = 64

type cell[T any] struct {
	sequence atomic.Uint64
	data     T
}

// Inbox is a bounded MPMC ring. Capacity is rounded up to a power of
// two. The zero value is not usable; construct with NewInbox.
type Inbox[T any] struct {
	head  uint64
	_     [cacheLinePad]byte
	tail  uint64
	_     [cacheLinePad]byte
	mask  uint64
	cells []cell[T]
}

var _ api.Ring[int] = (*Inbox[int])(nil)

// NewInbox creates an inbox with at least the given capacity.
func NewInbox[T any](capacity int) *Inbox[T] {
	if capacity < 2 {
		capacity = 2
	}
	size := 1
	for size < capacity {
		size <<= 1
	}

	in := &Inbox[T]{
		mask:  uint64(size - 1),
		cells: make([]cell[T], size),
	}
	for i := range in.cells {
		in.cells[i].sequence.Store(uint64(i))
	}
	return in
}

// Enqueue adds an item; returns false if the inbox is full.
func (in *Inbox[T]) Enqueue(item T) bool {
	for {
		tail := atomic.LoadUint64(&in.tail)
		c := &in.cells[tail&in.mask]
		seq := c.sequence.Load()
		dif := int64(seq) - int64(tail)

		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&in.tail, tail, tail+1) {
				c.data = item
				c.sequence.Store(tail + 1)
				return true
			}
		case dif < 0:
			return false // full
		default:
			// tail moved, retry
		}
	}
}

// Dequeue removes the oldest item; ok is false if the inbox is empty.
func (in *Inbox[T]) Dequeue() (item T, ok bool) {
	for {
		head := atomic.LoadUint64(&in.head)
		c := &in.cells[head&in.mask]
		seq := c.sequence.Load()
		dif := int64(seq) - int64(head+1)

		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&in.head, head, head+1) {
				item = c.data
				var zero T
				c.data = zero
				c.sequence.Store(head + in.mask + 1)
				return item, true
			}
		case dif < 0:
			var zero T
			return zero, false // empty
		default:
			// head moved, retry
		}
	}
}

// Len returns an approximate count of queued items. It is exact only
// when no producers or consumers are running.
func (in *Inbox[T]) Len() int {
	tail := atomic.LoadUint64(&in.tail)
	head := atomic.LoadUint64(&in.head)
	if tail < head {
		return 0
	}
	n := tail - head
	if n > in.mask+1 {
		n = in.mask + 1
	}
	return int(n)
}

// Cap returns the inbox capacity.
func (in *Inbox[T]) Cap() int {
	return len(in.cells)
}
