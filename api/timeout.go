// File: api/timeout.go
// Author: momentics <momentics@gmail.com>
//
// Timeout encoding shared by every blocking operation in the runtime:
// zero means fail fast, the maximum value means wait forever, anything
// else is a bound in milliseconds. Negative values behave as forever.

package api

import (
	"math"
	"time"
)

// Timeout is a wait bound in milliseconds.
type Timeout int64

const (
	// NoWait makes the operation non-blocking: if it cannot complete
	// immediately it fails with ErrWouldBlock or ErrTimeout.
	NoWait Timeout = 0
	// WaitForever blocks until the operation completes.
	WaitForever Timeout = math.MaxInt64
)

// TimeoutFrom converts a time.Duration, rounding sub-millisecond
// durations up so a positive duration never degrades to NoWait.
func TimeoutFrom(d time.Duration) Timeout {
	if d <= 0 {
		return NoWait
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	return Timeout(ms)
}

// Forever reports whether t means an unbounded wait.
func (t Timeout) Forever() bool { return t < 0 || t == WaitForever }

// Duration converts t to a time.Duration. Forever yields a very large
// but finite duration suitable for time.NewTimer.
func (t Timeout) Duration() time.Duration {
	if t.Forever() {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(t) * time.Millisecond
}

// Deadline resolves t against the current clock. Forever returns the
// zero time, meaning no deadline.
func (t Timeout) Deadline(now time.Time) time.Time {
	if t.Forever() {
		return time.Time{}
	}
	return now.Add(time.Duration(t) * time.Millisecond)
}

// PollArg translates t into an epoll_wait millisecond argument:
// -1 for forever, clamped to int range otherwise.
func (t Timeout) PollArg() int {
	if t.Forever() {
		return -1
	}
	if t > Timeout(math.MaxInt32) {
		return math.MaxInt32
	}
	return int(t)
}
