// File: api/events.go
// Package api defines readiness event types for hioload-core.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "strings"

// EventMask is a bit set of readiness conditions on a descriptor.
type EventMask uint32

const (
	// EventReadable indicates data (or a pending connection) can be
	// consumed without blocking.
	EventReadable EventMask = 1 << iota
	// EventWritable indicates output space is available.
	EventWritable
	// EventError indicates an error or hangup condition; it is always
	// delivered, whether or not it was requested.
	EventError
)

// Has reports whether all bits of m2 are present in m.
func (m EventMask) Has(m2 EventMask) bool { return m&m2 == m2 }

func (m EventMask) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	if m&EventReadable != 0 {
		parts = append(parts, "readable")
	}
	if m&EventWritable != 0 {
		parts = append(parts, "writable")
	}
	if m&EventError != 0 {
		parts = append(parts, "error")
	}
	return strings.Join(parts, "|")
}

// Event is one readiness notification surfaced by a Poller.
// Data is the opaque registration value supplied at Add time; the
// runtime stores a shared registration handle there.
type Event struct {
	Data uint64
	Mask EventMask
}

// StatSource is implemented by components that can report counters.
// The control plane pulls these snapshots into its metrics registry.
type StatSource interface {
	StatsSnapshot() map[string]int64
}
