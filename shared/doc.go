// File: shared/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package shared implements the ref-counted handle table of
// hioload-core.
//
// A handle is a 64-bit value naming an arena region: slot index in the
// low half, slot generation in the high half. Generations start at one
// and are bumped every time a slot's resource is destroyed, so a
// handle kept past the final release is recognized as stale even after
// its slot has been reused. Handles are plain values and can cross
// threads freely; the table serializes access per slot.
package shared
