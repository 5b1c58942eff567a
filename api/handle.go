// File: api/handle.go
// Package api defines the shared resource handle type.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "fmt"

// Handle names a shared resource in a handle table. It is a value, not
// a pointer: handles can be copied, stored in integers, carried through
// poller registration data, and passed between threads freely. The
// encoding is opaque; only the owning table can resolve it. The zero
// value is never a live handle.
type Handle uint64

// InvalidHandle is the reserved "no resource" value.
const InvalidHandle Handle = 0

// Valid reports whether h could name a resource. A true result does
// not imply liveness; resolution can still fail with ErrStaleHandle.
func (h Handle) Valid() bool { return h != InvalidHandle }

func (h Handle) String() string {
	if h == InvalidHandle {
		return "handle(invalid)"
	}
	return fmt.Sprintf("handle(%#x)", uint64(h))
}
