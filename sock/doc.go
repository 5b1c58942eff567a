// File: sock/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package sock exposes nonblocking TCP sockets as threadlet-blocking
// calls. Every operation takes the calling threadlet and an
// api.Timeout: EAGAIN turns into a WaitFD park on the scheduler
// instead of a spin, so one loop thread carries many connections.
//
// Descriptors are single-owner. At most one threadlet may be parked
// on a given socket at a time, and Close must not race a parked
// waiter. Addresses are numeric host:port only; resolving names would
// stall the scheduler loop.
package sock
