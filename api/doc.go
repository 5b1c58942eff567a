// File: api/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package api defines the shared contracts of the hioload-core runtime:
// the error taxonomy, readiness event types, timeout encoding, shared
// resource handles, the poller abstraction, and the control surface.
//
// Implementation packages (mem, shared, reactor, threadlet, sock) accept
// and return these types; api itself has no dependencies beyond the
// standard library.
package api
