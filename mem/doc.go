// File: mem/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package mem implements the guarded arena allocator of hioload-core.
//
// Every region handed out by an Arena is bracketed by canary words and
// tracked in a registry, so the arena can refuse to free pointers it
// does not own, detect double frees and out-of-bounds writes, run the
// region's destructor exactly once, and report leaks at shutdown.
// Regions are returned as unsafe.Pointer; this package is the single
// unsafe-interop boundary of the runtime, and the typed Alloc/Release
// helpers keep callers out of package unsafe entirely.
package mem
