// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives backing the scheduler: a bounded lock-free
// MPMC inbox for cross-thread submission and OS-thread pinning
// helpers. Linux gets real CPU affinity via sched_setaffinity; other
// platforms keep the thread lock only.
package concurrency
