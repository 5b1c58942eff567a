// File: threadlet/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package threadlet implements cooperative tasks and their scheduler.
//
// A Threadlet is a resumable task: control moves into it with Resume
// and comes back out at its next Yield, with at most one side running
// at any moment. The stack is an ordinary goroutine parked on a
// rendezvous channel, so suspended threadlets cost no OS thread.
//
// A Scheduler drives many threadlets from one pinned loop thread,
// multiplexing descriptor readiness and deadlines through an
// api.Poller. Blocked threadlets are parked under registrations kept
// in the shared handle table; poller events carry the registration
// handle, so stale notifications fall out of the generation check
// instead of waking the wrong task.
package threadlet
