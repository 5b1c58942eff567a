// Package api
// Author: momentics
//
// OS event demultiplexer abstraction. One Poller instance backs one
// scheduler loop; Wake is the only method that may be called from
// other threads while Wait is in flight.

package api

// Poller multiplexes readiness events for registered descriptors.
type Poller interface {
	// Add starts watching fd for the conditions in mask. data is
	// returned verbatim in every Event for this fd; zero is reserved
	// and rejected. Adding an fd that is already watched updates the
	// registration in place.
	Add(fd int, mask EventMask, data uint64) error

	// Modify replaces the mask and data of an existing registration.
	// Modifying an unknown fd installs it.
	Modify(fd int, mask EventMask, data uint64) error

	// Remove stops watching fd. Removing an unknown fd is not an error.
	Remove(fd int) error

	// Wait blocks until at least one event arrives, the timeout
	// expires, or Wake is called. It fills buf and returns the count.
	// A zero count with nil error means timeout, interruption, or a
	// bare wakeup; internal wake traffic is never surfaced.
	Wait(buf []Event, timeout Timeout) (int, error)

	// Wake forces a concurrent Wait to return promptly. Safe to call
	// from any thread, any number of times.
	Wake() error

	// Close releases the poller. Concurrent and subsequent operations
	// fail with ErrClosed.
	Close() error
}
