// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral construction options for the event reactor.

package reactor

const (
	// DefaultMaxEvents matches the historical per-wait batch size.
	DefaultMaxEvents = 1024
	maxEventsCeiling = 4096
)

// Options configures a poller instance.
type Options struct {
	// MaxEvents bounds how many kernel events one Wait call collects.
	// Zero selects DefaultMaxEvents; values are clamped to [1, 4096].
	MaxEvents int
}

func (o Options) maxEvents() int {
	n := o.MaxEvents
	if n <= 0 {
		n = DefaultMaxEvents
	}
	if n > maxEventsCeiling {
		n = maxEventsCeiling
	}
	return n
}
