// File: threadlet/status.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package threadlet

// Status is the lifecycle state of a Threadlet.
type Status int32

const (
	// StatusCreated marks a threadlet that has never been resumed.
	StatusCreated Status = iota
	// StatusRunning marks the threadlet currently holding control.
	StatusRunning
	// StatusRunnable marks a threadlet parked by a plain Yield.
	StatusRunnable
	// StatusBlockedIO marks a threadlet parked inside WaitFD.
	StatusBlockedIO
	// StatusBlockedTimer marks a threadlet parked inside Sleep or Join.
	StatusBlockedTimer
	// StatusFinished marks a threadlet whose entry has returned or panicked.
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusRunnable:
		return "runnable"
	case StatusBlockedIO:
		return "blocked_io"
	case StatusBlockedTimer:
		return "blocked_timer"
	case StatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// resumable reports whether Resume may take the threadlet over from s.
func (s Status) resumable() bool {
	switch s {
	case StatusCreated, StatusRunnable, StatusBlockedIO, StatusBlockedTimer:
		return true
	default:
		return false
	}
}
