//go:build linux
// +build linux

// File: internal/concurrency/pin_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// OS-thread pinning for scheduler loops. Pure Go: affinity goes
// through sched_setaffinity, no CGO involved.

package concurrency

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-core/api"
)

// PinCurrentThread wires the calling goroutine to its OS thread so
// the scheduler loop keeps one thread for its lifetime.
func PinCurrentThread() {
	runtime.LockOSThread()
}

// UnpinCurrentThread releases the wiring established by
// PinCurrentThread.
func UnpinCurrentThread() {
	runtime.UnlockOSThread()
}

// SetAffinity restricts the current OS thread to the given CPU set.
// Call after PinCurrentThread, otherwise the affinity can migrate to
// an unrelated goroutine.
func SetAffinity(cpus []int) error {
	if len(cpus) == 0 {
		return fmt.Errorf("empty cpu set: %w", api.ErrInvalidArgument)
	}
	var set unix.CPUSet
	set.Zero()
	for _, c := range cpus {
		if c < 0 {
			return fmt.Errorf("cpu %d: %w", c, api.ErrInvalidArgument)
		}
		set.Set(c)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity: %w: %w", err, api.ErrDeviceFailure)
	}
	return nil
}
