//go:build !linux
// +build !linux

// File: internal/concurrency/pin_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"fmt"
	"runtime"

	"github.com/momentics/hioload-core/api"
)

// PinCurrentThread wires the calling goroutine to its OS thread.
func PinCurrentThread() {
	runtime.LockOSThread()
}

// UnpinCurrentThread releases the wiring established by
// PinCurrentThread.
func UnpinCurrentThread() {
	runtime.UnlockOSThread()
}

// SetAffinity is unavailable off Linux.
func SetAffinity(cpus []int) error {
	return fmt.Errorf("cpu affinity: %w", api.ErrNotSupported)
}
