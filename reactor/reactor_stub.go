//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for platforms without an epoll backend.

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-core/api"
)

// New reports that no poller backend exists on this platform.
func New(opts Options) (api.Poller, error) {
	return nil, fmt.Errorf("reactor: %w", api.ErrNotSupported)
}
