//go:build !linux
// +build !linux

// File: sock/sock_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for platforms without the nonblocking socket
// backend.

package sock

import (
	"fmt"

	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/threadlet"
)

// Listener is unavailable on this platform.
type Listener struct{}

// Conn is unavailable on this platform.
type Conn struct{}

func Listen(addr string, backlog int) (*Listener, error) {
	return nil, fmt.Errorf("sock: %w", api.ErrNotSupported)
}

func Dial(t *threadlet.Threadlet, addr string, timeout api.Timeout) (*Conn, error) {
	return nil, fmt.Errorf("sock: %w", api.ErrNotSupported)
}

func (l *Listener) Accept(t *threadlet.Threadlet, timeout api.Timeout) (*Conn, error) {
	return nil, fmt.Errorf("sock: %w", api.ErrNotSupported)
}

func (l *Listener) Addr() (string, error) { return "", api.ErrNotSupported }

func (l *Listener) FD() int { return -1 }

func (l *Listener) Close() error { return nil }

func (c *Conn) Read(t *threadlet.Threadlet, p []byte, timeout api.Timeout) (int, error) {
	return 0, fmt.Errorf("sock: %w", api.ErrNotSupported)
}

func (c *Conn) Write(t *threadlet.Threadlet, p []byte, timeout api.Timeout) (int, error) {
	return 0, fmt.Errorf("sock: %w", api.ErrNotSupported)
}

func (c *Conn) SetNoDelay(enable bool) error { return api.ErrNotSupported }

func (c *Conn) LocalAddr() (string, error) { return "", api.ErrNotSupported }

func (c *Conn) RemoteAddr() (string, error) { return "", api.ErrNotSupported }

func (c *Conn) FD() int { return -1 }

func (c *Conn) Close() error { return nil }
