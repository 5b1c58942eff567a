//go:build linux
// +build linux

// File: sock/listener_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sock

import (
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/threadlet"
)

// DefaultBacklog is used when Listen receives a non-positive backlog.
const DefaultBacklog = 128

// Listener is a nonblocking TCP listener whose Accept parks the
// calling threadlet until a connection is pending.
type Listener struct {
	fd     int
	closed atomic.Bool
}

// Listen binds and listens on a numeric host:port. The descriptor is
// nonblocking and close-on-exec, with SO_REUSEADDR set so restarts do
// not trip over TIME_WAIT.
func Listen(addr string, backlog int) (*Listener, error) {
	sa, family, err := resolveAddr(addr)
	if err != nil {
		return nil, err
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w: %w", err, api.ErrDeviceFailure)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reuseaddr: %w: %w", err, api.ErrDeviceFailure)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w: %w", addr, err, api.ErrDeviceFailure)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w: %w", addr, err, api.ErrDeviceFailure)
	}
	return &Listener{fd: fd}, nil
}

// Accept returns the next pending connection, parking the threadlet
// between attempts. NoWait probes once and reports ErrWouldBlock when
// nothing is queued.
func (l *Listener) Accept(t *threadlet.Threadlet, timeout api.Timeout) (*Conn, error) {
	if l.closed.Load() {
		return nil, api.ErrClosed
	}
	deadline := timeout.Deadline(time.Now())
	for {
		nfd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == nil {
			return &Conn{fd: nfd}, nil
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
		default:
			return nil, fmt.Errorf("accept: %w: %w", err, api.ErrDeviceFailure)
		}
		if timeout == api.NoWait {
			return nil, api.ErrWouldBlock
		}
		mask, werr := t.WaitFD(l.fd, api.EventReadable, remaining(deadline))
		if werr != nil {
			return nil, werr
		}
		if mask.Has(api.EventError) && !mask.Has(api.EventReadable) {
			return nil, fmt.Errorf("listener error: %w", api.ErrDeviceFailure)
		}
	}
}

// Addr reports the bound address, which is how an ephemeral port
// requested as :0 is discovered.
func (l *Listener) Addr() (string, error) {
	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		return "", fmt.Errorf("getsockname: %w: %w", err, api.ErrDeviceFailure)
	}
	return formatAddr(sa), nil
}

// FD exposes the raw descriptor.
func (l *Listener) FD() int { return l.fd }

// Close shuts the listener down. Idempotent.
func (l *Listener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	if err := unix.Close(l.fd); err != nil {
		return fmt.Errorf("close listener: %w: %w", err, api.ErrDeviceFailure)
	}
	return nil
}

// remaining rebinds an absolute deadline to a per-park timeout. A zero
// deadline means no bound; an expired one degrades to NoWait, which
// the park turns into ErrTimeout.
func remaining(deadline time.Time) api.Timeout {
	if deadline.IsZero() {
		return api.WaitForever
	}
	return api.TimeoutFrom(time.Until(deadline))
}
