//go:build linux
// +build linux

// File: sock/conn_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sock

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/threadlet"
)

// Conn is a nonblocking TCP connection driven by threadlet parks.
type Conn struct {
	fd     int
	closed atomic.Bool
}

// Dial connects to a numeric host:port. The connect races ahead in
// nonblocking mode; EINPROGRESS parks the threadlet until the socket
// turns writable, then SO_ERROR decides the outcome. Connection
// failures wrap ErrNotConnected.
func Dial(t *threadlet.Threadlet, addr string, timeout api.Timeout) (*Conn, error) {
	sa, family, err := resolveAddr(addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w: %w", err, api.ErrDeviceFailure)
	}
	err = unix.Connect(fd, sa)
	switch err {
	case nil:
		return &Conn{fd: fd}, nil
	case unix.EINPROGRESS:
	default:
		unix.Close(fd)
		return nil, fmt.Errorf("connect %s: %w: %w", addr, err, api.ErrNotConnected)
	}
	if timeout == api.NoWait {
		unix.Close(fd)
		return nil, api.ErrWouldBlock
	}
	if _, werr := t.WaitFD(fd, api.EventWritable, timeout); werr != nil {
		unix.Close(fd)
		return nil, werr
	}
	soerr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if gerr != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("so_error: %w: %w", gerr, api.ErrDeviceFailure)
	}
	if soerr != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("connect %s: %w: %w", addr, unix.Errno(soerr), api.ErrNotConnected)
	}
	return &Conn{fd: fd}, nil
}

// Read fills p with whatever is available, parking until the socket is
// readable. A clean peer shutdown returns io.EOF; a reset peer wraps
// ErrNotConnected. NoWait probes once and reports ErrWouldBlock.
func (c *Conn) Read(t *threadlet.Threadlet, p []byte, timeout api.Timeout) (int, error) {
	if c.closed.Load() {
		return 0, api.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	deadline := timeout.Deadline(time.Now())
	for {
		n, err := unix.Read(c.fd, p)
		if err == nil {
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
		case unix.ECONNRESET, unix.EPIPE:
			return 0, fmt.Errorf("read: %w: %w", err, api.ErrNotConnected)
		default:
			return 0, fmt.Errorf("read: %w: %w", err, api.ErrDeviceFailure)
		}
		if timeout == api.NoWait {
			return 0, api.ErrWouldBlock
		}
		// An error event still falls through to the read attempt, which
		// reports the precise condition: EOF, reset, or data that raced
		// ahead of the hangup.
		if _, werr := t.WaitFD(c.fd, api.EventReadable, remaining(deadline)); werr != nil {
			return 0, werr
		}
	}
}

// Write sends all of p, parking whenever the socket backpressures.
// The returned count is what actually left the buffer, even on error.
func (c *Conn) Write(t *threadlet.Threadlet, p []byte, timeout api.Timeout) (int, error) {
	if c.closed.Load() {
		return 0, api.ErrClosed
	}
	deadline := timeout.Deadline(time.Now())
	written := 0
	for written < len(p) {
		n, err := unix.Write(c.fd, p[written:])
		if n > 0 {
			written += n
		}
		if err == nil {
			continue
		}
		switch err {
		case unix.EINTR:
		case unix.EAGAIN:
			if timeout == api.NoWait {
				return written, api.ErrWouldBlock
			}
			if _, werr := t.WaitFD(c.fd, api.EventWritable, remaining(deadline)); werr != nil {
				return written, werr
			}
		case unix.ECONNRESET, unix.EPIPE:
			return written, fmt.Errorf("write: %w: %w", err, api.ErrNotConnected)
		default:
			return written, fmt.Errorf("write: %w: %w", err, api.ErrDeviceFailure)
		}
	}
	return written, nil
}

// SetNoDelay toggles Nagle batching on the connection.
func (c *Conn) SetNoDelay(enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	if err := unix.SetsockoptInt(c.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v); err != nil {
		return fmt.Errorf("tcp_nodelay: %w: %w", err, api.ErrDeviceFailure)
	}
	return nil
}

// LocalAddr reports the local endpoint.
func (c *Conn) LocalAddr() (string, error) {
	sa, err := unix.Getsockname(c.fd)
	if err != nil {
		return "", fmt.Errorf("getsockname: %w: %w", err, api.ErrDeviceFailure)
	}
	return formatAddr(sa), nil
}

// RemoteAddr reports the peer endpoint.
func (c *Conn) RemoteAddr() (string, error) {
	sa, err := unix.Getpeername(c.fd)
	if err != nil {
		return "", fmt.Errorf("getpeername: %w: %w", err, api.ErrDeviceFailure)
	}
	return formatAddr(sa), nil
}

// FD exposes the raw descriptor.
func (c *Conn) FD() int { return c.fd }

// Close releases the descriptor. Idempotent. Closing while another
// threadlet is parked on the socket strands that waiter; hand the
// close to the owner instead.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if err := unix.Close(c.fd); err != nil {
		return fmt.Errorf("close conn: %w: %w", err, api.ErrDeviceFailure)
	}
	return nil
}
