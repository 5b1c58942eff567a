//go:build linux
// +build linux

// File: reactor/epoll_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// epoll(7) poller with an eventfd wake channel. The wake descriptor is
// registered with reserved data 0 and its traffic is consumed here;
// callers only ever see their own registrations. Registration data is
// split across the Fd and Pad halves of the kernel event so the full
// 64-bit value survives the round trip on every architecture.

package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/internal/logging"
)

// Epoll implements api.Poller on Linux. Add, Modify, Remove and Wake
// are safe from any goroutine; Wait must be called from one goroutine
// at a time.
type Epoll struct {
	epfd   int
	wakefd int

	ctlMu  sync.Mutex // serializes epoll_ctl against Close
	closed atomic.Bool

	raw   []unix.EpollEvent
	polls int64 // atomic
	wakes int64 // atomic
}

var _ api.Poller = (*Epoll)(nil)

// New constructs the platform poller.
func New(opts Options) (api.Poller, error) {
	return NewEpoll(opts)
}

// NewEpoll constructs an epoll-backed poller with its wake channel
// already registered.
func NewEpoll(opts Options) (*Epoll, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w: %w", err, api.ErrDeviceFailure)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w: %w", err, api.ErrDeviceFailure)
	}

	e := &Epoll{
		epfd:   epfd,
		wakefd: wakefd,
		raw:    make([]unix.EpollEvent, opts.maxEvents()),
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN}
	packData(&ev, 0) // reserved wake marker
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("register wake channel: %w: %w", err, api.ErrDeviceFailure)
	}
	log := logging.New("reactor")
	log.Debug().Int("epfd", epfd).Int("wakefd", wakefd).
		Int("max_events", len(e.raw)).Msg("epoll poller ready")
	return e, nil
}

// packData stores a 64-bit value in the kernel event's data union.
// unix.EpollEvent exposes the union as Fd and Pad int32 halves.
func packData(ev *unix.EpollEvent, data uint64) {
	ev.Fd = int32(uint32(data))
	ev.Pad = int32(uint32(data >> 32))
}

func unpackData(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}

// toEpoll translates an EventMask into epoll interest bits. Error and
// hangup conditions are always reported by the kernel; requesting
// EventError merely documents intent.
func toEpoll(mask api.EventMask) uint32 {
	var ev uint32
	if mask&api.EventReadable != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if mask&api.EventWritable != 0 {
		ev |= unix.EPOLLOUT
	}
	ev |= unix.EPOLLERR | unix.EPOLLHUP
	return ev
}

// fromEpoll translates kernel readiness bits back into an EventMask.
func fromEpoll(ev uint32) api.EventMask {
	var mask api.EventMask
	if ev&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		mask |= api.EventReadable
	}
	if ev&unix.EPOLLOUT != 0 {
		mask |= api.EventWritable
	}
	if ev&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		mask |= api.EventError
	}
	return mask
}

// Add starts watching fd. A concurrent registration of the same fd is
// upgraded in place rather than failing.
func (e *Epoll) Add(fd int, mask api.EventMask, data uint64) error {
	if fd < 0 || data == 0 {
		return fmt.Errorf("add fd %d data %d: %w", fd, data, api.ErrInvalidArgument)
	}
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	if e.closed.Load() {
		return api.ErrClosed
	}
	ev := unix.EpollEvent{Events: toEpoll(mask)}
	packData(&ev, data)
	err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	if err == unix.EEXIST {
		err = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	}
	if err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w: %w", fd, err, api.ErrDeviceFailure)
	}
	return nil
}

// Modify replaces the registration of fd; an unknown fd is installed.
func (e *Epoll) Modify(fd int, mask api.EventMask, data uint64) error {
	if fd < 0 || data == 0 {
		return fmt.Errorf("modify fd %d data %d: %w", fd, data, api.ErrInvalidArgument)
	}
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	if e.closed.Load() {
		return api.ErrClosed
	}
	ev := unix.EpollEvent{Events: toEpoll(mask)}
	packData(&ev, data)
	err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	if err == unix.ENOENT {
		err = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	}
	if err != nil {
		return fmt.Errorf("epoll_ctl mod fd %d: %w: %w", fd, err, api.ErrDeviceFailure)
	}
	return nil
}

// Remove stops watching fd. Unknown descriptors are tolerated so that
// teardown paths can be unconditional.
func (e *Epoll) Remove(fd int) error {
	if fd < 0 {
		return fmt.Errorf("remove fd %d: %w", fd, api.ErrInvalidArgument)
	}
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	if e.closed.Load() {
		return api.ErrClosed
	}
	err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && err != unix.ENOENT && err != unix.EBADF {
		return fmt.Errorf("epoll_ctl del fd %d: %w: %w", fd, err, api.ErrDeviceFailure)
	}
	return nil
}

// Wait collects ready events into buf. Interruption by a signal or a
// wakeup yields zero events and a nil error.
func (e *Epoll) Wait(buf []api.Event, timeout api.Timeout) (int, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("empty event buffer: %w", api.ErrInvalidArgument)
	}
	if e.closed.Load() {
		return 0, api.ErrClosed
	}

	raw := e.raw
	if len(buf) < len(raw) {
		raw = raw[:len(buf)]
	}

	atomic.AddInt64(&e.polls, 1)
	n, err := unix.EpollWait(e.epfd, raw, timeout.PollArg())
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		if e.closed.Load() {
			return 0, api.ErrClosed
		}
		return 0, fmt.Errorf("epoll_wait: %w: %w", err, api.ErrDeviceFailure)
	}

	out := 0
	for i := 0; i < n; i++ {
		data := unpackData(&raw[i])
		if data == 0 {
			// Wake channel traffic: consume and hide.
			e.drainWake()
			continue
		}
		buf[out] = api.Event{Data: data, Mask: fromEpoll(raw[i].Events)}
		out++
	}
	return out, nil
}

// drainWake empties the eventfd counter so level-triggered polling
// does not spin on a stale wakeup.
func (e *Epoll) drainWake() {
	var scratch [8]byte
	for {
		_, err := unix.Read(e.wakefd, scratch[:])
		if err != nil {
			return // EAGAIN: drained
		}
	}
}

// Wake interrupts a concurrent Wait. Multiple wakes before the next
// Wait coalesce into one.
func (e *Epoll) Wake() error {
	if e.closed.Load() {
		return api.ErrClosed
	}
	atomic.AddInt64(&e.wakes, 1)
	var one = [8]byte{1, 0, 0, 0, 0, 0, 0, 0}
	_, err := unix.Write(e.wakefd, one[:])
	if err != nil && err != unix.EAGAIN {
		if e.closed.Load() {
			return api.ErrClosed
		}
		return fmt.Errorf("wake: %w: %w", err, api.ErrDeviceFailure)
	}
	return nil
}

// Close releases both descriptors. The owning loop must have left
// Wait before Close runs; a late Wait observes the closed flag and
// fails with ErrClosed instead of touching the dead descriptors.
func (e *Epoll) Close() error {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	if e.closed.Swap(true) {
		return nil
	}
	// Kick a blocked Wait off the epoll before the fds go away.
	var one = [8]byte{1, 0, 0, 0, 0, 0, 0, 0}
	_, _ = unix.Write(e.wakefd, one[:])
	err1 := unix.Close(e.wakefd)
	err2 := unix.Close(e.epfd)
	if err1 != nil {
		return fmt.Errorf("close wakefd: %w: %w", err1, api.ErrDeviceFailure)
	}
	if err2 != nil {
		return fmt.Errorf("close epfd: %w: %w", err2, api.ErrDeviceFailure)
	}
	return nil
}

// StatsSnapshot implements api.StatSource.
func (e *Epoll) StatsSnapshot() map[string]int64 {
	return map[string]int64{
		"polls": atomic.LoadInt64(&e.polls),
		"wakes": atomic.LoadInt64(&e.wakes),
	}
}
