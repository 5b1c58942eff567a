// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the poller surface.

package fake

import (
	"sync"
	"time"

	"github.com/momentics/hioload-core/api"
)

// Poller is a controllable in-memory api.Poller. It mirrors the epoll
// backend's contract: wakeups unblock Wait but never surface as
// events, duplicate arms upgrade in place, and removes of unknown
// descriptors succeed.
type Poller struct {
	mu      sync.Mutex
	armed   map[int]arming
	pending []api.Event
	wake    bool
	closed  bool

	addErr  error
	waitErr error

	wakes  int64
	signal chan struct{}
}

type arming struct {
	mask api.EventMask
	data uint64
}

// NewPoller creates an empty fake poller.
func NewPoller() *Poller {
	return &Poller{
		armed:  make(map[int]arming),
		signal: make(chan struct{}, 1),
	}
}

func (p *Poller) notifyLocked() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Add arms fd. A second Add for the same descriptor replaces the mask
// and data, the way the epoll backend upgrades EEXIST to a modify.
func (p *Poller) Add(fd int, mask api.EventMask, data uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return api.ErrClosed
	}
	if p.addErr != nil {
		return p.addErr
	}
	if fd < 0 || data == 0 {
		return api.ErrInvalidArgument
	}
	p.armed[fd] = arming{mask: mask, data: data}
	return nil
}

// Modify re-arms fd, installing it when absent.
func (p *Poller) Modify(fd int, mask api.EventMask, data uint64) error {
	return p.Add(fd, mask, data)
}

// Remove disarms fd. Unknown descriptors are not an error.
func (p *Poller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return api.ErrClosed
	}
	delete(p.armed, fd)
	return nil
}

// Wait blocks until an injected event, a wakeup, the timeout or Close.
// A wakeup consumes the call and reports zero events.
func (p *Poller) Wait(buf []api.Event, timeout api.Timeout) (int, error) {
	if len(buf) == 0 {
		return 0, api.ErrInvalidArgument
	}
	var timer *time.Timer
	if !timeout.Forever() && timeout != api.NoWait {
		timer = time.NewTimer(timeout.Duration())
		defer timer.Stop()
	}
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, api.ErrClosed
		}
		if p.waitErr != nil {
			err := p.waitErr
			p.mu.Unlock()
			return 0, err
		}
		if p.wake {
			p.wake = false
			p.mu.Unlock()
			return 0, nil
		}
		if len(p.pending) > 0 {
			n := copy(buf, p.pending)
			p.pending = p.pending[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()

		if timeout == api.NoWait {
			return 0, nil
		}
		if timer == nil {
			<-p.signal
			continue
		}
		select {
		case <-p.signal:
		case <-timer.C:
			return 0, nil
		}
	}
}

// Wake unblocks a pending or future Wait without delivering an event.
func (p *Poller) Wake() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return api.ErrClosed
	}
	p.wake = true
	p.wakes++
	p.notifyLocked()
	return nil
}

// Close disarms everything and fails subsequent calls with ErrClosed.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.armed = make(map[int]arming)
	p.pending = nil
	p.notifyLocked()
	return nil
}

// InjectFD queues a readiness event for an armed descriptor. The
// delivered mask is the intersection with the armed mask, plus any
// error bit, matching level-triggered epoll delivery. Returns false
// when fd is not armed.
func (p *Poller) InjectFD(fd int, mask api.EventMask) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.armed[fd]
	if !ok || p.closed {
		return false
	}
	delivered := mask & (a.mask | api.EventError)
	if delivered == 0 {
		return false
	}
	p.pending = append(p.pending, api.Event{Data: a.data, Mask: delivered})
	p.notifyLocked()
	return true
}

// InjectEvent queues a raw event, bypassing the armed table.
func (p *Poller) InjectEvent(ev api.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.pending = append(p.pending, ev)
	p.notifyLocked()
}

// SetAddError makes Add and Modify fail with err until reset to nil.
func (p *Poller) SetAddError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addErr = err
}

// SetWaitError makes Wait fail with err until reset to nil.
func (p *Poller) SetWaitError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waitErr = err
	p.notifyLocked()
}

// Armed reports the current arming of fd.
func (p *Poller) Armed(fd int) (api.EventMask, uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.armed[fd]
	return a.mask, a.data, ok
}

// ArmedCount returns how many descriptors are armed.
func (p *Poller) ArmedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.armed)
}

// Wakes returns how many times Wake was called.
func (p *Poller) Wakes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wakes
}

var _ api.Poller = (*Poller)(nil)
