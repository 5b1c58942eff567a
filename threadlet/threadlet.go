// File: threadlet/threadlet.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package threadlet

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-core/api"
)

// Entry is the body of a threadlet. It receives its own threadlet so
// it can yield, sleep and wait on descriptors through it.
type Entry func(*Threadlet)

// Threadlet is a cooperative task backed by a parked goroutine.
//
// Control is handed over synchronously: Resume blocks until the
// threadlet yields, blocks or finishes, and Yield blocks until the
// next Resume. Exactly one side runs at a time, so threadlet code
// never races with its resumer.
//
// A threadlet spawned on a Scheduler is resumed only by that
// scheduler's loop; calling Resume on it directly breaks the
// single-resumer contract. Standalone threadlets from New may be
// driven by any single goroutine.
type Threadlet struct {
	name  string
	entry Entry
	sched *Scheduler

	status atomic.Int32

	// resumeCh and yieldCh are unbuffered rendezvous channels. The
	// goroutine parks on resumeCh; the resumer parks on yieldCh.
	resumeCh chan struct{}
	yieldCh  chan struct{}
	killCh   chan struct{}
	done     chan struct{}

	// err is written once before done is closed.
	err error

	// outcome carries the wait result from the scheduler loop to the
	// threadlet. It is written strictly before the waking Resume and
	// read strictly after it, so the channel handoff orders access.
	outcome waitOutcome
}

// waitOutcome is what a blocked threadlet learns when it wakes up.
type waitOutcome struct {
	mask     api.EventMask
	timedOut bool
	closed   bool
}

// New creates a standalone threadlet. The entry does not run yet; the
// first Resume starts it.
func New(name string, entry Entry) *Threadlet {
	return newThreadlet(name, entry, nil)
}

func newThreadlet(name string, entry Entry, sched *Scheduler) *Threadlet {
	t := &Threadlet{
		name:     name,
		entry:    entry,
		sched:    sched,
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan struct{}),
		killCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	t.status.Store(int32(StatusCreated))
	go t.run()
	return t
}

func (t *Threadlet) run() {
	select {
	case <-t.resumeCh:
	case <-t.killCh:
		t.err = api.ErrClosed
		t.status.Store(int32(StatusFinished))
		close(t.done)
		return
	}
	defer t.finish()
	if t.entry != nil {
		t.entry(t)
	}
}

// abandon retires a threadlet that was never resumed, releasing its
// goroutine without running the entry. The caller must be the sole
// owner and the threadlet must still be in StatusCreated.
func (t *Threadlet) abandon() {
	close(t.killCh)
}

// finish runs as the deferred tail of the goroutine so that recover
// observes panics from the entry.
func (t *Threadlet) finish() {
	if r := recover(); r != nil {
		t.err = api.NewError(api.ErrCodeDeviceFailure,
			fmt.Sprintf("threadlet %q panicked: %v", t.name, r))
	}
	t.status.Store(int32(StatusFinished))
	close(t.done)
}

// Name returns the name given at creation.
func (t *Threadlet) Name() string { return t.name }

// Status returns the current lifecycle state.
func (t *Threadlet) Status() Status { return Status(t.status.Load()) }

// Err returns the panic error of a finished threadlet, or nil. It is
// meaningful only after Done is closed.
func (t *Threadlet) Err() error { return t.err }

// Done is closed when the entry has returned or panicked.
func (t *Threadlet) Done() <-chan struct{} { return t.done }

// Resume transfers control into the threadlet and blocks until it
// yields, parks on a wait, or finishes. The returned status is the
// state the threadlet settled in.
//
// Resuming a finished threadlet returns ErrFinished; resuming one
// that is already running returns ErrInvalidArgument.
func (t *Threadlet) Resume() (Status, error) {
	for {
		s := Status(t.status.Load())
		if s == StatusFinished {
			return StatusFinished, api.ErrFinished
		}
		if !s.resumable() {
			return s, api.NewError(api.ErrCodeInvalidArgument,
				fmt.Sprintf("threadlet %q is %s, not resumable", t.name, s))
		}
		if t.status.CompareAndSwap(int32(s), int32(StatusRunning)) {
			break
		}
	}
	t.resumeCh <- struct{}{}
	select {
	case <-t.yieldCh:
		return Status(t.status.Load()), nil
	case <-t.done:
		return StatusFinished, nil
	}
}

// Yield parks the threadlet as runnable and hands control back to the
// resumer. On a scheduler the threadlet is re-queued and resumed again
// on a later lap. Yield must be called from inside the entry.
//
// During scheduler shutdown Yield returns ErrClosed without parking,
// so entries that loop on Yield unwind instead of stalling the drain.
func (t *Threadlet) Yield() error {
	if t.sched != nil && t.sched.stopping.Load() {
		return api.ErrClosed
	}
	return t.yieldAs(StatusRunnable)
}

func (t *Threadlet) yieldAs(s Status) error {
	if Status(t.status.Load()) != StatusRunning {
		return api.NewError(api.ErrCodeInvalidArgument,
			"yield outside of a running threadlet")
	}
	t.status.Store(int32(s))
	t.yieldCh <- struct{}{}
	<-t.resumeCh
	return nil
}

// Wait blocks the calling goroutine until the threadlet finishes or
// the timeout elapses. It is a host-side join; threadlet code should
// use Join instead.
func (t *Threadlet) Wait(timeout api.Timeout) error {
	if timeout.Forever() {
		<-t.done
		return nil
	}
	if timeout == api.NoWait {
		select {
		case <-t.done:
			return nil
		default:
			return api.ErrTimeout
		}
	}
	timer := time.NewTimer(timeout.Duration())
	defer timer.Stop()
	select {
	case <-t.done:
		return nil
	case <-timer.C:
		return api.ErrTimeout
	}
}

// Sleep parks the threadlet until the duration elapses. Non-positive
// durations degrade to a plain Yield. Sleep requires a scheduler.
func (t *Threadlet) Sleep(d time.Duration) error {
	if t.sched == nil {
		return api.NewError(api.ErrCodeInvalidArgument,
			"sleep requires a scheduler-owned threadlet")
	}
	if d <= 0 {
		return t.Yield()
	}
	return t.sched.parkTimer(t, time.Now().Add(d))
}

// WaitFD parks the threadlet until fd reports one of the events in
// mask, the timeout elapses, or the scheduler shuts down. It returns
// the ready mask; error conditions on the descriptor surface as
// EventError in the mask, not as an error return.
//
// A NoWait timeout never parks and reports ErrTimeout immediately.
func (t *Threadlet) WaitFD(fd int, mask api.EventMask, timeout api.Timeout) (api.EventMask, error) {
	if t.sched == nil {
		return 0, api.NewError(api.ErrCodeInvalidArgument,
			"waitfd requires a scheduler-owned threadlet")
	}
	if fd < 0 || mask == 0 {
		return 0, api.NewError(api.ErrCodeInvalidArgument,
			fmt.Sprintf("bad wait: fd=%d mask=%s", fd, mask))
	}
	if timeout == api.NoWait {
		return 0, api.ErrTimeout
	}
	return t.sched.parkFD(t, fd, mask, timeout)
}

// Join parks the threadlet until other finishes or the timeout
// elapses. Joining yourself is rejected.
func (t *Threadlet) Join(other *Threadlet, timeout api.Timeout) error {
	if t.sched == nil {
		return api.NewError(api.ErrCodeInvalidArgument,
			"join requires a scheduler-owned threadlet")
	}
	if other == nil || other == t {
		return api.NewError(api.ErrCodeInvalidArgument, "bad join target")
	}
	deadline := timeout.Deadline(time.Now())
	backoff := time.Millisecond
	for {
		select {
		case <-other.done:
			return nil
		default:
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return api.ErrTimeout
		}
		if err := t.Sleep(backoff); err != nil {
			return err
		}
		if backoff < 10*time.Millisecond {
			backoff *= 2
		}
	}
}
