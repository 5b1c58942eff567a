// File: threadlet/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package threadlet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/internal/concurrency"
	"github.com/momentics/hioload-core/internal/logging"
	"github.com/momentics/hioload-core/mem"
	"github.com/momentics/hioload-core/shared"
)

const (
	// DefaultPollInterval bounds how long the loop sleeps in the poller
	// when nothing is ready and no deadline is nearer.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultInboxCapacity is the cross-thread submission ring size.
	DefaultInboxCapacity = 1024

	// loopEventBatch is the poll batch handed to api.Poller.Wait.
	loopEventBatch = 1024
	// shutdownLaps bounds how many drain rounds the loop runs while
	// stopping before abandoning whatever still refuses to finish.
	shutdownLaps = 4
)

// Options configures a Scheduler. Poller, Table and Arena are
// mandatory; the rest default sensibly.
type Options struct {
	// Poller multiplexes descriptor readiness and wakeups for the loop.
	Poller api.Poller
	// Table holds wait registrations as generation-checked handles.
	Table *shared.Table
	// Arena backs the registration records.
	Arena *mem.Arena
	// PollInterval caps the idle poll; zero means DefaultPollInterval.
	PollInterval time.Duration
	// InboxCapacity sizes the cross-thread submission ring; zero means
	// DefaultInboxCapacity.
	InboxCapacity int
	// CPUs, when non-empty, pins the loop thread to these CPUs.
	CPUs []int
	// Name tags log lines and stats.
	Name string
}

// registration pairs a parked threadlet with its arena-resident wait
// record. The map entry keeps owner reachable for the collector while
// the record itself lives in untyped arena memory.
type registration struct {
	h     api.Handle
	reg   *waitReg
	owner *Threadlet
}

// waitReg is the wait record placed in the arena and published through
// the shared table. Poller events carry its handle, never a raw
// pointer, so a registration torn down between poll and dispatch is
// caught by the generation check.
type waitReg struct {
	fd       int64
	mask     uint32
	_        uint32
	deadline int64 // unixnano, 0 = none
}

// Scheduler drives threadlets from a single pinned loop thread.
//
// Regs and the ready queue belong to the loop thread. Threadlet code
// may touch them inside park helpers because the loop is blocked in
// Resume for exactly that window; the rendezvous channels order the
// accesses. Cross-thread traffic goes through the inbox plus a poller
// wake, never through loop state.
type Scheduler struct {
	name         string
	poller       api.Poller
	table        *shared.Table
	arena        *mem.Arena
	pollInterval time.Duration
	cpus         []int
	log          zerolog.Logger

	inbox   *concurrency.Inbox[*Threadlet]
	ready   *queue.Queue
	regs    map[api.Handle]*registration
	current *Threadlet

	started  atomic.Bool
	running  atomic.Bool
	stopping atomic.Bool
	quitOnce sync.Once
	quitCh   chan struct{}
	doneCh   chan struct{}

	spawned  atomic.Int64
	finished atomic.Int64
	resumes  atomic.Int64
	ioWakes  atomic.Int64
	timeouts atomic.Int64
}

// SchedulerStats is a point-in-time view of loop activity.
type SchedulerStats struct {
	Spawned  int64
	Finished int64
	Resumes  int64
	IOWakes  int64
	Timeouts int64
	Blocked  int64
	Running  bool
}

// NewScheduler builds a scheduler over the given poller, table and
// arena. The loop does not run until Run is called.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Poller == nil {
		return nil, fmt.Errorf("scheduler needs a poller: %w", api.ErrInvalidArgument)
	}
	if opts.Table == nil {
		return nil, fmt.Errorf("scheduler needs a handle table: %w", api.ErrInvalidArgument)
	}
	if opts.Arena == nil {
		return nil, fmt.Errorf("scheduler needs an arena: %w", api.ErrInvalidArgument)
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	capacity := opts.InboxCapacity
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	name := opts.Name
	if name == "" {
		name = "sched"
	}
	return &Scheduler{
		name:         name,
		poller:       opts.Poller,
		table:        opts.Table,
		arena:        opts.Arena,
		pollInterval: interval,
		cpus:         opts.CPUs,
		log:          logging.New("threadlet").With().Str("sched", name).Logger(),
		inbox:        concurrency.NewInbox[*Threadlet](capacity),
		ready:        queue.New(),
		regs:         make(map[api.Handle]*registration),
		quitCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// Name returns the scheduler's tag.
func (s *Scheduler) Name() string { return s.name }

// Current returns the threadlet holding control right now. It is
// meaningful only from the loop thread or from inside threadlet code,
// where the loop is parked in Resume.
func (s *Scheduler) Current() *Threadlet { return s.current }

// Spawn creates a threadlet owned by this scheduler and submits it for
// its first resume. Safe from any goroutine. A full inbox fails with
// ErrOutOfMemory and the threadlet is discarded.
func (s *Scheduler) Spawn(name string, entry Entry) (*Threadlet, error) {
	t := New(name, entry)
	if err := s.Enqueue(t); err != nil {
		t.abandon()
		return nil, err
	}
	return t, nil
}

// Enqueue submits a threadlet for resumption on the loop thread. A
// threadlet built with New is adopted on first submission; threadlets
// owned by another scheduler are rejected. Safe from any goroutine.
func (s *Scheduler) Enqueue(t *Threadlet) error {
	if t == nil {
		return fmt.Errorf("enqueue nil threadlet: %w", api.ErrInvalidArgument)
	}
	if s.stopping.Load() {
		return api.ErrClosed
	}
	switch st := t.Status(); st {
	case StatusFinished:
		return api.ErrFinished
	case StatusCreated, StatusRunnable:
	default:
		return fmt.Errorf("threadlet %q is %s: %w", t.name, st, api.ErrInvalidArgument)
	}
	if t.sched == nil {
		t.sched = s
	} else if t.sched != s {
		return fmt.Errorf("threadlet %q belongs to %q: %w",
			t.name, t.sched.name, api.ErrInvalidArgument)
	}
	if !s.inbox.Enqueue(t) {
		return fmt.Errorf("scheduler inbox full: %w", api.ErrOutOfMemory)
	}
	s.spawned.Add(1)
	if err := s.poller.Wake(); err != nil && !errors.Is(err, api.ErrClosed) {
		s.log.Warn().Err(err).Msg("wake after enqueue failed")
	}
	return nil
}

// Run executes the loop on the calling goroutine until ctx is
// cancelled or Stop is called. The goroutine is locked to its OS
// thread for the duration. A scheduler runs once; it cannot be
// restarted after the loop exits.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.started.Swap(true) {
		return fmt.Errorf("scheduler %q already started: %w", s.name, api.ErrInvalidArgument)
	}
	s.running.Store(true)
	defer s.running.Store(false)
	defer close(s.doneCh)

	concurrency.PinCurrentThread()
	defer concurrency.UnpinCurrentThread()
	if len(s.cpus) > 0 {
		if err := concurrency.SetAffinity(s.cpus); err != nil {
			s.log.Warn().Err(err).Ints("cpus", s.cpus).Msg("cpu affinity not applied")
		}
	}

	// Wake the poller when the context dies so cancellation does not
	// wait out a full poll interval.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = s.poller.Wake()
		case <-watchDone:
		}
	}()
	defer close(watchDone)

	s.log.Debug().Msg("loop started")
	events := make([]api.Event, loopEventBatch)
	var loopErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-s.quitCh:
			break loop
		default:
		}
		s.drainInbox()
		s.runReady()
		n, err := s.poller.Wait(events, s.pollTimeout())
		if err != nil {
			if errors.Is(err, api.ErrClosed) {
				break loop
			}
			loopErr = err
			s.log.Error().Err(err).Msg("poll failed")
			break loop
		}
		for i := 0; i < n; i++ {
			s.dispatch(events[i])
		}
		s.expire(time.Now())
	}

	s.shutdown()
	s.log.Debug().
		Int64("spawned", s.spawned.Load()).
		Int64("finished", s.finished.Load()).
		Msg("loop stopped")
	return loopErr
}

// Stop asks the loop to exit and, if it ever started, waits for the
// drain to complete. Safe to call multiple times and before Run.
func (s *Scheduler) Stop() {
	s.quitOnce.Do(func() { close(s.quitCh) })
	_ = s.poller.Wake()
	if s.started.Load() {
		<-s.doneCh
	}
}

// drainInbox moves cross-thread submissions onto the ready queue.
func (s *Scheduler) drainInbox() {
	for {
		t, ok := s.inbox.Dequeue()
		if !ok {
			return
		}
		s.ready.Add(t)
	}
}

// runReady resumes every threadlet currently queued, exactly once
// each. Yield re-queues behind the snapshot, so a yield-looping
// threadlet cannot starve the poll.
func (s *Scheduler) runReady() {
	for n := s.ready.Length(); n > 0; n-- {
		s.resumeOne(s.ready.Remove().(*Threadlet))
	}
}

func (s *Scheduler) resumeOne(t *Threadlet) {
	s.current = t
	s.resumes.Add(1)
	st, err := t.Resume()
	s.current = nil
	if err != nil {
		if !errors.Is(err, api.ErrFinished) {
			s.log.Warn().Err(err).Str("threadlet", t.name).Msg("resume refused")
		}
		return
	}
	switch st {
	case StatusRunnable:
		s.ready.Add(t)
	case StatusFinished:
		s.finished.Add(1)
		if terr := t.Err(); terr != nil {
			s.log.Warn().Err(terr).Str("threadlet", t.name).Msg("threadlet failed")
		}
	case StatusBlockedIO, StatusBlockedTimer:
		// Parked under a registration installed before the yield; the
		// dispatch or expiry path re-queues it.
	}
}

// register allocates a wait record, publishes it in the table and, for
// real descriptors, arms the poller with the handle as event data.
func (s *Scheduler) register(t *Threadlet, fd int64, mask api.EventMask, deadline time.Time) (api.Handle, error) {
	reg, err := mem.Alloc[waitReg](s.arena, nil)
	if err != nil {
		return api.InvalidHandle, err
	}
	reg.fd = fd
	reg.mask = uint32(mask)
	if !deadline.IsZero() {
		reg.deadline = deadline.UnixNano()
	}
	h, err := shared.WrapObject(s.table, reg)
	if err != nil {
		_ = mem.Release(s.arena, &reg)
		return api.InvalidHandle, err
	}
	if fd >= 0 {
		if perr := s.poller.Add(int(fd), mask, uint64(h)); perr != nil {
			_ = s.table.Release(h)
			return api.InvalidHandle, perr
		}
	}
	s.regs[h] = &registration{h: h, reg: reg, owner: t}
	return h, nil
}

// complete tears a registration down and queues its owner with the
// outcome. Teardown happens before the queueing, so a racing poller
// event for the same handle dies on the generation check.
func (s *Scheduler) complete(r *registration, out waitOutcome) {
	if r.reg.fd >= 0 {
		if err := s.poller.Remove(int(r.reg.fd)); err != nil {
			s.log.Warn().Err(err).Int64("fd", r.reg.fd).Msg("disarm failed")
		}
	}
	delete(s.regs, r.h)
	if err := s.table.Release(r.h); err != nil {
		s.log.Warn().Err(err).Stringer("handle", r.h).Msg("registration release failed")
	}
	r.owner.outcome = out
	s.ready.Add(r.owner)
}

// cancel rolls back a registration whose park never happened.
func (s *Scheduler) cancel(h api.Handle) {
	r, ok := s.regs[h]
	if !ok {
		return
	}
	if r.reg.fd >= 0 {
		_ = s.poller.Remove(int(r.reg.fd))
	}
	delete(s.regs, h)
	_ = s.table.Release(h)
}

// dispatch routes one poller event to its parked threadlet. Events
// whose handle no longer resolves are dropped; the registration was
// torn down after the kernel queued the notification.
func (s *Scheduler) dispatch(ev api.Event) {
	h := api.Handle(ev.Data)
	r, ok := s.regs[h]
	if !ok {
		return
	}
	if _, err := shared.AcquireAs[waitReg](s.table, h); err != nil {
		s.log.Warn().Err(err).Stringer("handle", h).Msg("event for dead registration")
		return
	}
	_ = s.table.Release(h)
	s.ioWakes.Add(1)
	s.complete(r, waitOutcome{mask: ev.Mask})
}

// expire completes every registration whose deadline has passed.
func (s *Scheduler) expire(now time.Time) {
	if len(s.regs) == 0 {
		return
	}
	nowNs := now.UnixNano()
	var due []*registration
	for _, r := range s.regs {
		if r.reg.deadline > 0 && nowNs >= r.reg.deadline {
			due = append(due, r)
		}
	}
	for _, r := range due {
		s.timeouts.Add(1)
		s.complete(r, waitOutcome{timedOut: true})
	}
}

// pollTimeout picks the poller wait bound: zero when work is queued,
// otherwise the nearest deadline clamped to the poll interval.
func (s *Scheduler) pollTimeout() api.Timeout {
	if s.ready.Length() > 0 || s.inbox.Len() > 0 {
		return api.NoWait
	}
	wait := s.pollInterval
	nowNs := time.Now().UnixNano()
	for _, r := range s.regs {
		if r.reg.deadline == 0 {
			continue
		}
		if d := time.Duration(r.reg.deadline - nowNs); d < wait {
			wait = d
		}
	}
	if wait <= 0 {
		return api.NoWait
	}
	return api.TimeoutFrom(wait)
}

// parkFD implements WaitFD. It runs on the threadlet goroutine while
// the loop sits in Resume, which is what makes touching regs safe.
func (s *Scheduler) parkFD(t *Threadlet, fd int, mask api.EventMask, timeout api.Timeout) (api.EventMask, error) {
	if s.stopping.Load() {
		return 0, api.ErrClosed
	}
	h, err := s.register(t, int64(fd), mask, timeout.Deadline(time.Now()))
	if err != nil {
		return 0, err
	}
	if err := t.yieldAs(StatusBlockedIO); err != nil {
		s.cancel(h)
		return 0, err
	}
	out := t.outcome
	switch {
	case out.closed:
		return 0, api.ErrClosed
	case out.timedOut:
		return 0, api.ErrTimeout
	default:
		return out.mask, nil
	}
}

// parkTimer implements Sleep. Expiry is the success path.
func (s *Scheduler) parkTimer(t *Threadlet, deadline time.Time) error {
	if s.stopping.Load() {
		return api.ErrClosed
	}
	h, err := s.register(t, -1, 0, deadline)
	if err != nil {
		return err
	}
	if err := t.yieldAs(StatusBlockedTimer); err != nil {
		s.cancel(h)
		return err
	}
	if t.outcome.closed {
		return api.ErrClosed
	}
	return nil
}

// shutdown fails every outstanding wait, gives unwinding threadlets a
// few bounded laps, then abandons whatever never ran.
func (s *Scheduler) shutdown() {
	s.stopping.Store(true)
	for h, r := range s.regs {
		if r.reg.fd >= 0 {
			_ = s.poller.Remove(int(r.reg.fd))
		}
		delete(s.regs, h)
		_ = s.table.Release(h)
		r.owner.outcome = waitOutcome{closed: true}
		s.ready.Add(r.owner)
	}
	for lap := 0; lap < shutdownLaps; lap++ {
		s.drainInbox()
		if s.ready.Length() == 0 {
			break
		}
		s.runReady()
	}
	s.drainInbox()
	leaked := 0
	for s.ready.Length() > 0 {
		t := s.ready.Remove().(*Threadlet)
		if t.Status() == StatusCreated {
			t.abandon()
			continue
		}
		leaked++
	}
	if leaked > 0 {
		s.log.Warn().Int("count", leaked).Msg("threadlets still live after drain")
	}
}

// Stats returns a snapshot of loop activity.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Spawned:  s.spawned.Load(),
		Finished: s.finished.Load(),
		Resumes:  s.resumes.Load(),
		IOWakes:  s.ioWakes.Load(),
		Timeouts: s.timeouts.Load(),
		Blocked:  s.spawned.Load() - s.finished.Load(),
		Running:  s.running.Load(),
	}
}

// StatsSnapshot satisfies api.StatSource.
func (s *Scheduler) StatsSnapshot() map[string]int64 {
	st := s.Stats()
	running := int64(0)
	if st.Running {
		running = 1
	}
	return map[string]int64{
		"spawned":  st.Spawned,
		"finished": st.Finished,
		"resumes":  st.Resumes,
		"io_wakes": st.IOWakes,
		"timeouts": st.Timeouts,
		"blocked":  st.Blocked,
		"running":  running,
	}
}

var _ api.StatSource = (*Scheduler)(nil)
