// File: threadlet/scheduler_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package threadlet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/fake"
	"github.com/momentics/hioload-core/mem"
	"github.com/momentics/hioload-core/shared"
)

type schedHarness struct {
	s     *Scheduler
	p     *fake.Poller
	table *shared.Table
	arena *mem.Arena
}

func newHarness(t *testing.T, interval time.Duration) *schedHarness {
	t.Helper()
	arena := mem.NewArena(mem.Options{})
	table, err := shared.NewTable(arena, shared.TableOptions{})
	require.NoError(t, err)
	p := fake.NewPoller()
	s, err := NewScheduler(Options{
		Poller:       p,
		Table:        table,
		Arena:        arena,
		PollInterval: interval,
		Name:         "test",
	})
	require.NoError(t, err)
	h := &schedHarness{s: s, p: p, table: table, arena: arena}
	t.Cleanup(func() {
		h.s.Stop()
		_ = h.p.Close()
		assert.Zero(t, h.table.Shutdown(), "registrations leaked in the table")
		assert.Empty(t, h.arena.Shutdown(), "registrations leaked in the arena")
	})
	return h
}

func (h *schedHarness) run() <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.s.Run(context.Background()) }()
	return errCh
}

func TestSchedulerRequiresDependencies(t *testing.T) {
	arena := mem.NewArena(mem.Options{})
	table, err := shared.NewTable(arena, shared.TableOptions{})
	require.NoError(t, err)
	p := fake.NewPoller()

	_, err = NewScheduler(Options{Table: table, Arena: arena})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = NewScheduler(Options{Poller: p, Arena: arena})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = NewScheduler(Options{Poller: p, Table: table})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestSpawnRunsToCompletion(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	h.run()

	ran := false
	tl, err := h.s.Spawn("hello", func(*Threadlet) { ran = true })
	require.NoError(t, err)
	require.NoError(t, tl.Wait(api.TimeoutFrom(2*time.Second)))
	assert.True(t, ran)
	assert.Equal(t, StatusFinished, tl.Status())
	assert.NoError(t, tl.Err())
}

func TestYieldRoundRobin(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)

	// Appends run only on the loop thread, one threadlet at a time.
	var order []string
	entry := func(tag string) Entry {
		return func(th *Threadlet) {
			for i := 0; i < 3; i++ {
				order = append(order, tag)
				if err := th.Yield(); err != nil {
					return
				}
			}
		}
	}
	a, err := h.s.Spawn("a", entry("a"))
	require.NoError(t, err)
	b, err := h.s.Spawn("b", entry("b"))
	require.NoError(t, err)

	h.run()
	require.NoError(t, a.Wait(api.TimeoutFrom(2*time.Second)))
	require.NoError(t, b.Wait(api.TimeoutFrom(2*time.Second)))

	assert.Equal(t, []string{"a", "b", "a", "b", "a", "b"}, order,
		"yield must rotate threadlets in queue order")
}

func TestSleepWakesAfterDeadline(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	h.run()

	var elapsed time.Duration
	var serr error
	tl, err := h.s.Spawn("napper", func(th *Threadlet) {
		before := time.Now()
		serr = th.Sleep(30 * time.Millisecond)
		elapsed = time.Since(before)
	})
	require.NoError(t, err)
	require.NoError(t, tl.Wait(api.TimeoutFrom(2*time.Second)))
	require.NoError(t, serr)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestWaitFDDeliversReadiness(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	h.run()

	const fd = 41
	var mask api.EventMask
	var werr error
	tl, err := h.s.Spawn("reader", func(th *Threadlet) {
		mask, werr = th.WaitFD(fd, api.EventReadable, api.WaitForever)
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, ok := h.p.Armed(fd)
		return ok
	}, time.Second, time.Millisecond, "descriptor never armed")

	armedMask, data, _ := h.p.Armed(fd)
	assert.Equal(t, api.EventReadable, armedMask)
	assert.True(t, api.Handle(data).Valid(), "event data must carry the registration handle")

	require.True(t, h.p.InjectFD(fd, api.EventReadable))
	require.NoError(t, tl.Wait(api.TimeoutFrom(2*time.Second)))
	require.NoError(t, werr)
	assert.Equal(t, api.EventReadable, mask)

	assert.Zero(t, h.p.ArmedCount(), "registration must disarm after delivery")
	assert.Zero(t, h.table.Len(), "registration handle must be released")
}

func TestWaitFDTimeout(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	h.run()

	const fd = 42
	var werr error
	var elapsed time.Duration
	tl, err := h.s.Spawn("waiter", func(th *Threadlet) {
		before := time.Now()
		_, werr = th.WaitFD(fd, api.EventReadable, api.TimeoutFrom(30*time.Millisecond))
		elapsed = time.Since(before)
	})
	require.NoError(t, err)
	require.NoError(t, tl.Wait(api.TimeoutFrom(2*time.Second)))
	assert.ErrorIs(t, werr, api.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Zero(t, h.p.ArmedCount())
}

func TestWaitFDNoWaitNeverParks(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	h.run()

	var werr error
	tl, err := h.s.Spawn("prober", func(th *Threadlet) {
		_, werr = th.WaitFD(7, api.EventReadable, api.NoWait)
	})
	require.NoError(t, err)
	require.NoError(t, tl.Wait(api.TimeoutFrom(2*time.Second)))
	assert.ErrorIs(t, werr, api.ErrTimeout)
	assert.Zero(t, h.p.ArmedCount(), "nowait must not arm the poller")
}

func TestSpawnWakesIdleLoop(t *testing.T) {
	// A long poll interval makes the test fail loudly if the wake path
	// is broken: the loop would sit in the poller for 10s.
	h := newHarness(t, 10*time.Second)
	h.run()
	time.Sleep(20 * time.Millisecond)

	tl, err := h.s.Spawn("late", func(*Threadlet) {})
	require.NoError(t, err)
	assert.NoError(t, tl.Wait(api.TimeoutFrom(time.Second)))
}

func TestJoin(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	h.run()

	slow, err := h.s.Spawn("slow", func(th *Threadlet) {
		_ = th.Sleep(40 * time.Millisecond)
	})
	require.NoError(t, err)

	var early, late error
	var seen Status
	waiter, err := h.s.Spawn("waiter", func(th *Threadlet) {
		early = th.Join(slow, api.TimeoutFrom(5*time.Millisecond))
		late = th.Join(slow, api.WaitForever)
		seen = slow.Status()
	})
	require.NoError(t, err)

	require.NoError(t, waiter.Wait(api.TimeoutFrom(2*time.Second)))
	assert.ErrorIs(t, early, api.ErrTimeout)
	assert.NoError(t, late)
	assert.Equal(t, StatusFinished, seen)
}

func TestSelfJoinRejected(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	h.run()

	var jerr error
	tl, err := h.s.Spawn("narcissus", func(th *Threadlet) {
		jerr = th.Join(th, api.WaitForever)
	})
	require.NoError(t, err)
	require.NoError(t, tl.Wait(api.TimeoutFrom(2*time.Second)))
	assert.ErrorIs(t, jerr, api.ErrInvalidArgument)
}

func TestStopFailsOutstandingWaits(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	h.run()

	var werr, serr error
	blocked, err := h.s.Spawn("blocked", func(th *Threadlet) {
		_, werr = th.WaitFD(43, api.EventReadable, api.WaitForever)
	})
	require.NoError(t, err)
	sleeping, err := h.s.Spawn("sleeping", func(th *Threadlet) {
		serr = th.Sleep(time.Hour)
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, ok := h.p.Armed(43)
		return ok
	}, time.Second, time.Millisecond)

	h.s.Stop()

	assert.Equal(t, StatusFinished, blocked.Status())
	assert.Equal(t, StatusFinished, sleeping.Status())
	assert.ErrorIs(t, werr, api.ErrClosed)
	assert.ErrorIs(t, serr, api.ErrClosed)
}

func TestSpawnAfterShutdownRejected(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	h.run()
	h.s.Stop()

	_, err := h.s.Spawn("too-late", func(*Threadlet) {})
	assert.ErrorIs(t, err, api.ErrClosed)
}

func TestRestartRejected(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	errCh := h.run()

	require.Eventually(t, func() bool { return h.s.Stats().Running }, time.Second, time.Millisecond)
	err := h.s.Run(context.Background())
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	h.s.Stop()
	require.NoError(t, <-errCh)
	err = h.s.Run(context.Background())
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestPollFailureStopsLoop(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	errCh := h.run()
	require.Eventually(t, func() bool { return h.s.Stats().Running }, time.Second, time.Millisecond)

	boom := errors.New("boom")
	h.p.SetWaitError(boom)
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("loop survived a failing poller")
	}
	h.p.SetWaitError(nil)
}

func TestContextCancelStopsLoop(t *testing.T) {
	h := newHarness(t, 10*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.s.Run(ctx) }()
	require.Eventually(t, func() bool { return h.s.Stats().Running }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not stop the loop despite the long poll interval")
	}
}

func TestCurrentInsideEntry(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	h.run()

	matched := false
	tl, err := h.s.Spawn("introspective", func(th *Threadlet) {
		matched = h.s.Current() == th
	})
	require.NoError(t, err)
	require.NoError(t, tl.Wait(api.TimeoutFrom(2*time.Second)))
	assert.True(t, matched)
}

func TestStatsSnapshot(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	h.run()

	tl, err := h.s.Spawn("counted", func(th *Threadlet) {
		_ = th.Sleep(time.Millisecond)
	})
	require.NoError(t, err)
	require.NoError(t, tl.Wait(api.TimeoutFrom(2*time.Second)))

	snap := h.s.StatsSnapshot()
	assert.GreaterOrEqual(t, snap["spawned"], int64(1))
	assert.GreaterOrEqual(t, snap["finished"], int64(1))
	assert.GreaterOrEqual(t, snap["timeouts"], int64(1), "sleep expiry counts as a timeout wake")
	for _, key := range []string{"resumes", "io_wakes", "blocked", "running"} {
		_, ok := snap[key]
		assert.True(t, ok, "missing stat %q", key)
	}
}

func TestEnqueueAdoptsStandaloneThreadlet(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	h.run()

	var slept error
	tl := New("adopted", func(th *Threadlet) {
		slept = th.Sleep(time.Millisecond)
	})
	require.NoError(t, h.s.Enqueue(tl))
	require.NoError(t, tl.Wait(api.TimeoutFrom(2*time.Second)))
	assert.NoError(t, slept, "adopted threadlet must reach scheduler services")

	other, err := NewScheduler(Options{
		Poller: fake.NewPoller(),
		Table:  h.table,
		Arena:  h.arena,
		Name:   "other",
	})
	require.NoError(t, err)
	stranger, err := h.s.Spawn("stranger", func(th *Threadlet) { _ = th.Yield() })
	require.NoError(t, err)
	require.NoError(t, stranger.Wait(api.TimeoutFrom(2*time.Second)))
	assert.ErrorIs(t, other.Enqueue(stranger), api.ErrFinished)
}
