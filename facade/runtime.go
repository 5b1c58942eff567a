// File: facade/runtime.go
// Unified facade layer for hioload-core.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime wires the guarded arena, the shared handle table, one
// scheduler/poller pair per worker and the control surface into a
// single assembly. It implements api.GracefulShutdown so callers can
// tear the whole stack down through one call. Programs that need a
// different topology can still assemble the layers by hand; the facade
// is the packaged default, not the only door.

package facade

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/control"
	"github.com/momentics/hioload-core/internal/logging"
	"github.com/momentics/hioload-core/mem"
	"github.com/momentics/hioload-core/reactor"
	"github.com/momentics/hioload-core/shared"
	"github.com/momentics/hioload-core/threadlet"
)

// worker couples one scheduler with the poller that drives it. Each
// pair owns its registered descriptors; workers share nothing except
// the arena and the handle table.
type worker struct {
	sched  *threadlet.Scheduler
	poller api.Poller
}

// Runtime is the assembled stack.
type Runtime struct {
	cfg     control.Config           // Snapshot taken at construction
	store   *control.Store           // Validated live configuration
	arena   *mem.Arena               // Destructor-aware allocator shared by all workers
	table   *shared.Table            // Generation-checked handle table
	workers []worker                 // Scheduler/poller pairs
	metrics *control.MetricsRegistry // Counters plus attached stat sources
	ctl     *control.Controller      // Config, metrics and debug surface
	log     zerolog.Logger

	next atomic.Uint64 // Round-robin cursor for Spawn

	mu      sync.Mutex // Protects started, stopped, cancel, group
	started bool
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// Compliance with the unified shutdown contract.
var _ api.GracefulShutdown = (*Runtime)(nil)

// New builds a Runtime from cfg. The configuration is validated before
// anything is allocated; a worker count of zero selects one worker per
// CPU, capped at control.MaxWorkers. All pollers are created up front
// so a half-built runtime never leaks descriptors.
func New(cfg control.Config) (*Runtime, error) {
	store, err := control.NewStore(cfg)
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Console)

	r := &Runtime{
		cfg:   cfg,
		store: store,
		log:   logging.New("facade"),
	}

	// Allocator and handle table come first; every other layer borrows them.
	r.arena = mem.NewArena(mem.Options{
		MaxBytes:    cfg.Arena.MaxBytes,
		CaptureSite: cfg.Arena.CaptureSite,
	})
	r.table, err = shared.NewTable(r.arena, shared.TableOptions{
		InitialCapacity: cfg.Shared.InitialCapacity,
		MaxEntries:      cfg.Shared.MaxEntries,
	})
	if err != nil {
		return nil, err
	}

	// One scheduler/poller pair per worker.
	n := cfg.Scheduler.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > control.MaxWorkers {
		n = control.MaxWorkers
	}
	for i := 0; i < n; i++ {
		p, err := reactor.New(reactor.Options{MaxEvents: cfg.Reactor.MaxEvents})
		if err != nil {
			r.teardown()
			return nil, fmt.Errorf("facade: worker %d poller: %w", i, err)
		}
		s, err := threadlet.NewScheduler(threadlet.Options{
			Poller:        p,
			Table:         r.table,
			Arena:         r.arena,
			PollInterval:  time.Duration(cfg.Scheduler.PollIntervalMS) * time.Millisecond,
			InboxCapacity: cfg.Scheduler.InboxCapacity,
			Name:          fmt.Sprintf("worker-%d", i),
		})
		if err != nil {
			_ = p.Close()
			r.teardown()
			return nil, fmt.Errorf("facade: worker %d scheduler: %w", i, err)
		}
		r.workers = append(r.workers, worker{sched: s, poller: p})
	}

	// Control surface: metrics pull from every stat source, probes
	// answer debug dumps, the store drives hot reload.
	r.metrics = control.NewMetricsRegistry()
	r.metrics.Attach("arena", r.arena)
	r.metrics.Attach("table", r.table)
	for i, w := range r.workers {
		r.metrics.Attach(w.sched.Name(), w.sched)
		if src, ok := w.poller.(api.StatSource); ok {
			r.metrics.Attach(fmt.Sprintf("reactor-%d", i), src)
		}
	}
	r.ctl = control.NewController(store, r.metrics)
	r.ctl.RegisterDebugProbe("runtime", r.debugState)
	store.OnReload(func(c control.Config) {
		logging.Setup(c.Log.Level, c.Log.Console)
	})

	return r, nil
}

// teardown releases the resources of a partially built runtime.
func (r *Runtime) teardown() {
	for _, w := range r.workers {
		_ = w.poller.Close()
	}
	r.table.Shutdown()
	r.arena.Shutdown()
}

// Start launches one loop goroutine per worker. Subsequent calls are
// no-ops. Starting a stopped runtime fails with ErrClosed because
// scheduler loops do not restart.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return fmt.Errorf("facade: runtime stopped: %w", api.ErrClosed)
	}
	if r.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	for _, w := range r.workers {
		s := w.sched
		g.Go(func() error { return s.Run(gctx) })
	}
	r.cancel = cancel
	r.group = g
	r.started = true
	r.log.Info().Int("workers", len(r.workers)).Msg("runtime started")
	return nil
}

// Stop cancels the loops, waits for them to drain, closes the pollers
// and destroys the table and the arena. Leaked handles and regions are
// logged, not fatal. Stop is idempotent and returns the first loop
// error, if any.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil
	}
	r.stopped = true

	var loopErr error
	if r.started {
		r.cancel()
		for _, w := range r.workers {
			w.sched.Stop()
		}
		loopErr = r.group.Wait()
	}
	for _, w := range r.workers {
		_ = w.poller.Close()
	}
	if leaked := r.table.Shutdown(); leaked > 0 {
		r.log.Warn().Int("handles", leaked).Msg("shared table shut down with live handles")
	}
	if leaks := r.arena.Shutdown(); len(leaks) > 0 {
		r.log.Warn().Int("regions", len(leaks)).Msg("arena shut down with live regions")
	}
	r.log.Info().Msg("runtime stopped")
	return loopErr
}

// Shutdown implements api.GracefulShutdown by delegating to Stop.
func (r *Runtime) Shutdown() error {
	return r.Stop()
}

// Spawn creates a threadlet and queues it on the next worker in
// round-robin order. It works before Start; the threadlet then waits
// in the worker's inbox until the loop comes up.
func (r *Runtime) Spawn(name string, entry threadlet.Entry) (*threadlet.Threadlet, error) {
	i := int(r.next.Add(1)-1) % len(r.workers)
	t, err := r.workers[i].sched.Spawn(name, entry)
	if err != nil {
		return nil, err
	}
	r.metrics.Inc("runtime.spawned", 1)
	return t, nil
}

// Wait joins a threadlet from host code running outside any loop.
func (r *Runtime) Wait(t *threadlet.Threadlet, timeout api.Timeout) error {
	return t.Wait(timeout)
}

// Arena returns the runtime's allocator.
func (r *Runtime) Arena() *mem.Arena { return r.arena }

// Table returns the shared handle table.
func (r *Runtime) Table() *shared.Table { return r.table }

// Control returns the config, metrics and debug surface.
func (r *Runtime) Control() api.Control { return r.ctl }

// Scheduler returns worker i's scheduler, or nil when out of range.
func (r *Runtime) Scheduler(i int) *threadlet.Scheduler {
	if i < 0 || i >= len(r.workers) {
		return nil
	}
	return r.workers[i].sched
}

// Workers reports how many scheduler/poller pairs the runtime runs.
func (r *Runtime) Workers() int { return len(r.workers) }

func (r *Runtime) debugState() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]any{
		"workers": len(r.workers),
		"started": r.started,
		"stopped": r.stopped,
	}
}
