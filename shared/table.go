// File: shared/table.go
// Ref-counted, generation-validated handle table over the arena.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Slot lifecycle: free -> wrapped (refs=1) -> acquired (refs>1) ->
// released to zero -> destroyed (generation bumped, slot back on the
// free list). The destroy path goes through the arena, so the region's
// destructor runs there, exactly once.

package shared

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/internal/logging"
	"github.com/momentics/hioload-core/mem"
)

const (
	// DefaultInitialCapacity matches the historical table sizing.
	DefaultInitialCapacity = 1024
	// DefaultMaxEntries bounds table growth.
	DefaultMaxEntries = 1 << 20
)

// TableOptions configures a Table.
type TableOptions struct {
	// InitialCapacity is the slot count allocated up front.
	// Zero selects DefaultInitialCapacity.
	InitialCapacity int
	// MaxEntries caps growth; the table doubles until it reaches this.
	// Zero selects DefaultMaxEntries.
	MaxEntries int
}

// entry is one slot. gen is only ever written under mu.
type entry struct {
	mu   sync.Mutex
	h    api.Handle
	data unsafe.Pointer
	size int
	typ  reflect.Type // nil for untyped resources
	refs int32
	gen  uint32
	live bool
}

// Table maps handles to arena regions. Safe for concurrent use.
type Table struct {
	mu    sync.RWMutex // guards slots, free, wrapped, closed
	slots []*entry
	free  []uint32 // LIFO of free slot indexes
	// wrapped prevents the same region from being wrapped twice,
	// which would arm two destroy paths for one destructor.
	wrapped map[unsafe.Pointer]api.Handle
	arena   *mem.Arena
	opts    TableOptions
	closed  bool
	log     zerolog.Logger

	liveCount int64 // atomic
	wraps     int64 // atomic
	acquires  int64 // atomic
	releases  int64 // atomic
	destroys  int64 // atomic
}

// TableStats is a point-in-time view of table counters.
type TableStats struct {
	Live     int64
	Capacity int
	Wraps    int64
	Acquires int64
	Releases int64
	Destroys int64
}

// NewTable constructs a table whose destroy path frees through arena.
func NewTable(arena *mem.Arena, opts TableOptions) (*Table, error) {
	if arena == nil {
		return nil, fmt.Errorf("new table: nil arena: %w", api.ErrInvalidArgument)
	}
	if opts.InitialCapacity <= 0 {
		opts.InitialCapacity = DefaultInitialCapacity
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.InitialCapacity > opts.MaxEntries {
		opts.InitialCapacity = opts.MaxEntries
	}

	t := &Table{
		wrapped: make(map[unsafe.Pointer]api.Handle),
		arena:   arena,
		opts:    opts,
		log:     logging.New("shared.table"),
	}
	t.growLocked(opts.InitialCapacity)
	return t, nil
}

// growLocked extends the slot array to newCap and pushes the new slots
// onto the free list. Caller holds t.mu (or is the constructor).
func (t *Table) growLocked(newCap int) {
	if newCap > t.opts.MaxEntries {
		newCap = t.opts.MaxEntries
	}
	for i := len(t.slots); i < newCap; i++ {
		t.slots = append(t.slots, &entry{gen: 1})
		t.free = append(t.free, uint32(i))
	}
}

// handleOf composes the handle value for a slot. Generations start at
// one, so a valid handle is never zero even for slot index zero.
func handleOf(gen uint32, index uint32) api.Handle {
	return api.Handle(uint64(gen)<<32 | uint64(index))
}

func splitHandle(h api.Handle) (gen uint32, index uint32) {
	return uint32(uint64(h) >> 32), uint32(uint64(h))
}

// Wrap registers an arena region and returns its handle. The caller's
// reference is counted: the region is destroyed when the count reaches
// zero. Wrapping a region that is already wrapped, or a pointer the
// arena does not own, is refused.
func (t *Table) Wrap(p unsafe.Pointer) (api.Handle, error) {
	return t.wrap(p, nil)
}

func (t *Table) wrap(p unsafe.Pointer, typ reflect.Type) (api.Handle, error) {
	if p == nil {
		return api.InvalidHandle, fmt.Errorf("wrap nil pointer: %w", api.ErrInvalidArgument)
	}
	size, err := t.arena.SizeOf(p)
	if err != nil {
		return api.InvalidHandle, fmt.Errorf("wrap: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return api.InvalidHandle, api.ErrClosed
	}
	if prev, dup := t.wrapped[p]; dup {
		t.mu.Unlock()
		return api.InvalidHandle, fmt.Errorf("region already wrapped as %v: %w", prev, api.ErrInvalidArgument)
	}
	if len(t.free) == 0 {
		if len(t.slots) >= t.opts.MaxEntries {
			t.mu.Unlock()
			return api.InvalidHandle, fmt.Errorf("table at %d entries: %w",
				t.opts.MaxEntries, api.ErrTableExhausted)
		}
		next := len(t.slots) * 2
		if next == 0 {
			next = DefaultInitialCapacity
		}
		t.growLocked(next)
	}
	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	e := t.slots[idx]
	// Claim p before releasing the table lock so a racing Wrap of the
	// same region sees the duplicate.
	t.wrapped[p] = api.InvalidHandle
	t.mu.Unlock()

	// The slot came off the free list, so nothing else touches it; the
	// entry lock is only pro forma here. Never taken under t.mu.
	e.mu.Lock()
	h := handleOf(e.gen, idx)
	e.h = h
	e.data = p
	e.size = size
	e.typ = typ
	e.refs = 1
	e.live = true
	e.mu.Unlock()

	t.mu.Lock()
	t.wrapped[p] = h
	t.mu.Unlock()

	atomic.AddInt64(&t.liveCount, 1)
	atomic.AddInt64(&t.wraps, 1)
	return h, nil
}

// lookup resolves h to its slot without touching the refcount.
func (t *Table) lookup(h api.Handle) (*entry, error) {
	if !h.Valid() {
		return nil, fmt.Errorf("invalid handle: %w", api.ErrStaleHandle)
	}
	_, idx := splitHandle(h)
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, api.ErrClosed
	}
	if int(idx) >= len(t.slots) {
		t.mu.RUnlock()
		return nil, fmt.Errorf("handle %v out of range: %w", h, api.ErrStaleHandle)
	}
	e := t.slots[idx]
	t.mu.RUnlock()
	return e, nil
}

// Acquire resolves h and takes one reference. Every successful Acquire
// must be balanced by exactly one Release.
func (t *Table) Acquire(h api.Handle) (unsafe.Pointer, error) {
	e, err := t.lookup(h)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live || e.h != h {
		return nil, fmt.Errorf("handle %v: %w", h, api.ErrStaleHandle)
	}
	e.refs++
	atomic.AddInt64(&t.acquires, 1)
	return e.data, nil
}

// Release drops one reference. When the count reaches zero the
// resource is destroyed through the arena (running its destructor),
// the slot generation is bumped, and the slot is recycled. A destroy
// failure is returned but the handle is dead regardless.
func (t *Table) Release(h api.Handle) error {
	e, err := t.lookup(h)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if !e.live || e.h != h {
		e.mu.Unlock()
		return fmt.Errorf("handle %v: %w", h, api.ErrStaleHandle)
	}
	atomic.AddInt64(&t.releases, 1)
	e.refs--
	if e.refs > 0 {
		e.mu.Unlock()
		return nil
	}

	// Last reference gone: retire the slot before the destructor runs
	// so concurrent users of the old handle already see it stale.
	p := e.data
	_, idx := splitHandle(h)
	e.live = false
	e.h = api.InvalidHandle
	e.data = nil
	e.size = 0
	e.typ = nil
	e.gen++
	if e.gen == 0 {
		e.gen = 1
	}
	e.mu.Unlock()

	t.mu.Lock()
	delete(t.wrapped, p)
	t.free = append(t.free, idx)
	t.mu.Unlock()

	atomic.AddInt64(&t.liveCount, -1)
	atomic.AddInt64(&t.destroys, 1)

	if ferr := t.arena.Free(&p); ferr != nil {
		t.log.Error().Err(ferr).Msg("destroy of released region failed")
		return fmt.Errorf("destroy: %w", ferr)
	}
	return nil
}

// Reallocate resizes the region behind h while preserving the handle.
// The caller must hold at least one reference.
func (t *Table) Reallocate(h api.Handle, newSize int) error {
	if newSize <= 0 {
		return fmt.Errorf("reallocate to %d: %w", newSize, api.ErrInvalidArgument)
	}
	e, err := t.lookup(h)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live || e.h != h {
		return fmt.Errorf("handle %v: %w", h, api.ErrStaleHandle)
	}

	p := e.data
	if err := t.arena.Reallocate(&p, newSize); err != nil {
		return err
	}

	t.mu.Lock()
	delete(t.wrapped, e.data)
	t.wrapped[p] = h
	t.mu.Unlock()

	e.data = p
	e.size = newSize
	return nil
}

// SizeOf returns the current region size behind h.
func (t *Table) SizeOf(h api.Handle) (int, error) {
	e, err := t.lookup(h)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live || e.h != h {
		return 0, fmt.Errorf("handle %v: %w", h, api.ErrStaleHandle)
	}
	return e.size, nil
}

// Len returns the number of live resources.
func (t *Table) Len() int {
	return int(atomic.LoadInt64(&t.liveCount))
}

// Cap returns the current slot capacity.
func (t *Table) Cap() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots)
}

// Stats returns a snapshot of the table counters.
func (t *Table) Stats() TableStats {
	return TableStats{
		Live:     atomic.LoadInt64(&t.liveCount),
		Capacity: t.Cap(),
		Wraps:    atomic.LoadInt64(&t.wraps),
		Acquires: atomic.LoadInt64(&t.acquires),
		Releases: atomic.LoadInt64(&t.releases),
		Destroys: atomic.LoadInt64(&t.destroys),
	}
}

// StatsSnapshot implements api.StatSource.
func (t *Table) StatsSnapshot() map[string]int64 {
	s := t.Stats()
	return map[string]int64{
		"live":     s.Live,
		"capacity": int64(s.Capacity),
		"wraps":    s.Wraps,
		"acquires": s.Acquires,
		"releases": s.Releases,
		"destroys": s.Destroys,
	}
}

var _ api.StatSource = (*Table)(nil)

// Shutdown force-destroys every live resource regardless of refcount
// and closes the table. It returns the number of resources that were
// still live; a nonzero count means callers leaked references.
func (t *Table) Shutdown() int {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0
	}
	t.closed = true
	slots := t.slots
	t.mu.Unlock()

	// closed is visible to every lookup now, so no new references can
	// appear; in-flight entry operations finish under their slot lock
	// before the sweep reaches them.
	var victims []unsafe.Pointer
	for _, e := range slots {
		e.mu.Lock()
		if e.live {
			victims = append(victims, e.data)
			t.log.Warn().Str("handle", e.h.String()).Int32("refs", e.refs).
				Msg("resource still referenced at table shutdown")
			e.live = false
			e.h = api.InvalidHandle
			e.data = nil
			e.typ = nil
			e.refs = 0
			e.gen++
			if e.gen == 0 {
				e.gen = 1
			}
		}
		e.mu.Unlock()
	}

	t.mu.Lock()
	t.wrapped = map[unsafe.Pointer]api.Handle{}
	t.mu.Unlock()

	for _, p := range victims {
		q := p
		if err := t.arena.Free(&q); err != nil {
			t.log.Error().Err(err).Msg("destroy at shutdown failed")
		}
	}
	n := len(victims)
	atomic.AddInt64(&t.liveCount, -int64(n))
	atomic.AddInt64(&t.destroys, int64(n))
	if n > 0 {
		t.log.Warn().Int("count", n).Msg("table shut down with live resources")
	}
	return n
}
