// File: mem/arena.go
// Guarded arena allocator with canary words and destructor tracking.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Layout of one region inside its backing slice:
//
//	[ pad ][ header canary ][ payload ... ][ footer canary ]
//	        8 bytes          size bytes      8 bytes
//
// The payload is 16-byte aligned. Canaries are overwritten with a
// distinct freed pattern when the region is released, so a stale view
// of the memory is recognizable. A bounded tombstone ring remembers
// recently freed payload addresses to tell a double free apart from a
// pointer that never belonged to the arena.

package mem

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"unsafe"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/internal/logging"
)

const (
	headerCanary uint64 = 0xDEADBEEFCAFEBABE
	footerCanary uint64 = 0xFEEDFACEDEADC0DE
	freedCanary  uint64 = 0xDEADDEADDEADDEAD

	canarySize   = 8
	payloadAlign = 16

	// tombstoneCap bounds how many freed addresses are remembered for
	// double-free classification.
	tombstoneCap = 4096
)

// Destructor is invoked exactly once when its region is freed, before
// the memory is released. The pointer is the payload pointer.
type Destructor func(unsafe.Pointer)

// Options configures an Arena.
type Options struct {
	// MaxBytes caps the total live payload bytes. Zero or negative
	// means unlimited. Exceeding the cap fails with ErrOutOfMemory.
	MaxBytes int64
	// CaptureSite records the file:line of each Allocate call for
	// leak reports. Costs one runtime.Caller per allocation.
	CaptureSite bool
}

// region is the registry record of one live allocation.
type region struct {
	backing []byte
	off     int // payload offset inside backing
	size    int
	dtor    Destructor
	site    string
	seq     uint64
}

// Arena is a guarded allocator. All methods are safe for concurrent
// use. The zero value is not usable; construct with NewArena.
type Arena struct {
	mu     sync.Mutex
	live   map[unsafe.Pointer]*region
	tombs  map[unsafe.Pointer]string // freed addr -> site of the allocation
	tombsQ *queue.Queue              // eviction order for tombs
	opts   Options
	closed bool
	seq    uint64
	log    zerolog.Logger

	liveBytes   int64
	peakBytes   int64
	totalAllocs int64
	totalFrees  int64
	corruptions int64
}

// Leak describes one region still live at Shutdown.
type Leak struct {
	Size int
	Site string
}

// ArenaStats is a point-in-time view of allocator counters.
type ArenaStats struct {
	Live             int
	LiveBytes        int64
	PeakBytes        int64
	TotalAllocs      int64
	TotalFrees       int64
	CorruptionEvents int64
}

// NewArena constructs an empty arena.
func NewArena(opts Options) *Arena {
	return &Arena{
		live:   make(map[unsafe.Pointer]*region),
		tombs:  make(map[unsafe.Pointer]string),
		tombsQ: queue.New(),
		opts:   opts,
		log:    logging.New("mem.arena"),
	}
}

// Allocate returns a zero-initialized region of exactly size bytes
// guarded with canary words. dtor may be nil.
func (a *Arena) Allocate(size int, dtor Destructor) (unsafe.Pointer, error) {
	return a.allocate(size, dtor, 3)
}

func (a *Arena) allocate(size int, dtor Destructor, skip int) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("allocate size %d: %w", size, api.ErrInvalidArgument)
	}

	var site string
	if a.opts.CaptureSite {
		site = callSite(skip)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, api.ErrClosed
	}
	if a.opts.MaxBytes > 0 && a.liveBytes+int64(size) > a.opts.MaxBytes {
		return nil, fmt.Errorf("allocate %d bytes (live %d, cap %d): %w",
			size, a.liveBytes, a.opts.MaxBytes, api.ErrOutOfMemory)
	}

	reg := newRegion(size, dtor, site)
	a.seq++
	reg.seq = a.seq
	p := reg.payload()

	// The Go allocator may hand back an address that was tombstoned;
	// the slot is legitimately reused, so the tombstone must go.
	delete(a.tombs, p)

	a.live[p] = reg
	a.liveBytes += int64(size)
	if a.liveBytes > a.peakBytes {
		a.peakBytes = a.liveBytes
	}
	a.totalAllocs++
	return p, nil
}

// newRegion builds the backing slice and writes the guard words.
func newRegion(size int, dtor Destructor, site string) *region {
	backing := make([]byte, canarySize+size+canarySize+payloadAlign)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(backing)))
	off := canarySize
	if rem := (base + uintptr(off)) % payloadAlign; rem != 0 {
		off += int(payloadAlign - rem)
	}
	reg := &region{backing: backing, off: off, size: size, dtor: dtor, site: site}
	binary.LittleEndian.PutUint64(backing[off-canarySize:off], headerCanary)
	binary.LittleEndian.PutUint64(backing[off+size:off+size+canarySize], footerCanary)
	return reg
}

func (r *region) payload() unsafe.Pointer {
	return unsafe.Pointer(&r.backing[r.off])
}

func (r *region) header() uint64 {
	return binary.LittleEndian.Uint64(r.backing[r.off-canarySize : r.off])
}

func (r *region) footer() uint64 {
	return binary.LittleEndian.Uint64(r.backing[r.off+r.size : r.off+r.size+canarySize])
}

func (r *region) wipe() {
	binary.LittleEndian.PutUint64(r.backing[r.off-canarySize:r.off], freedCanary)
	binary.LittleEndian.PutUint64(r.backing[r.off+r.size:r.off+r.size+canarySize], freedCanary)
}

// check validates both canaries of a live region.
func (r *region) check() error {
	h, f := r.header(), r.footer()
	if h == headerCanary && f == footerCanary {
		return nil
	}
	if h == freedCanary || f == freedCanary {
		return fmt.Errorf("region guard carries freed pattern: %w", api.ErrCorruptionDetected)
	}
	return fmt.Errorf("region guard overwritten (header %#x footer %#x): %w",
		h, f, api.ErrCorruptionDetected)
}

// Free releases the region at *pp. On success the destructor has run
// exactly once, the guards are wiped, and *pp is set to nil.
//
// A nil pp or *pp is a successful no-op. A pointer the arena does not
// own is refused with ErrForeignRegion and left untouched. A corrupted
// region is refused with ErrCorruptionDetected: its destructor is NOT
// run and the memory is deliberately leaked rather than handed back in
// an unknown state.
func (a *Arena) Free(pp *unsafe.Pointer) error {
	if pp == nil || *pp == nil {
		return nil
	}
	p := *pp

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return api.ErrClosed
	}

	reg, ok := a.live[p]
	if !ok {
		_, dead := a.tombs[p]
		a.mu.Unlock()
		if dead {
			a.noteCorruption()
			a.log.Error().Msg("double free detected")
			return fmt.Errorf("double free: %w", api.ErrCorruptionDetected)
		}
		return fmt.Errorf("free of unowned pointer: %w", api.ErrForeignRegion)
	}
	if err := reg.check(); err != nil {
		a.corruptions++
		a.mu.Unlock()
		a.log.Error().Str("site", reg.site).Int("size", reg.size).
			Msg("guard mismatch on free, region leaked")
		return err
	}

	a.unhookLocked(p, reg)
	a.mu.Unlock()

	// The registry no longer knows p, so the destructor may call back
	// into the arena (nested frees) without deadlock or double runs.
	if reg.dtor != nil {
		reg.dtor(p)
		reg.dtor = nil
	}
	reg.wipe()
	*pp = nil
	return nil
}

// unhookLocked removes the region from the registry and updates the
// counters. Caller holds a.mu.
func (a *Arena) unhookLocked(p unsafe.Pointer, reg *region) {
	delete(a.live, p)
	a.tombs[p] = reg.site
	a.tombsQ.Add(p)
	for a.tombsQ.Length() > tombstoneCap {
		old := a.tombsQ.Remove().(unsafe.Pointer)
		delete(a.tombs, old)
	}
	a.liveBytes -= int64(reg.size)
	a.totalFrees++
}

func (a *Arena) noteCorruption() {
	a.mu.Lock()
	a.corruptions++
	a.mu.Unlock()
}

// Reallocate resizes the region at *pp to newSize, preserving contents
// up to the smaller of the two sizes. The destructor and its
// exactly-once guarantee move to the new region; on any failure the
// original region and *pp are untouched.
func (a *Arena) Reallocate(pp *unsafe.Pointer, newSize int) error {
	if pp == nil || *pp == nil || newSize <= 0 {
		return fmt.Errorf("reallocate: %w", api.ErrInvalidArgument)
	}
	p := *pp

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return api.ErrClosed
	}

	reg, ok := a.live[p]
	if !ok {
		if _, dead := a.tombs[p]; dead {
			a.corruptions++
			return fmt.Errorf("reallocate after free: %w", api.ErrCorruptionDetected)
		}
		return fmt.Errorf("reallocate of unowned pointer: %w", api.ErrForeignRegion)
	}
	if err := reg.check(); err != nil {
		a.corruptions++
		return err
	}
	if a.opts.MaxBytes > 0 && a.liveBytes-int64(reg.size)+int64(newSize) > a.opts.MaxBytes {
		return fmt.Errorf("reallocate to %d bytes: %w", newSize, api.ErrOutOfMemory)
	}

	next := newRegion(newSize, reg.dtor, reg.site)
	a.seq++
	next.seq = a.seq
	np := next.payload()
	delete(a.tombs, np)

	n := reg.size
	if newSize < n {
		n = newSize
	}
	copy(next.backing[next.off:next.off+n], reg.backing[reg.off:reg.off+n])

	// Ownership moved to the new region; the old one goes without its
	// destructor.
	reg.dtor = nil
	a.unhookLocked(p, reg)
	reg.wipe()

	a.live[np] = next
	a.liveBytes += int64(newSize)
	if a.liveBytes > a.peakBytes {
		a.peakBytes = a.liveBytes
	}
	a.totalAllocs++
	*pp = np
	return nil
}

// Owns reports whether p is a live region of this arena.
func (a *Arena) Owns(p unsafe.Pointer) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.live[p]
	return ok
}

// SizeOf returns the payload size of a live region.
func (a *Arena) SizeOf(p unsafe.Pointer) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	reg, ok := a.live[p]
	if !ok {
		return 0, fmt.Errorf("size of unowned pointer: %w", api.ErrForeignRegion)
	}
	return reg.size, nil
}

// Validate checks the guard words of a live region without freeing it.
func (a *Arena) Validate(p unsafe.Pointer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	reg, ok := a.live[p]
	if !ok {
		if _, dead := a.tombs[p]; dead {
			return fmt.Errorf("validate after free: %w", api.ErrCorruptionDetected)
		}
		return fmt.Errorf("validate of unowned pointer: %w", api.ErrForeignRegion)
	}
	if err := reg.check(); err != nil {
		a.corruptions++
		return err
	}
	return nil
}

// Bytes exposes the payload of a live region as a slice of exactly its
// allocated size. The slice aliases the region; it must not be used
// after the region is freed.
func (a *Arena) Bytes(p unsafe.Pointer) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	reg, ok := a.live[p]
	if !ok {
		return nil, fmt.Errorf("bytes of unowned pointer: %w", api.ErrForeignRegion)
	}
	return reg.backing[reg.off : reg.off+reg.size : reg.off+reg.size], nil
}

// Stats returns a snapshot of the allocator counters.
func (a *Arena) Stats() ArenaStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ArenaStats{
		Live:             len(a.live),
		LiveBytes:        a.liveBytes,
		PeakBytes:        a.peakBytes,
		TotalAllocs:      a.totalAllocs,
		TotalFrees:       a.totalFrees,
		CorruptionEvents: a.corruptions,
	}
}

// StatsSnapshot implements api.StatSource.
func (a *Arena) StatsSnapshot() map[string]int64 {
	s := a.Stats()
	return map[string]int64{
		"live":        int64(s.Live),
		"live_bytes":  s.LiveBytes,
		"peak_bytes":  s.PeakBytes,
		"allocs":      s.TotalAllocs,
		"frees":       s.TotalFrees,
		"corruptions": s.CorruptionEvents,
	}
}

var _ api.StatSource = (*Arena)(nil)

// Shutdown destroys every live region, oldest first, running the
// destructors, and returns the leak report. The arena is unusable
// afterwards; all operations fail with ErrClosed, including nested
// calls made by destructors during the shutdown itself. Shutdown of a
// closed arena returns nil.
func (a *Arena) Shutdown() []Leak {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true

	regs := make([]*region, 0, len(a.live))
	ptrs := make(map[*region]unsafe.Pointer, len(a.live))
	for p, r := range a.live {
		regs = append(regs, r)
		ptrs[r] = p
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })
	for _, r := range regs {
		delete(a.live, ptrs[r])
		a.liveBytes -= int64(r.size)
		a.totalFrees++
	}
	a.mu.Unlock()

	var leaks []Leak
	for _, r := range regs {
		leaks = append(leaks, Leak{Size: r.size, Site: r.site})
		a.log.Warn().Int("size", r.size).Str("site", r.site).Msg("region leaked at shutdown")
		if r.dtor != nil {
			r.dtor(ptrs[r])
			r.dtor = nil
		}
		r.wipe()
	}
	if len(leaks) > 0 {
		a.log.Warn().Int("count", len(leaks)).Msg("arena shut down with leaks")
	}
	return leaks
}

func callSite(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	short := file
	slashes := 0
	for i := len(file) - 1; i >= 0; i-- {
		if file[i] == '/' {
			slashes++
			if slashes == 2 {
				short = file[i+1:]
				break
			}
		}
	}
	return fmt.Sprintf("%s:%d", short, line)
}
