// File: mem/arena_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mem

import (
	"encoding/binary"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-core/api"
)

func TestAllocateZeroed(t *testing.T) {
	a := NewArena(Options{})
	p, err := a.Allocate(64, nil)
	require.NoError(t, err)
	require.NotNil(t, p)

	buf, err := a.Bytes(p)
	require.NoError(t, err)
	require.Len(t, buf, 64)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %#x", i, b)
		}
	}
	assert.Equal(t, uintptr(0), uintptr(p)%16, "payload must be 16-byte aligned")
	require.NoError(t, a.Free(&p))
}

func TestAllocateBadSize(t *testing.T) {
	a := NewArena(Options{})
	_, err := a.Allocate(0, nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = a.Allocate(-4, nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestFreeRunsDestructorOnceAndNilsPointer(t *testing.T) {
	a := NewArena(Options{})
	calls := 0
	p, err := a.Allocate(32, func(unsafe.Pointer) { calls++ })
	require.NoError(t, err)

	require.NoError(t, a.Free(&p))
	assert.Equal(t, 1, calls, "destructor must run exactly once")
	assert.Nil(t, p, "caller's pointer must be nil after free")

	// Freeing the now-nil pointer is a no-op, not a second run.
	require.NoError(t, a.Free(&p))
	assert.Equal(t, 1, calls)
}

func TestFreeNilNoOp(t *testing.T) {
	a := NewArena(Options{})
	require.NoError(t, a.Free(nil))
	var p unsafe.Pointer
	require.NoError(t, a.Free(&p))
}

func TestFreeForeignPointerRefused(t *testing.T) {
	a := NewArena(Options{})
	x := new(int64)
	p := unsafe.Pointer(x)
	err := a.Free(&p)
	assert.ErrorIs(t, err, api.ErrForeignRegion)
	assert.NotNil(t, p, "refused free must leave the pointer alone")
}

func TestDoubleFreeDetected(t *testing.T) {
	a := NewArena(Options{})
	p, err := a.Allocate(16, nil)
	require.NoError(t, err)

	stale := p
	require.NoError(t, a.Free(&p))

	err = a.Free(&stale)
	assert.ErrorIs(t, err, api.ErrCorruptionDetected)
	assert.Equal(t, int64(1), a.Stats().CorruptionEvents)
}

func TestCorruptedFooterRefused(t *testing.T) {
	a := NewArena(Options{})
	dtorRan := false
	p, err := a.Allocate(24, func(unsafe.Pointer) { dtorRan = true })
	require.NoError(t, err)

	// Stomp the footer canary the way an out-of-bounds write would.
	buf, err := a.Bytes(p)
	require.NoError(t, err)
	end := unsafe.Pointer(&buf[len(buf)-1])
	footer := unsafe.Slice((*byte)(unsafe.Add(end, 1)), 8)
	binary.LittleEndian.PutUint64(footer, 0x41414141_41414141)

	err = a.Free(&p)
	assert.ErrorIs(t, err, api.ErrCorruptionDetected)
	assert.False(t, dtorRan, "destructor must not run on a corrupt region")
	assert.NotNil(t, p, "corrupt region stays leaked, pointer untouched")
	assert.ErrorIs(t, a.Validate(p), api.ErrCorruptionDetected)
}

func TestValidate(t *testing.T) {
	a := NewArena(Options{})
	p, err := a.Allocate(8, nil)
	require.NoError(t, err)
	assert.NoError(t, a.Validate(p))

	other := new(int32)
	assert.ErrorIs(t, a.Validate(unsafe.Pointer(other)), api.ErrForeignRegion)

	stale := p
	require.NoError(t, a.Free(&p))
	assert.ErrorIs(t, a.Validate(stale), api.ErrCorruptionDetected)
}

func TestReallocatePreservesContents(t *testing.T) {
	a := NewArena(Options{})
	p, err := a.Allocate(8, nil)
	require.NoError(t, err)

	buf, err := a.Bytes(p)
	require.NoError(t, err)
	copy(buf, "abcdefgh")

	require.NoError(t, a.Reallocate(&p, 32))
	buf, err = a.Bytes(p)
	require.NoError(t, err)
	require.Len(t, buf, 32)
	assert.Equal(t, "abcdefgh", string(buf[:8]))
	for _, b := range buf[8:] {
		assert.Zero(t, b, "grown area must be zeroed")
	}

	// Shrink keeps the prefix.
	require.NoError(t, a.Reallocate(&p, 4))
	buf, err = a.Bytes(p)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf))

	require.NoError(t, a.Free(&p))
}

func TestReallocateMovesDestructorOnce(t *testing.T) {
	a := NewArena(Options{})
	calls := 0
	p, err := a.Allocate(8, func(unsafe.Pointer) { calls++ })
	require.NoError(t, err)

	require.NoError(t, a.Reallocate(&p, 64))
	assert.Equal(t, 0, calls, "reallocate must not run the destructor")

	require.NoError(t, a.Free(&p))
	assert.Equal(t, 1, calls)
}

func TestMaxBytesEnforced(t *testing.T) {
	a := NewArena(Options{MaxBytes: 100})
	p, err := a.Allocate(64, nil)
	require.NoError(t, err)

	_, err = a.Allocate(64, nil)
	assert.ErrorIs(t, err, api.ErrOutOfMemory)

	// Freeing returns headroom.
	require.NoError(t, a.Free(&p))
	q, err := a.Allocate(64, nil)
	require.NoError(t, err)
	require.NoError(t, a.Free(&q))
}

func TestStatsAccounting(t *testing.T) {
	a := NewArena(Options{})
	p1, err := a.Allocate(10, nil)
	require.NoError(t, err)
	p2, err := a.Allocate(20, nil)
	require.NoError(t, err)

	s := a.Stats()
	assert.Equal(t, 2, s.Live)
	assert.Equal(t, int64(30), s.LiveBytes)
	assert.Equal(t, int64(30), s.PeakBytes)
	assert.Equal(t, int64(2), s.TotalAllocs)

	require.NoError(t, a.Free(&p1))
	require.NoError(t, a.Free(&p2))
	s = a.Stats()
	assert.Equal(t, 0, s.Live)
	assert.Equal(t, int64(0), s.LiveBytes)
	assert.Equal(t, int64(30), s.PeakBytes)
	assert.Equal(t, int64(2), s.TotalFrees)

	snap := a.StatsSnapshot()
	assert.Equal(t, int64(0), snap["live"])
	assert.Equal(t, int64(30), snap["peak_bytes"])
}

func TestShutdownDestroysLeaks(t *testing.T) {
	a := NewArena(Options{CaptureSite: true})
	dtors := 0
	_, err := a.Allocate(16, func(unsafe.Pointer) { dtors++ })
	require.NoError(t, err)
	_, err = a.Allocate(32, func(unsafe.Pointer) { dtors++ })
	require.NoError(t, err)

	leaks := a.Shutdown()
	require.Len(t, leaks, 2)
	assert.Equal(t, 2, dtors, "shutdown must run destructors of leaked regions")
	assert.Equal(t, 16, leaks[0].Size, "leak report is oldest first")
	assert.Contains(t, leaks[0].Site, "arena_test.go")

	// Arena is unusable afterwards.
	_, err = a.Allocate(8, nil)
	assert.ErrorIs(t, err, api.ErrClosed)
	assert.Nil(t, a.Shutdown())
}

func TestTypedAllocRelease(t *testing.T) {
	type conn struct {
		fd    int64
		state int32
	}

	a := NewArena(Options{})
	closed := 0
	c, err := Alloc[conn](a, func(c *conn) {
		assert.Equal(t, int64(7), c.fd, "destructor sees the object intact")
		closed++
	})
	require.NoError(t, err)
	c.fd = 7
	c.state = 1

	require.NoError(t, Release(a, &c))
	assert.Nil(t, c)
	assert.Equal(t, 1, closed)

	require.NoError(t, Release(a, &c), "releasing nil is a no-op")
	assert.Equal(t, 1, closed)
}

func TestConcurrentAllocFree(t *testing.T) {
	a := NewArena(Options{})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				p, err := a.Allocate(48, nil)
				if err != nil {
					t.Error(err)
					return
				}
				if err := a.Free(&p); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	s := a.Stats()
	assert.Equal(t, 0, s.Live)
	assert.Equal(t, int64(8*500), s.TotalAllocs)
	assert.Equal(t, int64(8*500), s.TotalFrees)
	assert.Zero(t, s.CorruptionEvents)
}
