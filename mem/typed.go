// File: mem/typed.go
// Typed allocation helpers over the guarded arena.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Alloc and Release let callers place ordinary Go structs in guarded
// regions without touching package unsafe themselves.

package mem

import "unsafe"

// Alloc places a zero value of T in a guarded region and returns a
// pointer to it. dtor, when non-nil, runs exactly once at free time
// with the object still intact.
//
// The region's backing store is untyped memory that the garbage
// collector does not scan, so pointer fields inside T must not hold
// the sole reference to a Go object.
func Alloc[T any](a *Arena, dtor func(*T)) (*T, error) {
	size := int(unsafe.Sizeof(*new(T)))
	if size == 0 {
		size = 1
	}
	var d Destructor
	if dtor != nil {
		d = func(p unsafe.Pointer) { dtor((*T)(p)) }
	}
	p, err := a.allocate(size, d, 3)
	if err != nil {
		return nil, err
	}
	return (*T)(p), nil
}

// Release frees an object obtained from Alloc and nils the caller's
// pointer. A nil pp or *pp is a successful no-op; refusal (foreign
// pointer, corruption) leaves *pp untouched.
func Release[T any](a *Arena, pp **T) error {
	if pp == nil || *pp == nil {
		return nil
	}
	p := unsafe.Pointer(*pp)
	if err := a.Free(&p); err != nil {
		return err
	}
	*pp = nil
	return nil
}
