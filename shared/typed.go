// File: shared/typed.go
// Typed handle access and the scoped acquire guard.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package shared

import (
	"fmt"
	"reflect"
	"sync/atomic"
	"unsafe"

	"github.com/momentics/hioload-core/api"
)

// WrapObject registers an arena-allocated object (see mem.Alloc) and
// records its concrete type, enabling checked access via AcquireAs.
func WrapObject[T any](t *Table, obj *T) (api.Handle, error) {
	if obj == nil {
		return api.InvalidHandle, fmt.Errorf("wrap nil object: %w", api.ErrInvalidArgument)
	}
	return t.wrap(unsafe.Pointer(obj), reflect.TypeOf(obj).Elem())
}

// AcquireAs resolves h as a *T, taking one reference. Resolution fails
// with ErrInvalidArgument when the resource was wrapped as a different
// type, or untyped; the refcount is untouched in that case.
func AcquireAs[T any](t *Table, h api.Handle) (*T, error) {
	want := reflect.TypeOf((*T)(nil)).Elem()

	e, err := t.lookup(h)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live || e.h != h {
		return nil, fmt.Errorf("handle %v: %w", h, api.ErrStaleHandle)
	}
	if e.typ != want {
		got := "untyped"
		if e.typ != nil {
			got = e.typ.String()
		}
		return nil, fmt.Errorf("handle %v holds %s, want %s: %w",
			h, got, want.String(), api.ErrInvalidArgument)
	}
	e.refs++
	atomic.AddInt64(&t.acquires, 1)
	return (*T)(e.data), nil
}

// With runs fn with the resource acquired, releasing on every exit
// path, panics included. fn's error is returned unless the trailing
// release itself fails harder.
func With[T any](t *Table, h api.Handle, fn func(*T) error) (err error) {
	p, aerr := AcquireAs[T](t, h)
	if aerr != nil {
		return aerr
	}
	defer func() {
		if rerr := t.Release(h); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(p)
}
