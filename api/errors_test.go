// File: api/errors_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCodeOfClassifiesSentinels(t *testing.T) {
	cases := map[error]ErrorCode{
		nil:                   ErrCodeOK,
		ErrInvalidArgument:    ErrCodeInvalidArgument,
		ErrOutOfMemory:        ErrCodeOutOfMemory,
		ErrDeviceFailure:      ErrCodeDeviceFailure,
		ErrStaleHandle:        ErrCodeStaleHandle,
		ErrCorruptionDetected: ErrCodeCorruption,
		ErrForeignRegion:      ErrCodeForeignRegion,
		ErrWouldBlock:         ErrCodeWouldBlock,
		ErrTimeout:            ErrCodeTimeout,
		ErrNotConnected:       ErrCodeNotConnected,
		ErrTableExhausted:     ErrCodeTableExhausted,
		ErrClosed:             ErrCodeClosed,
		ErrFinished:           ErrCodeFinished,
		ErrNotSupported:       ErrCodeNotSupported,
	}
	for err, want := range cases {
		if got := CodeOf(err); got != want {
			t.Errorf("CodeOf(%v) = %v, want %v", err, got, want)
		}
	}
}

func TestCodeOfSeesThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("epoll_ctl add fd 7: %w", ErrDeviceFailure)
	if got := CodeOf(wrapped); got != ErrCodeDeviceFailure {
		t.Errorf("CodeOf(wrapped) = %v, want device_failure", got)
	}
	twice := fmt.Errorf("worker 3: %w", wrapped)
	if got := CodeOf(twice); got != ErrCodeDeviceFailure {
		t.Errorf("CodeOf(twice wrapped) = %v, want device_failure", got)
	}
	if got := CodeOf(errors.New("something else entirely")); got != ErrCodeInternal {
		t.Errorf("CodeOf(foreign error) = %v, want internal", got)
	}
}

func TestErrorCodeString(t *testing.T) {
	if got := ErrCodeOK.String(); got != "ok" {
		t.Errorf("ErrCodeOK = %q", got)
	}
	if got := ErrCodeCorruption.String(); got != "corruption" {
		t.Errorf("ErrCodeCorruption = %q", got)
	}
	if got := ErrorCode(1000).String(); got != "internal" {
		t.Errorf("unknown code = %q, want internal", got)
	}
}

func TestStructuredErrorUnwrapsToSentinel(t *testing.T) {
	err := NewError(ErrCodeTimeout, "join took too long")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("structured error must match its sentinel: %v", err)
	}
	if errors.Is(err, ErrClosed) {
		t.Fatal("structured error matched a foreign sentinel")
	}
	if got := CodeOf(err); got != ErrCodeTimeout {
		t.Errorf("CodeOf round trip = %v, want timeout", got)
	}
	if got := err.Error(); got != "join took too long" {
		t.Errorf("bare message rendering = %q", got)
	}
}

func TestStructuredErrorContext(t *testing.T) {
	err := NewError(ErrCodeStaleHandle, "lookup failed").
		WithContext("handle", "0x2:0x41").
		WithContext("slot", 65)
	msg := err.Error()
	if !strings.Contains(msg, "lookup failed") || !strings.Contains(msg, "handle") {
		t.Errorf("context lost in rendering: %q", msg)
	}

	// A zero-value Error gains a context map on first use.
	var bare Error
	bare.Code = ErrCodeClosed
	bare.WithContext("op", "wait")
	if bare.Context["op"] != "wait" {
		t.Errorf("WithContext on zero value: %+v", bare.Context)
	}
}
