// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error taxonomy of the hioload-core runtime. Every failure path
// in the library wraps one of these sentinels so callers can classify
// with errors.Is regardless of how deep the failure originated.

package api

import (
	"errors"
	"fmt"
)

// Sentinel errors used across the library.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOutOfMemory        = errors.New("out of memory")
	ErrDeviceFailure      = errors.New("device or syscall failure")
	ErrStaleHandle        = errors.New("invalid or stale handle")
	ErrCorruptionDetected = errors.New("memory corruption detected")
	ErrForeignRegion      = errors.New("pointer not owned by arena")
	ErrWouldBlock         = errors.New("operation would block")
	ErrTimeout            = errors.New("operation timed out")
	ErrNotConnected       = errors.New("not connected")
	ErrTableExhausted     = errors.New("handle table exhausted")
	ErrClosed             = errors.New("object is closed")
	ErrFinished           = errors.New("threadlet already finished")
	ErrNotSupported       = errors.New("operation not supported")
)

// ErrorCode is the numeric form of the taxonomy, used in stats maps,
// log fields and wire surfaces where an error value cannot travel.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeOutOfMemory
	ErrCodeDeviceFailure
	ErrCodeStaleHandle
	ErrCodeCorruption
	ErrCodeForeignRegion
	ErrCodeWouldBlock
	ErrCodeTimeout
	ErrCodeNotConnected
	ErrCodeTableExhausted
	ErrCodeClosed
	ErrCodeFinished
	ErrCodeNotSupported
	ErrCodeInternal
)

// codeTable drives CodeOf; order matters only for readability.
var codeTable = []struct {
	sentinel error
	code     ErrorCode
}{
	{ErrInvalidArgument, ErrCodeInvalidArgument},
	{ErrOutOfMemory, ErrCodeOutOfMemory},
	{ErrDeviceFailure, ErrCodeDeviceFailure},
	{ErrStaleHandle, ErrCodeStaleHandle},
	{ErrCorruptionDetected, ErrCodeCorruption},
	{ErrForeignRegion, ErrCodeForeignRegion},
	{ErrWouldBlock, ErrCodeWouldBlock},
	{ErrTimeout, ErrCodeTimeout},
	{ErrNotConnected, ErrCodeNotConnected},
	{ErrTableExhausted, ErrCodeTableExhausted},
	{ErrClosed, ErrCodeClosed},
	{ErrFinished, ErrCodeFinished},
	{ErrNotSupported, ErrCodeNotSupported},
}

// CodeOf classifies err against the taxonomy. A nil error maps to
// ErrCodeOK; an error outside the taxonomy maps to ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	for _, e := range codeTable {
		if errors.Is(err, e.sentinel) {
			return e.code
		}
	}
	return ErrCodeInternal
}

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeOutOfMemory:
		return "out_of_memory"
	case ErrCodeDeviceFailure:
		return "device_failure"
	case ErrCodeStaleHandle:
		return "stale_handle"
	case ErrCodeCorruption:
		return "corruption"
	case ErrCodeForeignRegion:
		return "foreign_region"
	case ErrCodeWouldBlock:
		return "would_block"
	case ErrCodeTimeout:
		return "timeout"
	case ErrCodeNotConnected:
		return "not_connected"
	case ErrCodeTableExhausted:
		return "table_exhausted"
	case ErrCodeClosed:
		return "closed"
	case ErrCodeFinished:
		return "finished"
	case ErrCodeNotSupported:
		return "not_supported"
	default:
		return "internal"
	}
}

// Error is a structured error carrying a code and free-form context.
// It wraps the matching sentinel so errors.Is keeps working.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap yields the taxonomy sentinel for the code.
func (e *Error) Unwrap() error {
	for _, t := range codeTable {
		if t.code == e.Code {
			return t.sentinel
		}
	}
	return nil
}

// NewError creates a structured error with the given code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
