// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics, configuration control, and debug introspection
// layer for the hioload-core runtime.
//
// Provides concurrent-safe state handling primitives including:
//   - Typed TOML-backed configuration with validation and defaults
//   - Snapshot config reads, atomic updates, reload observers
//   - A metrics registry that pulls attached StatSource providers
//   - Debug probe registration and state export
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
