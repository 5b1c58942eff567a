// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for system-level monitoring.
// Exposes counters in a thread-safe map and pulls attached
// StatSource providers on snapshot.

package control

import (
	"sync"
	"time"

	"github.com/momentics/hioload-core/api"
)

// MetricsRegistry holds explicit counters plus attached stat sources.
// Snapshot merges both: source keys are prefixed with the attachment
// name, so "arena" exposing "allocs" lands as "arena.allocs".
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]int64
	sources  map[string]api.StatSource
	updated  time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]int64),
		sources:  make(map[string]api.StatSource),
	}
}

// Set sets or updates a counter.
func (mr *MetricsRegistry) Set(key string, value int64) {
	mr.mu.Lock()
	mr.counters[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Inc adds delta to a counter, creating it at zero first.
func (mr *MetricsRegistry) Inc(key string, delta int64) {
	mr.mu.Lock()
	mr.counters[key] += delta
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Get reads one counter.
func (mr *MetricsRegistry) Get(key string) (int64, bool) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	v, ok := mr.counters[key]
	return v, ok
}

// Attach registers a stat source under name, replacing any previous
// attachment with the same name.
func (mr *MetricsRegistry) Attach(name string, src api.StatSource) {
	if src == nil {
		return
	}
	mr.mu.Lock()
	mr.sources[name] = src
	mr.mu.Unlock()
}

// Detach removes a stat source.
func (mr *MetricsRegistry) Detach(name string) {
	mr.mu.Lock()
	delete(mr.sources, name)
	mr.mu.Unlock()
}

// Snapshot returns the counters merged with every attached source's
// current readings.
func (mr *MetricsRegistry) Snapshot() map[string]int64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]int64, len(mr.counters))
	for k, v := range mr.counters {
		out[k] = v
	}
	for name, src := range mr.sources {
		for k, v := range src.StatsSnapshot() {
			out[name+"."+k] = v
		}
	}
	return out
}

// Updated reports when a counter last changed. Attached sources do
// not move it; they are pulled, not pushed.
func (mr *MetricsRegistry) Updated() time.Time {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}
