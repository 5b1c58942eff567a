// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Runtime debug handler and probe registry for internal inspection.

package control

import "sync"

// DebugProbes holds registered probe functions. Probes run on demand
// from DumpState and must be safe to call from any goroutine.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: make(map[string]func() any),
	}
}

// RegisterProbe inserts a named debug hook, replacing an existing one
// with the same name.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	if fn == nil {
		return
	}
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// DumpState returns the output of all probes.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make(map[string]any, len(dp.probes))
	for k, fn := range dp.probes {
		out[k] = fn()
	}
	return out
}
