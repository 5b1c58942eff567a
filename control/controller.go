// control/controller.go
// Author: momentics <momentics@gmail.com>
//
// Controller binds the config store, metrics registry and debug
// probes into the api.Control surface.

package control

import (
	"fmt"

	"github.com/momentics/hioload-core/api"
)

// Controller implements api.Control. Config keys use the flattened
// "section.field" form of the TOML layout. Updated values reach
// components built afterwards; live components observe changes only
// through reload listeners.
type Controller struct {
	store   *Store
	metrics *MetricsRegistry
	probes  *DebugProbes
}

// NewController wires a controller over an existing store and
// registry, seeding the platform debug probes.
func NewController(store *Store, metrics *MetricsRegistry) *Controller {
	probes := NewDebugProbes()
	RegisterPlatformProbes(probes)
	return &Controller{store: store, metrics: metrics, probes: probes}
}

// Store exposes the underlying config store.
func (c *Controller) Store() *Store { return c.store }

// Metrics exposes the underlying metrics registry.
func (c *Controller) Metrics() *MetricsRegistry { return c.metrics }

// GetConfig returns the flattened configuration snapshot.
func (c *Controller) GetConfig() map[string]any {
	cfg := c.store.Config()
	return map[string]any{
		"arena.max_bytes":            cfg.Arena.MaxBytes,
		"arena.capture_site":         cfg.Arena.CaptureSite,
		"shared.initial_capacity":    cfg.Shared.InitialCapacity,
		"shared.max_entries":         cfg.Shared.MaxEntries,
		"scheduler.workers":          cfg.Scheduler.Workers,
		"scheduler.poll_interval_ms": cfg.Scheduler.PollIntervalMS,
		"scheduler.inbox_capacity":   cfg.Scheduler.InboxCapacity,
		"reactor.max_events":         cfg.Reactor.MaxEvents,
		"log.level":                  cfg.Log.Level,
		"log.console":                cfg.Log.Console,
	}
}

// SetConfig applies flattened keys. Unknown keys or mistyped values
// reject the whole update before anything changes.
func (c *Controller) SetConfig(in map[string]any) error {
	ops := make([]func(*Config), 0, len(in))
	for key, val := range in {
		op, err := buildOp(key, val)
		if err != nil {
			return err
		}
		ops = append(ops, op)
	}
	return c.store.Update(func(cfg *Config) {
		for _, op := range ops {
			op(cfg)
		}
	})
}

// Stats returns the merged metrics snapshot.
func (c *Controller) Stats() map[string]any {
	snap := c.metrics.Snapshot()
	out := make(map[string]any, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	return out
}

// OnReload registers a hook run after each successful config update.
func (c *Controller) OnReload(fn func()) {
	c.store.OnReload(func(Config) { fn() })
}

// RegisterDebugProbe inserts a named debug hook.
func (c *Controller) RegisterDebugProbe(name string, fn func() any) {
	c.probes.RegisterProbe(name, fn)
}

// DebugReport returns the output of all registered probes.
func (c *Controller) DebugReport() map[string]any {
	return c.probes.DumpState()
}

var _ api.Control = (*Controller)(nil)

func buildOp(key string, val any) (func(*Config), error) {
	switch key {
	case "arena.max_bytes":
		n, ok := toInt64(val)
		if !ok {
			return nil, badValue(key, val)
		}
		return func(c *Config) { c.Arena.MaxBytes = n }, nil
	case "arena.capture_site":
		b, ok := val.(bool)
		if !ok {
			return nil, badValue(key, val)
		}
		return func(c *Config) { c.Arena.CaptureSite = b }, nil
	case "shared.initial_capacity":
		n, ok := toInt64(val)
		if !ok {
			return nil, badValue(key, val)
		}
		return func(c *Config) { c.Shared.InitialCapacity = int(n) }, nil
	case "shared.max_entries":
		n, ok := toInt64(val)
		if !ok {
			return nil, badValue(key, val)
		}
		return func(c *Config) { c.Shared.MaxEntries = int(n) }, nil
	case "scheduler.workers":
		n, ok := toInt64(val)
		if !ok {
			return nil, badValue(key, val)
		}
		return func(c *Config) { c.Scheduler.Workers = int(n) }, nil
	case "scheduler.poll_interval_ms":
		n, ok := toInt64(val)
		if !ok {
			return nil, badValue(key, val)
		}
		return func(c *Config) { c.Scheduler.PollIntervalMS = int(n) }, nil
	case "scheduler.inbox_capacity":
		n, ok := toInt64(val)
		if !ok {
			return nil, badValue(key, val)
		}
		return func(c *Config) { c.Scheduler.InboxCapacity = int(n) }, nil
	case "reactor.max_events":
		n, ok := toInt64(val)
		if !ok {
			return nil, badValue(key, val)
		}
		return func(c *Config) { c.Reactor.MaxEvents = int(n) }, nil
	case "log.level":
		s, ok := val.(string)
		if !ok {
			return nil, badValue(key, val)
		}
		return func(c *Config) { c.Log.Level = s }, nil
	case "log.console":
		b, ok := val.(bool)
		if !ok {
			return nil, badValue(key, val)
		}
		return func(c *Config) { c.Log.Console = b }, nil
	default:
		return nil, fmt.Errorf("unknown config key %q: %w", key, api.ErrInvalidArgument)
	}
}

func badValue(key string, val any) error {
	return fmt.Errorf("config key %q: bad value %v (%T): %w", key, val, val, api.ErrInvalidArgument)
}

// toInt64 accepts the integer shapes that JSON, TOML and literal Go
// callers produce.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}
