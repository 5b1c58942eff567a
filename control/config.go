// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Typed runtime configuration with TOML loading, validation, and a
// thread-safe store with hot-reload propagation.

package control

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-core/api"
)

// Config is the full runtime configuration tree.
type Config struct {
	Arena     ArenaConfig     `toml:"arena"`
	Shared    SharedConfig    `toml:"shared"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Reactor   ReactorConfig   `toml:"reactor"`
	Log       LogConfig       `toml:"log"`
}

// ArenaConfig bounds the guarded allocator.
type ArenaConfig struct {
	// MaxBytes caps live payload bytes; zero means unbounded.
	MaxBytes int64 `toml:"max_bytes"`
	// CaptureSite records allocation call sites for leak reports.
	CaptureSite bool `toml:"capture_site"`
}

// SharedConfig sizes the handle table.
type SharedConfig struct {
	InitialCapacity int `toml:"initial_capacity"`
	MaxEntries      int `toml:"max_entries"`
}

// SchedulerConfig shapes the worker loops.
type SchedulerConfig struct {
	Workers        int `toml:"workers"`
	PollIntervalMS int `toml:"poll_interval_ms"`
	InboxCapacity  int `toml:"inbox_capacity"`
}

// ReactorConfig shapes the epoll backend.
type ReactorConfig struct {
	MaxEvents int `toml:"max_events"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level   string `toml:"level"`
	Console bool   `toml:"console"`
}

// MaxWorkers caps the scheduler worker count.
const MaxWorkers = 64

// DefaultConfig returns default configuration values.
// These sane defaults support typical use cases without tuning.
func DefaultConfig() Config {
	return Config{
		Arena: ArenaConfig{
			MaxBytes:    0,    // Unbounded arena
			CaptureSite: true, // Record call sites for leak reports
		},
		Shared: SharedConfig{
			InitialCapacity: 1024,    // 1K slots before first growth
			MaxEntries:      1 << 20, // Hard table ceiling
		},
		Scheduler: SchedulerConfig{
			Workers:        0,    // Auto: one loop per CPU
			PollIntervalMS: 100,  // 100ms idle poll bound
			InboxCapacity:  1024, // Cross-thread submit ring size
		},
		Reactor: ReactorConfig{
			MaxEvents: 1024, // Events per epoll_wait batch
		},
		Log: LogConfig{
			Level:   "info", // Hot paths are silent at info
			Console: false,  // JSON to stderr unless asked
		},
	}
}

// LoadFile reads a TOML file over the defaults, so absent keys keep
// their default values. The result is validated.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w: %w", path, err, api.ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every bound. Workers zero means auto-size and is
// valid; everything else must be inside its window.
func (c Config) Validate() error {
	if c.Arena.MaxBytes < 0 {
		return fmt.Errorf("arena.max_bytes %d: %w", c.Arena.MaxBytes, api.ErrInvalidArgument)
	}
	if c.Shared.InitialCapacity < 0 {
		return fmt.Errorf("shared.initial_capacity %d: %w", c.Shared.InitialCapacity, api.ErrInvalidArgument)
	}
	if c.Shared.MaxEntries < 0 {
		return fmt.Errorf("shared.max_entries %d: %w", c.Shared.MaxEntries, api.ErrInvalidArgument)
	}
	if c.Shared.MaxEntries > 0 && c.Shared.InitialCapacity > c.Shared.MaxEntries {
		return fmt.Errorf("shared.initial_capacity %d exceeds max_entries %d: %w",
			c.Shared.InitialCapacity, c.Shared.MaxEntries, api.ErrInvalidArgument)
	}
	if c.Scheduler.Workers < 0 || c.Scheduler.Workers > MaxWorkers {
		return fmt.Errorf("scheduler.workers %d outside [0,%d]: %w",
			c.Scheduler.Workers, MaxWorkers, api.ErrInvalidArgument)
	}
	if c.Scheduler.PollIntervalMS <= 0 {
		return fmt.Errorf("scheduler.poll_interval_ms %d: %w",
			c.Scheduler.PollIntervalMS, api.ErrInvalidArgument)
	}
	if c.Scheduler.InboxCapacity <= 0 {
		return fmt.Errorf("scheduler.inbox_capacity %d: %w",
			c.Scheduler.InboxCapacity, api.ErrInvalidArgument)
	}
	if c.Reactor.MaxEvents <= 0 {
		return fmt.Errorf("reactor.max_events %d: %w", c.Reactor.MaxEvents, api.ErrInvalidArgument)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level %q: %w: %w", c.Log.Level, err, api.ErrInvalidArgument)
	}
	return nil
}

// Store holds the live configuration with atomic snapshot reads and
// validated updates. Reload listeners run synchronously on the
// updating goroutine, after the swap, without the lock held.
type Store struct {
	mu        sync.RWMutex
	cfg       Config
	listeners []func(Config)
}

// NewStore validates cfg and wraps it in a store.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{cfg: cfg}, nil
}

// Config returns the current snapshot.
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update applies mutate to a copy, validates it, swaps it in and
// notifies listeners. On validation failure nothing changes.
func (s *Store) Update(mutate func(*Config)) error {
	s.mu.Lock()
	next := s.cfg
	mutate(&next)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cfg = next
	hooks := make([]func(Config), len(s.listeners))
	copy(hooks, s.listeners)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(next)
	}
	return nil
}

// Set replaces the whole configuration.
func (s *Store) Set(cfg Config) error {
	return s.Update(func(c *Config) { *c = cfg })
}

// OnReload registers a listener invoked after each successful update.
func (s *Store) OnReload(fn func(Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
