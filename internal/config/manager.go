package config

import (
	"fmt"
	"sync"
)

// ConfigManager is the live-config accessor handed to long-running
// services (processor, watcher, HTTP handlers). Callers re-read through
// Get on every use instead of capturing a snapshot at construction, so an
// edit through the API or a file reload takes effect without a daemon
// restart.
type ConfigManager interface {
	Get() *Config
	Set(cfg *Config)
	Reload(path string) error
}

// Manager holds the current config snapshot behind an RWMutex. Reads
// vastly outnumber writes (every processor cycle, every request), writes
// happen only on a config-edit route or an explicit reload.
type Manager struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewManager seeds a manager with a clone of the initial config, so later
// mutation of the caller's copy never leaks into running services.
func NewManager(initial *Config) *Manager {
	return &Manager{cfg: initial.Clone()}
}

// Get returns a cloned snapshot of the current config. Each caller gets
// its own copy; slices and rule sets in the snapshot are safe to read
// without holding any lock.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Clone()
}

// Set swaps in a clone of cfg as the new current config.
func (m *Manager) Set(cfg *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg.Clone()
}

// Reload loads the config file at path and atomically swaps it in. The
// running config is only ever replaced by a snapshot that passes
// Validate; on any error the previous snapshot stays in effect.
func (m *Manager) Reload(path string) error {
	if path == "" {
		return fmt.Errorf("config: reload path is required")
	}

	loaded, err := Load(path)
	if err != nil {
		return err
	}
	if err := Validate(loaded); err != nil {
		return fmt.Errorf("config: reload %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = loaded
	return nil
}

var _ ConfigManager = (*Manager)(nil)
