package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
)

// Manager holds the live configuration and reloads it when the file changes
type Manager struct {
	config    *Config
	loader    *Loader
	mutex     sync.RWMutex
	callbacks []func(*Config)
}

// NewManager creates a new configuration manager
func NewManager(configPath string) *Manager {
	return newManager(NewLoader(configPath))
}

func newManager(loader *Loader) *Manager {
	return &Manager{loader: loader}
}

// Initialize loads the initial configuration
func (m *Manager) Initialize() error {
	config, err := m.loader.Load()
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	m.mutex.Lock()
	m.config = config
	m.mutex.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	configCopy := *m.config
	return &configCopy
}

// OnChange registers a callback for configuration changes
func (m *Manager) OnChange(callback func(*Config)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Reload re-reads the configuration and notifies callbacks. An invalid file
// keeps the previous configuration.
func (m *Manager) Reload() error {
	config, err := m.loader.Load()
	if err != nil {
		return err
	}

	m.mutex.Lock()
	m.config = config
	callbacks := append([]func(*Config){}, m.callbacks...)
	m.mutex.Unlock()

	for _, callback := range callbacks {
		configCopy := *config
		callback(&configCopy)
	}
	return nil
}

// Watch reloads on changes to the config file until ctx is done. The
// directory is watched so editors that replace the file are seen too.
func (m *Manager) Watch(ctx context.Context) error {
	path := m.loader.Path()
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				glog.Infof("🔄 Configuration file changed, reloading...")
				if err := m.Reload(); err != nil {
					glog.Warningf("⚠️ Keeping previous configuration: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				glog.Warningf("⚠️ Config watcher error: %v", err)
			}
		}
	}()
	return nil
}
