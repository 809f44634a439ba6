package config

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Maximum accepted size of a pool configuration file (1MB).
const maxPoolFileSize = 1 << 20

const reloadDebounce = 100 * time.Millisecond

// ReloadStats contains statistics about pool configuration reloads.
type ReloadStats struct {
	LastReloadTime time.Time `json:"lastReloadTime,omitempty"`
	ReloadCount    int64     `json:"reloadCount"`
	LastError      error     `json:"-"`
	LastErrorStr   string    `json:"lastError,omitempty"`
}

// LoadPoolFile reads a YAML pool configuration. Keys missing from the file
// keep their default values.
func LoadPoolFile(path string) (PoolConfiguration, error) {
	info, err := os.Stat(path)
	if err != nil {
		return PoolConfiguration{}, fmt.Errorf("failed to stat pool config file: %w", err)
	}
	if info.Size() > maxPoolFileSize {
		return PoolConfiguration{}, fmt.Errorf("pool config file exceeds %d bytes", maxPoolFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return PoolConfiguration{}, fmt.Errorf("failed to read pool config file: %w", err)
	}
	return ParsePoolConfiguration(data)
}

// ParsePoolConfiguration decodes YAML on top of the defaults and validates it.
func ParsePoolConfiguration(data []byte) (PoolConfiguration, error) {
	cfg := DefaultPoolConfiguration()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return PoolConfiguration{}, fmt.Errorf("invalid YAML: %w", err)
	}
	cfg.Validate()
	return cfg, nil
}

// PoolFile holds the pool configuration loaded from disk and optionally
// watches the file, pushing every successful reload to onChange.
// Reads are lock-free using atomic.Value.
type PoolFile struct {
	path     string
	current  atomic.Value // PoolConfiguration
	onChange func(PoolConfiguration)
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects reload operations and stats
	stats    ReloadStats
	closed   bool

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewPoolFile loads path and, if hotReload is set, starts watching it.
// onChange may be nil. A load failure is returned; a watcher failure only
// disables hot reload.
func NewPoolFile(path string, hotReload bool, onChange func(PoolConfiguration)) (*PoolFile, error) {
	cfg, err := LoadPoolFile(path)
	if err != nil {
		return nil, err
	}

	f := &PoolFile{
		path:     path,
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}
	f.current.Store(cfg)
	f.stats.LastReloadTime = time.Now()

	log.Info().
		Str("path", path).
		Int("min_instances", cfg.MinInstances).
		Int("max_instances", cfg.MaxInstances).
		Msg("Loaded pool configuration file")

	if hotReload {
		if err := f.startWatcher(); err != nil {
			log.Warn().
				Err(err).
				Str("path", path).
				Msg("Failed to start file watcher, hot-reload disabled")
		} else {
			log.Info().
				Str("path", path).
				Msg("Hot-reload enabled for pool configuration file")
		}
	}

	return f, nil
}

// Get returns the current pool configuration.
func (f *PoolFile) Get() PoolConfiguration {
	return f.current.Load().(PoolConfiguration)
}

// Reload re-reads the file. On failure the previous configuration stays in use.
func (f *PoolFile) Reload() error {
	f.mu.Lock()
	cfg, err := LoadPoolFile(f.path)
	if err != nil {
		f.stats.LastError = err
		f.mu.Unlock()
		return err
	}
	f.current.Store(cfg)
	f.stats.LastReloadTime = time.Now()
	f.stats.ReloadCount++
	f.stats.LastError = nil
	count := f.stats.ReloadCount
	f.mu.Unlock()

	log.Info().
		Int64("reload_count", count).
		Msg("Pool configuration hot-reloaded successfully")

	if f.onChange != nil {
		f.onChange(cfg)
	}
	return nil
}

// Stats returns the current reload statistics.
func (f *PoolFile) Stats() ReloadStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := f.stats
	if stats.LastError != nil {
		stats.LastErrorStr = stats.LastError.Error()
	}
	return stats
}

// Close stops the file watcher. Safe to call multiple times.
func (f *PoolFile) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	close(f.stopCh)
	f.wg.Wait()

	f.debounceMu.Lock()
	if f.debounceTimer != nil {
		f.debounceTimer.Stop()
	}
	f.debounceMu.Unlock()

	if f.watcher != nil {
		return f.watcher.Close()
	}
	return nil
}

func (f *PoolFile) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(f.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch file: %w", err)
	}

	f.watcher = watcher

	f.wg.Add(1)
	go f.watchFile()

	return nil
}

// watchFile coalesces bursts of write events into a single reload.
func (f *PoolFile) watchFile() {
	defer f.wg.Done()

	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			log.Debug().
				Str("event", event.Op.String()).
				Str("file", event.Name).
				Msg("Pool configuration file changed")

			f.debounceMu.Lock()
			if f.debounceTimer != nil {
				f.debounceTimer.Reset(reloadDebounce)
			} else {
				f.debounceTimer = time.AfterFunc(reloadDebounce, f.reloadFromWatcher)
			}
			f.debounceMu.Unlock()

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("File watcher error")

		case <-f.stopCh:
			return
		}
	}
}

func (f *PoolFile) reloadFromWatcher() {
	select {
	case <-f.stopCh:
		return
	default:
	}
	if err := f.Reload(); err != nil {
		log.Warn().
			Err(err).
			Str("path", f.path).
			Msg("Hot-reload failed, keeping previous pool configuration")
	}
}
