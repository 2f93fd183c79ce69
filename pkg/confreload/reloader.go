// Package confreload watches the running config file, hot-swaps a
// revalidated config.Config into place, and notifies registered callbacks
// of each reload. Components built from the earlier config keep their
// values; only GetConfig and the callbacks see the new one.
package confreload

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"openchrome/internal/config"
)

// ChangeCallback is invoked, in its own goroutine, whenever the watched
// file is reloaded successfully.
type ChangeCallback func(newCfg *config.Config)

// Logger is the logging surface Reloader needs; satisfied by a thin
// adapter over pkg/logger.Logger or left as the no-op default.
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Reloader watches configPath for changes and atomically swaps in a newly
// parsed and defaulted config.Config.
type Reloader struct {
	configPath string

	mu     sync.RWMutex
	config *config.Config

	watcher   *fsnotify.Watcher
	cbMu      sync.RWMutex
	callbacks []ChangeCallback

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	debounceDelay time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger Logger
}

// New returns a Reloader for configPath. Call Load (or Start, which loads
// first) before GetConfig returns anything useful.
func New(configPath string) *Reloader {
	return &Reloader{
		configPath:    configPath,
		debounceDelay: time.Second,
		logger:        nopLogger{},
	}
}

// SetLogger overrides the reloader's logger.
func (r *Reloader) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// SetDebounceDelay overrides the reload debounce window (default 1s),
// absorbing editors that write a config file in several small steps.
func (r *Reloader) SetDebounceDelay(delay time.Duration) {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()
	r.debounceDelay = delay
}

// OnChange registers callback to run after every successful reload.
func (r *Reloader) OnChange(callback ChangeCallback) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.callbacks = append(r.callbacks, callback)
}

// GetConfig returns the most recently loaded config.
func (r *Reloader) GetConfig() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// Load reads and defaults the config file once, without starting the
// filesystem watch.
func (r *Reloader) Load() error {
	cfg, err := r.loadConfig()
	if err != nil {
		return fmt.Errorf("confreload: load: %w", err)
	}

	r.mu.Lock()
	r.config = cfg
	r.mu.Unlock()

	r.logger.Info("config_loaded", "path", r.configPath)
	return nil
}

// Start loads the config and begins watching its directory for changes.
// Watching the directory rather than the file directly survives editors
// that replace the file with a rename instead of writing in place.
func (r *Reloader) Start() error {
	if r.watcher != nil {
		return fmt.Errorf("confreload: already started")
	}

	if err := r.Load(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("confreload: new watcher: %w", err)
	}
	r.watcher = watcher

	dir := filepath.Dir(r.configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		r.watcher = nil
		return fmt.Errorf("confreload: watch %s: %w", dir, err)
	}

	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go r.watch()

	r.logger.Info("confreload_started", "path", r.configPath)
	return nil
}

// Stop halts the filesystem watch and waits for the watch goroutine to
// return.
func (r *Reloader) Stop() error {
	if r.watcher == nil {
		return nil
	}

	close(r.stopCh)
	r.watcher.Close()

	r.debounceMu.Lock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceMu.Unlock()

	r.wg.Wait()
	r.watcher = nil
	r.logger.Info("confreload_stopped")
	return nil
}

func (r *Reloader) watch() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(r.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				r.logger.Info("config_file_changed", "op", event.Op.String())
				r.triggerReload()
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("watcher_error", "error", err)
		}
	}
}

func (r *Reloader) triggerReload() {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()

	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceTimer = time.AfterFunc(r.debounceDelay, r.reload)
}

func (r *Reloader) reload() {
	newCfg, err := r.loadConfig()
	if err != nil {
		r.logger.Error("config_reload_failed", "error", err)
		return
	}

	r.mu.RLock()
	oldCfg := r.config
	r.mu.RUnlock()

	r.mu.Lock()
	r.config = newCfg
	r.mu.Unlock()

	r.logger.Info("config_reloaded", "path", r.configPath)
	r.notifyCallbacks(newCfg, oldCfg)
}

func (r *Reloader) loadConfig() (*config.Config, error) {
	if _, err := os.Stat(r.configPath); err != nil {
		return nil, err
	}
	cfg, err := config.LoadFromFile(r.configPath)
	if err != nil {
		return nil, err
	}
	cfg.LoadFromEnv()
	return cfg, nil
}

func (r *Reloader) notifyCallbacks(newCfg, oldCfg *config.Config) {
	r.cbMu.RLock()
	callbacks := make([]ChangeCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.cbMu.RUnlock()

	_ = oldCfg
	for _, cb := range callbacks {
		go func(callback ChangeCallback) {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("callback_panic", "recover", rec)
				}
			}()
			callback(newCfg)
		}(cb)
	}
}

// Diff reports which of a fixed set of tunables (pool sizes and idle
// timeout, session TTL, storage watchdog interval, log level, RPC listen
// address and rate limit) changed between oldCfg and newCfg, for logging
// what a hot reload changed.
func Diff(oldCfg, newCfg *config.Config) map[string]struct{ Old, New interface{} } {
	diff := make(map[string]struct{ Old, New interface{} })
	if oldCfg == nil || newCfg == nil {
		return diff
	}

	if oldCfg.Pool.MinSize != newCfg.Pool.MinSize {
		diff["pool.min_size"] = struct{ Old, New interface{} }{oldCfg.Pool.MinSize, newCfg.Pool.MinSize}
	}
	if oldCfg.Pool.MaxSize != newCfg.Pool.MaxSize {
		diff["pool.max_size"] = struct{ Old, New interface{} }{oldCfg.Pool.MaxSize, newCfg.Pool.MaxSize}
	}
	if oldCfg.Pool.IdleTimeout != newCfg.Pool.IdleTimeout {
		diff["pool.idle_timeout"] = struct{ Old, New interface{} }{oldCfg.Pool.IdleTimeout, newCfg.Pool.IdleTimeout}
	}
	if oldCfg.Session.DefaultTTL != newCfg.Session.DefaultTTL {
		diff["session.default_ttl"] = struct{ Old, New interface{} }{oldCfg.Session.DefaultTTL, newCfg.Session.DefaultTTL}
	}
	if oldCfg.Storage.WatchdogInterval != newCfg.Storage.WatchdogInterval {
		diff["storage.watchdog_interval"] = struct{ Old, New interface{} }{oldCfg.Storage.WatchdogInterval, newCfg.Storage.WatchdogInterval}
	}
	if oldCfg.Log.Level != newCfg.Log.Level {
		diff["log.level"] = struct{ Old, New interface{} }{oldCfg.Log.Level, newCfg.Log.Level}
	}
	if oldCfg.RPC.ListenAddr != newCfg.RPC.ListenAddr {
		diff["rpc.listen_addr"] = struct{ Old, New interface{} }{oldCfg.RPC.ListenAddr, newCfg.RPC.ListenAddr}
	}
	if oldCfg.RPC.RateLimitRPS != newCfg.RPC.RateLimitRPS {
		diff["rpc.rate_limit_rps"] = struct{ Old, New interface{} }{oldCfg.RPC.RateLimitRPS, newCfg.RPC.RateLimitRPS}
	}

	return diff
}
