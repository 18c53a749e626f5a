package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Debouncer coalesces bursts of triggers into a single call after a quiet period.
// Editors commonly emit several write/rename events for one save.
type Debouncer struct {
	delay   time.Duration
	fn      func()
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer that calls fn once triggers stop for delay
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger (re)starts the quiet period
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

// Stop cancels any pending call
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Watcher reloads configuration when the config file changes
type Watcher struct {
	debouncer *Debouncer
}

// Watch starts watching the config file and calls onChange with every valid reload.
// Invalid intermediate states are logged and skipped.
func Watch(configPath string, onChange func(*Config)) (*Watcher, error) {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	// reloads read the file through a fresh viper; v belongs to its watch goroutine
	path := v.ConfigFileUsed()

	w := &Watcher{}
	w.debouncer = NewDebouncer(500*time.Millisecond, func() {
		cfg, err := Load(path)
		if err != nil {
			slog.Warn("ignoring invalid config reload", "file", path, "error", err)
			return
		}
		slog.Info("config reloaded", "file", path)
		onChange(cfg)
	})

	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
			return
		}
		slog.Debug("config file event", "file", e.Name, "op", e.Op.String())
		w.debouncer.Trigger()
	})
	v.WatchConfig()

	return w, nil
}

// Stop stops delivering reloads. viper has no way to remove its file watch.
func (w *Watcher) Stop() {
	w.debouncer.Stop()
}
