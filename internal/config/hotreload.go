package config

import (
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler receives the reloaded config.
type ChangeHandler func(cfg *Config)

// Watcher reloads the config file when it changes on disk. The parent
// directory is watched so editors that save by rename are still seen.
// Bursts of events are debounced.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	load     func(string) (*Config, error)

	mu       sync.Mutex
	handlers []ChangeHandler
	stop     chan struct{}
	done     chan struct{}
}

func NewWatcher(configPath string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		abs = configPath
	}
	return &Watcher{
		path:     abs,
		watcher:  fw,
		debounce: 300 * time.Millisecond,
		load:     Load,
	}, nil
}

func (w *Watcher) OnChange(h ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Start begins watching.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop()

	slog.Info("config.watching", "path", w.path)
	return nil
}

// Stop halts the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	if w.stop != nil {
		close(w.stop)
		<-w.done
		w.stop = nil
	}
	w.watcher.Close()
}

func (w *Watcher) loop() {
	defer close(w.done)
	var pending *time.Timer

	for {
		select {
		case <-w.stop:
			if pending != nil {
				pending.Stop()
			}
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config.watch_error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.load(w.path)
	if err != nil {
		// Keep running on the previous config.
		slog.Error("config.reload_failed", "path", w.path, "error", err)
		return
	}
	slog.Info("config.reloaded", "path", w.path)

	w.mu.Lock()
	handlers := slices.Clone(w.handlers)
	w.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}
}
