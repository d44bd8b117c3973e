package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ApplyFunc receives the effective changes of a reloaded config together with
// the new config.
type ApplyFunc func(d ConfigDiff, cfg *Config)

// Watcher reloads a config file when it is modified and hands the effective
// changes to an [ApplyFunc]. Edits that leave every effective setting as it
// was (comments, reordering, spelling out a default) are not reported. An
// invalid file is logged and the last valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	apply    ApplyFunc

	mu      sync.Mutex
	current *Config
	modTime time.Time
	size    int64

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts polling it for changes.
// apply may be nil.
func NewWatcher(path string, apply ApplyFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		apply:    apply,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.modTime, w.size = info.ModTime(), info.Size()

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-flight reload to finish. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

// Reload reads the file now, whether or not it changed on disk, and applies
// the effective changes. It returns the diff against the previous config.
func (w *Watcher) Reload() (ConfigDiff, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return ConfigDiff{}, fmt.Errorf("config: reload: %w", err)
	}
	return w.reload(info)
}

func (w *Watcher) poll() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the file when its size or modification time moved.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.modTime) && info.Size() == w.size
	w.mu.Unlock()
	if unchanged {
		return
	}
	if _, err := w.reload(info); err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
	}
}

func (w *Watcher) reload(info os.FileInfo) (ConfigDiff, error) {
	cfg, err := Load(w.path)

	w.mu.Lock()
	w.modTime, w.size = info.ModTime(), info.Size()
	if err != nil {
		w.mu.Unlock()
		return ConfigDiff{}, err
	}
	d := Diff(w.current, cfg)
	if d.Empty() {
		w.mu.Unlock()
		slog.Debug("config watcher: file changed without effect", "path", w.path)
		return d, nil
	}
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"assessment_fields", d.AssessmentFields,
		"restart_required", d.RestartRequired,
	)
	// Outside the lock so apply may call Current.
	if w.apply != nil {
		w.apply(d, cfg)
	}
	return d, nil
}
