package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// defaultWatchInterval is how often a [Watcher] stats the file.
const defaultWatchInterval = 5 * time.Second

// Watcher reloads a config file when its content changes. Polling keeps it
// working on bind mounts and network filesystems where inotify is silent.
//
// Only the log level is applied live; see [Diff].
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	current atomic.Pointer[Config]

	// Owned by the poll goroutine after NewWatcher returns.
	seen    fileStamp
	applied [sha256.Size]byte
	// rejected is the content hash of the last invalid file, so a broken file
	// is reported once rather than on every tick.
	rejected [sha256.Size]byte

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// fileStamp is the cheap part of change detection.
type fileStamp struct {
	size  int64
	mtime time.Time
}

func stampOf(info os.FileInfo) fileStamp {
	return fileStamp{size: info.Size(), mtime: info.ModTime()}
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

// NewWatcher loads path, failing if it is missing or invalid, and then polls
// it in the background. onChange runs on the polling goroutine after each
// successful reload that changed the file content; it may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultWatchInterval,
		onChange: onChange,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	cfg, sum, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current.Store(cfg)
	w.seen = stampOf(info)
	w.applied = sum

	go w.loop()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Stop ends polling and waits for an in-flight onChange to return. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.poll()
		}
	}
}

// poll reloads when the size or mtime moved and the content hash differs from
// the applied one. An invalid file leaves the current config in place.
func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	stamp := stampOf(info)
	if stamp == w.seen {
		return
	}
	w.seen = stamp

	cfg, sum, err := w.read()
	switch {
	case err != nil && sum == w.rejected:
		return
	case err != nil:
		w.rejected = sum
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	case sum == w.applied:
		return
	}
	w.applied = sum
	w.rejected = [sha256.Size]byte{}

	old := w.current.Swap(cfg)
	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read loads and hashes the file. The hash is returned even when the content
// does not parse.
func (w *Watcher) read() (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	sum := sha256.Sum256(data)
	cfg, err := LoadFromReader(bytes.NewReader(data))
	return cfg, sum, err
}
