package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 100 * time.Millisecond

// ReloadFunc receives a freshly loaded configuration, or the error that
// prevented loading it.
type ReloadFunc func(cfg *Config, err error)

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce sets the debounce duration for rapid changes.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithLoadOptions sets the sources used on reload.
func WithLoadOptions(opts Options) WatchOption {
	return func(w *Watcher) {
		w.opts = opts
	}
}

// Watcher reloads a configuration file when it changes.
//
// The parent directory is watched rather than the file so that editors
// which replace the file by rename are seen.
type Watcher struct {
	path     string
	fn       ReloadFunc
	opts     Options
	debounce time.Duration

	fsw     *fsnotify.Watcher
	reloads atomic.Int64
}

// NewWatcher starts watching path. Run must be called to deliver reloads.
func NewWatcher(path string, fn ReloadFunc, opts ...WatchOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		fn:       fn,
		opts:     DefaultOptions(),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	w.fsw = fsw
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Reloads returns how many reloads have been delivered.
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

// Run delivers reloads until ctx is cancelled. The underlying watch is
// released when Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return ErrWatcherClosed
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return ErrWatcherClosed
			}
			w.fn(nil, fmt.Errorf("watching config: %w", err))

		case <-timer.C:
			cfg, err := LoadWith(w.path, w.opts)
			w.reloads.Add(1)
			w.fn(cfg, err)
		}
	}
}

// Watch reloads the configuration at path whenever it changes, calling fn
// with each result, until ctx is cancelled.
func Watch(ctx context.Context, path string, fn ReloadFunc, opts ...WatchOption) error {
	w, err := NewWatcher(path, fn, opts...)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
