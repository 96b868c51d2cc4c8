// Package keywatch keeps the contents of a key file in memory and reloads
// them when the file changes on disk.
package keywatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher holds the latest and the previous non-empty contents of a file.
type Watcher struct {
	path string
	log  *slog.Logger

	current  atomic.Pointer[[]byte]
	previous atomic.Pointer[[]byte]

	fsw       *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(w *Watcher) { w.log = l } }

// Watch reads path and starts watching it. The parent directory is
// watched rather than the file so that atomic replacements (rename over,
// symlink swaps) are observed. Watching stops when ctx is done or Close is
// called.
func Watch(ctx context.Context, path string, opts ...Option) (*Watcher, error) {
	w := &Watcher{path: filepath.Clean(path), done: make(chan struct{})}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = slog.Default()
	}

	if err := w.reload(); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("keywatch: new watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("keywatch: watch %s: %w", filepath.Dir(w.path), err)
	}
	w.fsw = fsw

	go w.loop(ctx)
	return w, nil
}

// Current returns the latest contents.
func (w *Watcher) Current() []byte {
	if p := w.current.Load(); p != nil {
		return *p
	}
	return nil
}

// Previous returns the contents before the last change, or nil.
func (w *Watcher) Previous() []byte {
	if p := w.previous.Load(); p != nil {
		return *p
	}
	return nil
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.closeErr = w.fsw.Close()
	})
	return w.closeErr
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path && !ev.Has(fsnotify.Create) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := w.reload(); err != nil {
				w.log.WarnContext(ctx, "keywatch.reload.err", slog.String("path", w.path), slog.String("err", err.Error()))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WarnContext(ctx, "keywatch.watch.err", slog.String("path", w.path), slog.String("err", err.Error()))
		}
	}
}

// errEmpty keeps a truncate-then-write sequence from publishing an empty key.
var errEmpty = errors.New("keywatch: file is empty")

func (w *Watcher) reload() error {
	b, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("keywatch: read %s: %w", w.path, err)
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return errEmpty
	}
	if cur := w.current.Load(); cur != nil {
		if bytes.Equal(*cur, b) {
			return nil
		}
		w.previous.Store(cur)
	}
	w.current.Store(&b)
	w.log.Info("keywatch.reload.ok", slog.String("path", w.path))
	return nil
}
