// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"
)

// =============================================================================
// SETTINGS WATCHER
// =============================================================================

// DefaultReloadDebounce groups the burst of events editors emit on save.
const DefaultReloadDebounce = 200 * time.Millisecond

// Watcher holds the current settings snapshot and reloads it when the
// settings file changes. A failed reload keeps the previous snapshot.
type Watcher struct {
	path     string
	log      pslog.Logger
	debounce time.Duration

	mu       sync.RWMutex
	current  *Settings
	onReload []func(*Settings)

	stopMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

// NewWatcher loads the settings at path. A missing file is not an error:
// the watcher starts from the defaults and picks the file up once created.
func NewWatcher(path string, log pslog.Logger) (*Watcher, error) {
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	s, err := Load(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		log.Warn("settings file missing, using defaults", "path", path)
	}
	return &Watcher{
		path:     path,
		log:      log.With("settings", path),
		debounce: DefaultReloadDebounce,
		current:  s,
	}, nil
}

// Path returns the watched settings file.
func (w *Watcher) Path() string {
	return w.path
}

// Current returns the current snapshot. Callers must not modify it.
func (w *Watcher) Current() *Settings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers fn to run after every successful reload.
func (w *Watcher) OnReload(fn func(*Settings)) {
	w.mu.Lock()
	w.onReload = append(w.onReload, fn)
	w.mu.Unlock()
}

// Reload re-reads the settings file and swaps the snapshot on success.
func (w *Watcher) Reload() error {
	s, err := Load(w.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.log.Warn("settings reload failed", "err", err)
		return err
	}
	w.mu.Lock()
	w.current = s
	hooks := slices.Clone(w.onReload)
	w.mu.Unlock()

	w.log.Info("settings reloaded", "providers", len(s.ModelProviders), "models", len(s.ModelRefs))
	for _, fn := range hooks {
		fn(s)
	}
	return nil
}

// Start begins watching the settings directory until ctx is done or Close
// is called. The directory is watched rather than the file so atomic
// rename-on-save is observed.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	w.stopMu.Lock()
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	stop, done := w.stop, w.done
	w.stopMu.Unlock()

	go w.loop(ctx, fsw, stop, done)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, stop, done chan struct{}) {
	defer close(done)
	defer fsw.Close()

	target := filepath.Clean(w.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			_ = w.Reload()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("settings watcher error", "err", err)
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	w.stopMu.Lock()
	stop, done := w.stop, w.done
	w.stop = nil
	w.stopMu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}
