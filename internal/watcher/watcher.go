// Package watcher adapts the teacher's fsnotify-based debounced watcher
// (internal/watcher/watcher.go, originally tuned to DCP package files) to
// the control loop's config hot-reload path: a config file edit is
// debounced and then calls a reload callback, so operators don't need to
// send a signal to pick up a configuration change.
package watcher

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a single configuration file for changes.
type Watcher struct {
	fsWatcher    *fsnotify.Watcher
	configPath   string
	debounce     time.Duration
	onChange     func()
	pendingMu    sync.Mutex
	pendingSince time.Time
	pending      bool
	stopChan     chan struct{}
}

// New creates a watcher for configPath. onChange is invoked (from the
// watcher's own goroutine) once debounceTime has elapsed since the last
// write event with no further writes in between.
func New(configPath string, debounceTime time.Duration, onChange func()) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Watcher{
		fsWatcher:  fsWatcher,
		configPath: configPath,
		debounce:   debounceTime,
		onChange:   onChange,
		stopChan:   make(chan struct{}),
	}, nil
}

// Start begins watching the configured file's directory (fsnotify watches
// directories reliably across editors that replace-on-save; watching the
// file path directly misses atomic-rename saves).
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.configPath)
	if err := w.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	go w.processEvents()
	go w.processPending()
	return nil
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	close(w.stopChan)
	w.fsWatcher.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.configPath) {
				continue
			}
			w.pendingMu.Lock()
			w.pending = true
			w.pendingSince = time.Now()
			w.pendingMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config-watcher] error: %v", err)

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) processPending() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.pendingMu.Lock()
			ready := w.pending && time.Since(w.pendingSince) >= w.debounce
			if ready {
				w.pending = false
			}
			w.pendingMu.Unlock()
			if ready {
				log.Printf("[config-watcher] %s changed, reloading", w.configPath)
				w.onChange()
			}
		case <-w.stopChan:
			return
		}
	}
}

