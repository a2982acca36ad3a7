package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher monitors the alerts.yml file for changes and reloads the Store.
type Watcher struct {
	store       *Store
	watcher     *fsnotify.Watcher
	stopChan    chan struct{}
	stopOnce    sync.Once
	lastModTime time.Time

	mu       sync.Mutex
	onReload func(*Config)
}

// NewWatcher creates a watcher for the store's config file.
func NewWatcher(store *Store) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		store:    store,
		watcher:  watcher,
		stopChan: make(chan struct{}),
	}

	if stat, err := os.Stat(store.Path()); err == nil {
		w.lastModTime = stat.ModTime()
	}

	return w, nil
}

// OnReload registers a callback invoked with each successfully loaded snapshot.
func (w *Watcher) OnReload(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = callback
}

// Start begins watching the config file. Editors replace files rather than
// write in place, so the parent directory is watched.
func (w *Watcher) Start() {
	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("Failed to watch config directory, falling back to polling")
		go w.pollForChanges()
		return
	}

	go w.watchForChanges()
	log.Info().Str("path", w.store.Path()).Msg("Started watching config file for changes")
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.watcher.Close()
	})
}

func (w *Watcher) watchForChanges() {
	base := filepath.Base(w.store.Path())
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Debounce - wait a bit for the write to complete
			time.Sleep(100 * time.Millisecond)
			log.Info().Str("event", event.Op.String()).Msg("Detected config file change")
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) pollForChanges() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stat, err := os.Stat(w.store.Path())
			if err != nil {
				continue
			}
			if stat.ModTime().After(w.lastModTime) {
				w.lastModTime = stat.ModTime()
				log.Info().Msg("Detected config file change via polling")
				w.reload()
			}

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) reload() {
	if err := w.store.Reload(); err != nil {
		log.Error().Err(err).Msg("Config reload failed, keeping previous configuration")
		return
	}

	log.Info().Msg("Configuration reloaded")

	w.mu.Lock()
	callback := w.onReload
	w.mu.Unlock()
	if callback != nil {
		callback(w.store.Current())
	}
}
