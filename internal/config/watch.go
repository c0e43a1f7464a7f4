package config

import (
	"log"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk and hands out a
// consistent snapshot to readers. Reload failures keep the previous config.
type Watcher struct {
	stateDir string

	mu  sync.RWMutex
	cfg *Config

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// NewWatcher loads the config once and begins watching the state directory
// for changes to config.toml. The directory is watched rather than the
// file so that editor rename-and-replace saves are still seen.
func NewWatcher(stateDir string) (*Watcher, error) {
	cfg, err := Load(stateDir)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(stateDir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{stateDir: stateDir, cfg: cfg, fsw: fsw, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

// Current returns the latest loaded config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != Path(w.stateDir) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.stateDir)
			if err != nil {
				log.Printf("config: reload failed, keeping previous: %v", err)
				continue
			}
			w.mu.Lock()
			w.cfg = cfg
			w.mu.Unlock()
			log.Printf("config: reloaded %s", ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("config: watch error: %v", err)
		}
	}
}
