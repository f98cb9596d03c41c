package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Zereker/imsession"
)

// ChangeFunc is called after the watched file changed and the new content
// validated. It is not called for invalid content; the old config stays.
type ChangeFunc func(old, new *SessionConfig)

// Watcher keeps the latest valid config of one file.
type Watcher struct {
	path     string
	logger   imsession.Logger
	onChange ChangeFunc
	watcher  *fsnotify.Watcher

	mu      sync.RWMutex
	current *SessionConfig

	done chan struct{}
}

// Watch loads path and reloads it whenever it is written or replaced.
// The directory is watched rather than the file so that editors that
// rename a new file into place are noticed.
func Watch(path string, logger imsession.Logger, onChange ChangeFunc) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		logger:   logger,
		onChange: onChange,
		watcher:  fw,
		current:  cfg,
		done:     make(chan struct{}),
	}

	if err = fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// Current returns the latest valid config.
func (w *Watcher) Current() *SessionConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		// keep using the old config
		w.logger.Warn("config reload failed", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}
