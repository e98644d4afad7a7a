package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/specstream/specstream/internal/logger"
)

// Watcher reloads the config file on change and notifies a callback.
// Only fields that are safe to change at runtime (currently the log
// level) should be acted on by the callback.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	onLoad  func(*Config)
	done    chan struct{}
}

// NewWatcher starts watching the directory containing path. The
// callback receives each successfully reloaded config.
func NewWatcher(path string, onLoad func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: editors replace files on save
	// and a watch on the old inode goes stale.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &Watcher{
		watcher: fsWatcher,
		path:    path,
		onLoad:  onLoad,
		done:    make(chan struct{}),
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				logger.Warn("Ignoring config reload: %v", err)
				continue
			}
			logger.Info("Config file reloaded: %s", w.path)
			w.onLoad(cfg)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Config watcher error: %v", err)

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
