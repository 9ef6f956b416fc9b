package app

import (
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"eventwatch/pkg/logx"
)

// configWatcher flags config-file changes so the loop can reload at the
// next run boundary. The directory is watched rather than the file
// because editors and config management tools replace files by rename,
// which drops a file-level watch.
type configWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	dirty   atomic.Bool
	log     logx.Logger
}

func watchConfig(path string, log logx.Logger) (*configWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}

	cw := &configWatcher{path: abs, watcher: w, log: log}
	go cw.loop()
	return cw, nil
}

func (w *configWatcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if w.dirty.CompareAndSwap(false, true) {
					w.log.Info("config file changed, reload scheduled for next run")
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watch error", logx.Err(err))
		}
	}
}

// consumeDirty reports and clears the pending-reload flag.
func (w *configWatcher) consumeDirty() bool {
	if w == nil {
		return false
	}
	return w.dirty.Swap(false)
}

func (w *configWatcher) Close() error {
	if w == nil {
		return nil
	}
	return w.watcher.Close()
}
