package storage

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// cacheWatcher invalidates cached entities when their files change on
// disk outside the engine, for example when a user edits a task file by
// hand. It watches the five entity directories and drops the cache
// entry for any file that is written, created, renamed, or removed.
type cacheWatcher struct {
	engine  *Engine
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// newCacheWatcher starts watching the engine's entity directories.
func newCacheWatcher(e *Engine) (*cacheWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{dirProjects, dirEpics, dirTasks, dirDependencies, dirGraphs} {
		if err := w.Add(filepath.Join(e.root, dir)); err != nil {
			w.Close()
			return nil, err
		}
	}

	cw := &cacheWatcher{engine: e, watcher: w, done: make(chan struct{})}
	go cw.run()
	return cw, nil
}

// run drains watcher events until Close.
func (cw *cacheWatcher) run() {
	for {
		select {
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			cw.handle(ev)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.engine.log.Warn().Err(err).Msg("file watcher error")
		case <-cw.done:
			return
		}
	}
}

// handle invalidates the cache entry behind a single filesystem event.
func (cw *cacheWatcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	// Skip the engine's own in-flight temp files.
	if strings.HasSuffix(ev.Name, ".tmp") {
		return
	}

	id, ok := cw.engine.index.FindByPath(ev.Name)
	if !ok {
		return
	}

	cw.engine.cache.Remove(id)
	if projectID, found := strings.CutPrefix(id, "graph:"); found {
		cw.engine.graphs.Delete(projectID)
	}
	cw.engine.log.Debug().Str("id", id).Str("op", ev.Op.String()).Msg("cache invalidated by file change")
}

// Close stops the watcher goroutine. Idempotent.
func (cw *cacheWatcher) Close() error {
	var err error
	cw.once.Do(func() {
		close(cw.done)
		err = cw.watcher.Close()
	})
	return err
}
