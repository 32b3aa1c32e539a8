// Package storage persists projects, epics, tasks, dependencies, and
// derived dependency graphs as files under the configured write root.
// Writes are atomic (temp file, fsync, rename), the append-only file
// index maps IDs to files, task files are optionally gzip-compressed,
// and a bounded LRU holds hot entities.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/config"
	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/internal/security"
	"github.com/vibecoder/taskman/pkg/models"
)

// Subdirectories of the write root, one per entity kind.
const (
	dirProjects     = "projects"
	dirEpics        = "epics"
	dirTasks        = "tasks"
	dirDependencies = "dependencies"
	dirGraphs       = "graphs"
	indexFileName   = ".file-index.json"
)

// Engine is the file-backed entity store.
type Engine struct {
	// mu serializes index-coupled write operations. Entity-level
	// read/write locking is the AccessManager's job at the operation
	// layer; this mutex only keeps file and index mutation coherent.
	mu sync.Mutex

	root      string
	cfg       config.StorageConfig
	validator *security.Validator
	index     *fileIndex
	cache     *lru.Cache[string, any]
	graphs    *gocache.Cache
	watcher   *cacheWatcher
	log       zerolog.Logger
}

// NewEngine creates an Engine rooted at the validator's write root.
func NewEngine(cfg config.StorageConfig, validator *security.Validator, log zerolog.Logger) (*Engine, error) {
	root := validator.WriteRoot()
	for _, dir := range []string{dirProjects, dirEpics, dirTasks, dirDependencies, dirGraphs} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", dir, err)
		}
	}

	index, err := loadIndex(filepath.Join(root, indexFileName))
	if err != nil {
		return nil, err
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = 1000
	}
	cache, err := lru.New[string, any](size)
	if err != nil {
		return nil, fmt.Errorf("create entity cache: %w", err)
	}

	ttl := cfg.GraphCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	e := &Engine{
		root:      root,
		cfg:       cfg,
		validator: validator,
		index:     index,
		cache:     cache,
		graphs:    gocache.New(ttl, 2*ttl),
		log:       log.With().Str("component", "storage").Logger(),
	}

	if cfg.WatchFiles {
		w, err := newCacheWatcher(e)
		if err != nil {
			return nil, err
		}
		e.watcher = w
	}

	return e, nil
}

// Close stops the file watcher. Idempotent.
func (e *Engine) Close() error {
	if e.watcher != nil {
		return e.watcher.Close()
	}
	return nil
}

// Dispose implements lifecycle.Disposable.
func (e *Engine) Dispose() error { return e.Close() }

// Exists reports whether any entity with the given ID is stored.
func (e *Engine) Exists(id string) bool {
	return e.index.Has(id)
}

// ExistsFunc returns an idgen-compatible existence check.
func (e *Engine) ExistsFunc() func(id string) bool {
	return e.Exists
}

// entityPath returns the file path for an entity of the given kind.
func (e *Engine) entityPath(kind, id string) string {
	switch kind {
	case dirProjects, dirEpics:
		return filepath.Join(e.root, kind, id+".yaml")
	case dirTasks:
		if e.cfg.Compression {
			return filepath.Join(e.root, kind, id+".json.gz")
		}
		return filepath.Join(e.root, kind, id+".json")
	default:
		return filepath.Join(e.root, kind, id+".json")
	}
}

// writeEntity validates the path, encodes, optionally compresses, and
// atomically writes the entity, updating index and cache.
// Caller must hold e.mu.
func (e *Engine) writeEntity(kind, id string, v any) error {
	path := e.entityPath(kind, id)
	res := e.validator.Validate(path, security.ModeWrite)
	if !res.Valid {
		return res.Err
	}

	data, err := marshalEntity(path, v)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "encode %s %s", kind, id)
	}

	compressed := filepath.Ext(path) == ".gz"
	if compressed {
		if data, err = compress(data); err != nil {
			return errs.Wrap(errs.KindInternal, err, "compress %s %s", kind, id)
		}
	}

	if err := atomicWrite(res.ResolvedPath, data); err != nil {
		return errs.Wrap(errs.KindInternal, err, "write %s %s", kind, id)
	}

	entry := IndexEntry{
		FilePath:     res.ResolvedPath,
		Size:         int64(len(data)),
		LastModified: time.Now(),
		Compressed:   compressed,
		Checksum:     checksum(data),
	}
	if err := e.index.Put(id, entry); err != nil {
		return errs.Wrap(errs.KindInternal, err, "index %s %s", kind, id)
	}

	e.cache.Add(id, v)
	return nil
}

// readEntity loads and decodes the entity at id into v.
// All entity files live beneath the write root, so reads validate
// against it as well.
func (e *Engine) readEntity(kind, id string, v any) error {
	if cached, ok := e.cache.Get(id); ok {
		if assignCached(cached, v) {
			return nil
		}
	}

	entry, ok := e.index.Get(id)
	if !ok {
		return errs.New(errs.KindNotFound, "%s %s not found", kindNoun(kind), id)
	}

	res := e.validator.Validate(entry.FilePath, security.ModeWrite)
	if !res.Valid {
		return res.Err
	}

	data, err := os.ReadFile(res.ResolvedPath)
	if os.IsNotExist(err) {
		return errs.New(errs.KindNotFound, "%s %s not found", kindNoun(kind), id)
	}
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "read %s %s", kindNoun(kind), id)
	}

	if entry.Compressed {
		if data, err = decompress(data); err != nil {
			e.log.Error().Err(err).Str("id", id).Msg("stored entity is corrupt")
			return errs.Wrap(errs.KindCorrupt, err, "%s %s failed decompression", kindNoun(kind), id)
		}
	}

	if err := unmarshalEntity(entry.FilePath, data, v); err != nil {
		e.log.Error().Err(err).Str("id", id).Msg("stored entity is corrupt")
		return errs.Wrap(errs.KindCorrupt, err, "%s %s failed schema validation", kindNoun(kind), id)
	}

	e.cache.Add(id, v)
	return nil
}

// deleteEntity removes the entity file, index entry, and cache entry.
// Caller must hold e.mu.
func (e *Engine) deleteEntity(kind, id string) error {
	entry, ok := e.index.Get(id)
	if !ok {
		return errs.New(errs.KindNotFound, "%s %s not found", kindNoun(kind), id)
	}

	res := e.validator.Validate(entry.FilePath, security.ModeWrite)
	if !res.Valid {
		return res.Err
	}

	if err := os.Remove(res.ResolvedPath); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindInternal, err, "delete %s %s", kindNoun(kind), id)
	}
	if err := e.index.Delete(id); err != nil {
		return errs.Wrap(errs.KindInternal, err, "unindex %s %s", kindNoun(kind), id)
	}
	e.cache.Remove(id)
	return nil
}

// idsIn returns the indexed IDs whose files live in the given kind
// directory.
func (e *Engine) idsIn(kind string) []string {
	prefix := filepath.Join(e.root, kind) + string(filepath.Separator)
	var ids []string
	for _, id := range e.index.IDs() {
		if entry, ok := e.index.Get(id); ok && len(entry.FilePath) > len(prefix) && entry.FilePath[:len(prefix)] == prefix {
			ids = append(ids, id)
		}
	}
	return ids
}

// kindNoun maps a directory name to its singular entity noun.
func kindNoun(kind string) string {
	switch kind {
	case dirProjects:
		return "project"
	case dirEpics:
		return "epic"
	case dirTasks:
		return "task"
	case dirDependencies:
		return "dependency"
	case dirGraphs:
		return "graph"
	default:
		return kind
	}
}

// assignCached copies a cached entity pointer into the caller's target.
func assignCached(cached, target any) bool {
	switch t := target.(type) {
	case *models.Project:
		if c, ok := cached.(*models.Project); ok {
			*t = *c
			return true
		}
	case *models.Epic:
		if c, ok := cached.(*models.Epic); ok {
			*t = *c
			return true
		}
	case *models.AtomicTask:
		if c, ok := cached.(*models.AtomicTask); ok {
			*t = *c
			return true
		}
	case *models.Dependency:
		if c, ok := cached.(*models.Dependency); ok {
			*t = *c
			return true
		}
	}
	return false
}
