package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// IndexEntry describes one stored entity file.
type IndexEntry struct {
	// FilePath is the absolute path of the entity file.
	FilePath string `json:"filePath"`
	// Size is the on-disk size in bytes.
	Size int64 `json:"size"`
	// LastModified is the mtime recorded at the last write.
	LastModified time.Time `json:"lastModified"`
	// Compressed is true when the file is gzip-compressed.
	Compressed bool `json:"compressed"`
	// Checksum is the hex sha256 of the stored bytes.
	Checksum string `json:"checksum,omitempty"`
}

// fileIndex maps entity IDs to their files. It is persisted as
// .file-index.json under the write root and rewritten atomically on
// every mutation.
type fileIndex struct {
	mu      sync.RWMutex
	path    string
	entries map[string]IndexEntry
}

// loadIndex reads the index file, or starts empty when it is missing.
func loadIndex(path string) (*fileIndex, error) {
	idx := &fileIndex{path: path, entries: make(map[string]IndexEntry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file index: %w", err)
	}
	if err := json.Unmarshal(data, &idx.entries); err != nil {
		return nil, fmt.Errorf("parse file index: %w", err)
	}
	return idx, nil
}

// Get returns the entry for id.
func (idx *fileIndex) Get(id string) (IndexEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[id]
	return e, ok
}

// Has reports whether id is indexed.
func (idx *fileIndex) Has(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.entries[id]
	return ok
}

// Put records an entry and persists the index.
func (idx *fileIndex) Put(id string, e IndexEntry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[id] = e
	return idx.flushLocked()
}

// Delete removes an entry and persists the index.
func (idx *fileIndex) Delete(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, id)
	return idx.flushLocked()
}

// IDs returns all indexed IDs.
func (idx *fileIndex) IDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]string, 0, len(idx.entries))
	for id := range idx.entries {
		ids = append(ids, id)
	}
	return ids
}

// FindByPath returns the ID indexed at the given file path.
func (idx *fileIndex) FindByPath(path string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for id, e := range idx.entries {
		if e.FilePath == path {
			return id, true
		}
	}
	return "", false
}

// flushLocked writes the index atomically. Caller must hold idx.mu.
func (idx *fileIndex) flushLocked() error {
	data, err := json.MarshalIndent(idx.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal file index: %w", err)
	}
	return atomicWrite(idx.path, data)
}

// checksum returns the hex sha256 of data.
func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
