package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/synapse-ids/ids/internal/logging"
)

// Store owns the canonical on-disk document and the in-memory snapshot
// readers see. All writes to the underlying file go through Updater or
// Healer; Store itself only loads and serializes (spec §4.2 "Write
// discipline").
type Store struct {
	path string

	mu       sync.RWMutex
	doc      *Document
	loaded   bool
}

// NewStore returns a store bound to the given registry file path. It
// does not touch disk until Load is called.
func NewStore(path string) *Store {
	return &Store{path: path, doc: NewDocument()}
}

// Path returns the registry file path this store is bound to.
func (s *Store) Path() string { return s.path }

// Load parses the registry document from disk. A missing or malformed
// file yields an empty registry, never an error (spec §4.2).
func (s *Store) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.RegistryDebug("registry file absent, starting empty: %s", s.path)
			s.doc = NewDocument()
			s.loaded = true
			return s.doc, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.RegistryWarn("registry file malformed, treating as absent: %v", err)
		s.doc = NewDocument()
		s.loaded = true
		return s.doc, nil
	}
	if doc.Entities == nil {
		doc.Entities = make(map[Category]map[string]*Entity)
	}
	for _, c := range AllCategories {
		if doc.Entities[c] == nil {
			doc.Entities[c] = make(map[string]*Entity)
		}
	}

	s.doc = &doc
	s.loaded = true
	return s.doc, nil
}

// ensureLoaded is the internal fast-path spec.md §4.2 calls out: load
// once, then serve from memory.
func (s *Store) ensureLoaded() {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return
	}
	s.loadLocked()
}

// Snapshot returns a deep-copied, consistent in-memory view for readers
// (spec §5 copy-on-write semantics).
func (s *Store) Snapshot() *Document {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone()
}

// Metadata returns the current metadata block.
func (s *Store) Metadata() Metadata {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.doc.Metadata
	m.Categories = append([]CategoryDescriptor(nil), s.doc.Metadata.Categories...)
	return m
}

// Count returns the total number of entities currently loaded.
func (s *Store) Count() int {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Count()
}

// Replace atomically swaps in a new in-memory document and serializes
// it to disk via write-then-rename. Only Updater and Healer call this.
func (s *Store) Replace(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(s.path, doc); err != nil {
		return err
	}
	s.doc = doc
	s.loaded = true
	return nil
}

// writeAtomic serializes doc to a temp file in the same directory then
// renames it into place, so readers never observe a partial write.
func writeAtomic(path string, doc *Document) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.tmp")
	if err != nil {
		if isDiskFull(err) {
			return fmt.Errorf("%w: %v", ErrDiskFull, err)
		}
		return fmt.Errorf("create temp registry file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		if isDiskFull(err) {
			return fmt.Errorf("%w: %v", ErrDiskFull, err)
		}
		return fmt.Errorf("write temp registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp registry file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename registry file into place: %w", err)
	}
	return nil
}

func isDiskFull(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}

// CopyFile copies the registry file byte-for-byte, used by the healer
// to create pre-heal backups.
func CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			data = nil
		} else {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
