package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pablomarino/teleops/internal/fsutil"
)

// Store is a durable registry of task definitions, one JSON document
// per task under dir. Writes go through fsutil.AtomicWrite, so an
// acknowledged Put or Delete survives a crash. Reads are served from a
// cache that the fsnotify watcher (see Watch) invalidates when task
// files are edited out of band.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per task name
	cache map[string]*Definition
}

// NewStore creates the tasks directory if needed and returns a store over it
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create tasks directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
		cache:  make(map[string]*Definition),
	}, nil
}

// Dir returns the directory backing the store
func (s *Store) Dir() string {
	return s.dir
}

// nameLock returns the mutex guarding a single task name, creating it
// on first use. Puts to different names proceed independently.
func (s *Store) nameLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[name] = lock
	}
	return lock
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *Store) cacheGet(name string) (*Definition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.cache[name]
	return def, ok
}

func (s *Store) cachePut(def *Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *def
	s.cache[def.Name] = &copied
}

func (s *Store) invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, name)
}

// Get returns the definition stored under name, or ErrNotFound
func (s *Store) Get(name string) (*Definition, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	if def, ok := s.cacheGet(name); ok {
		copied := *def
		return &copied, nil
	}

	def, err := s.readFile(name)
	if err != nil {
		return nil, err
	}
	s.cachePut(def)
	return def, nil
}

func (s *Store) readFile(name string) (*Definition, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read task %s: %w", name, err)
	}

	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse task %s: %w", name, err)
	}
	return &def, nil
}

// Put upserts a definition. When the name already exists the command
// and description are replaced, updated_at advances, and created_at is
// preserved. The write is durably flushed before Put returns.
func (s *Store) Put(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	lock := s.nameLock(def.Name)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	stored := Definition{
		Name:        def.Name,
		Command:     def.Command,
		Description: def.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if existing, err := s.Get(def.Name); err == nil {
		stored.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to check existing task %s: %w", def.Name, err)
	}

	// Task files are indented and newline-terminated so operators can
	// read and edit them directly.
	data, err := json.MarshalIndent(&stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", def.Name, err)
	}
	data = append(data, '\n')

	if err := fsutil.AtomicWrite(s.path(def.Name), data); err != nil {
		return fmt.Errorf("failed to persist task %s: %w", def.Name, err)
	}
	s.cachePut(&stored)

	s.logger.Info("task stored", "name", stored.Name, "created_at", stored.CreatedAt, "updated_at", stored.UpdatedAt)

	// Reflect the stored timestamps back to the caller
	*def = stored
	return nil
}

// Delete removes the definition stored under name, or returns ErrNotFound
func (s *Store) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	lock := s.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.invalidate(name)
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete task %s: %w", name, err)
	}
	s.invalidate(name)

	s.logger.Info("task deleted", "name", name)
	return nil
}

// List returns all definitions ordered lexicographically by name.
// Unparseable files are skipped with a warning rather than failing the
// whole listing.
func (s *Store) List() ([]*Definition, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks directory: %w", err)
	}

	defs := make([]*Definition, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		def, err := s.Get(name)
		if err != nil {
			s.logger.Warn("skipping unreadable task file", "file", entry.Name(), "error", err)
			continue
		}
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}
