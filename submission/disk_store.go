package submission

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DiskStore persists submission records to disk as one JSON file per
// submission, so a later process invocation can resume undeploy/cleanup.
type DiskStore struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	records map[string]*Context
}

// NewDiskStore creates a disk-backed store rooted at dir.
// The directory is created if it doesn't exist, and existing records are
// loaded.
func NewDiskStore(dir string, logger *slog.Logger) (*DiskStore, error) {
	s := &DiskStore{
		dir:     dir,
		logger:  logger,
		records: make(map[string]*Context),
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	records, err := s.load()
	if err != nil {
		logger.Warn("failed to load existing submissions", "error", err)
		// Continue without existing data
	} else {
		s.records = records
	}

	return s, nil
}

// Get returns the submission with the given ID.
func (s *DiskStore) Get(id string) (*Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return copyContext(c), true
}

// List returns all submissions, most recently updated first.
func (s *DiskStore) List() []*Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Context, 0, len(s.records))
	for _, c := range s.records {
		out = append(out, copyContext(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Save persists a submission to disk and updates the in-memory copy.
// The write is atomic: marshal to a temp file, then rename into place.
func (s *DiskStore) Save(c *Context) error {
	if c.ID == "" {
		return fmt.Errorf("cannot save submission without an ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal submission: %w", err)
	}

	path := s.path(c.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write submission file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize submission file: %w", err)
	}

	s.records[c.ID] = copyContext(c)
	s.logger.Debug("saved submission to disk", "id", c.ID, "path", path)
	return nil
}

// Delete removes a submission record from disk and memory.
func (s *DiskStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove submission file: %w", err)
	}
	delete(s.records, id)
	return nil
}

// Reload re-loads all records from disk.
func (s *DiskStore) Reload() error {
	records, err := s.load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	return nil
}

func (s *DiskStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// load reads all submission files from disk.
func (s *DiskStore) load() (map[string]*Context, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	records := make(map[string]*Context)
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || filepath.Ext(name) != ".json" || strings.HasSuffix(name, ".tmp") {
			continue
		}

		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("failed to read submission file", "file", path, "error", err)
			continue
		}

		var c Context
		if err := json.Unmarshal(data, &c); err != nil {
			s.logger.Warn("failed to parse submission file", "file", path, "error", err)
			continue
		}
		if c.ID == "" {
			c.ID = strings.TrimSuffix(name, ".json")
		}
		records[c.ID] = &c
	}

	s.logger.Info("loaded submissions from disk", "count", len(records))
	return records, nil
}
