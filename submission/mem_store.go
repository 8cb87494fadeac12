package submission

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps submission records in memory only (no persistence).
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Context
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Context)}
}

// Get returns the submission with the given ID.
func (s *MemoryStore) Get(id string) (*Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return copyContext(c), true
}

// List returns all submissions, most recently updated first.
func (s *MemoryStore) List() []*Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Context, 0, len(s.records))
	for _, c := range s.records {
		out = append(out, copyContext(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Save stores a snapshot of the submission.
func (s *MemoryStore) Save(c *Context) error {
	if c.ID == "" {
		return fmt.Errorf("cannot save submission without an ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[c.ID] = copyContext(c)
	return nil
}

// Delete removes a submission record.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// copyContext snapshots a record via JSON so callers cannot mutate stored
// state behind the store's back.
func copyContext(c *Context) *Context {
	data, err := json.Marshal(c)
	if err != nil {
		return c
	}
	var cp Context
	if err := json.Unmarshal(data, &cp); err != nil {
		return c
	}
	return &cp
}
