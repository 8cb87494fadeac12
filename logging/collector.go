package logging

import (
	"sync"
	"time"
)

// Entry represents a single log record with structured data.
type Entry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"` // "DEBUG", "INFO", "WARN", "ERROR"
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Collector provides thread-safe storage for logs emitted while an adaptor
// processes a step. Entries are keyed by adaptor name so the server can show
// per-adaptor output for a submission.
type Collector struct {
	mu   sync.RWMutex
	logs map[string][]Entry
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{logs: make(map[string][]Entry)}
}

// Add appends a log entry for the given adaptor.
func (c *Collector) Add(adaptor string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs[adaptor] = append(c.logs[adaptor], entry)
}

// Logs returns a copy of the entries recorded for one adaptor.
func (c *Collector) Logs(adaptor string) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries, ok := c.logs[adaptor]
	if !ok {
		return nil
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// All returns a deep copy of every recorded entry, keyed by adaptor name.
func (c *Collector) All() map[string][]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][]Entry, len(c.logs))
	for adaptor, entries := range c.logs {
		cp := make([]Entry, len(entries))
		copy(cp, entries)
		out[adaptor] = cp
	}
	return out
}

// Clear drops all recorded entries.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = make(map[string][]Entry)
}
