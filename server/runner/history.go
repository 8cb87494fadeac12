package runner

import "sync"

// History records completed runs, most recent first, up to a fixed limit.
type History interface {
	Add(status RunStatus)
	Runs() []RunStatus
}

// MemoryHistory is an in-memory History. Run history is rebuildable
// operational detail; the authoritative submission state lives in the
// submission store.
type MemoryHistory struct {
	mu    sync.Mutex
	limit int
	runs  []RunStatus
}

// NewMemoryHistory creates a MemoryHistory keeping at most limit runs.
func NewMemoryHistory(limit int) *MemoryHistory {
	if limit <= 0 {
		limit = 100
	}
	return &MemoryHistory{limit: limit}
}

func (h *MemoryHistory) Add(status RunStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs = append([]RunStatus{status}, h.runs...)
	if len(h.runs) > h.limit {
		h.runs = h.runs[:h.limit]
	}
}

func (h *MemoryHistory) Runs() []RunStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]RunStatus, len(h.runs))
	copy(out, h.runs)
	return out
}
