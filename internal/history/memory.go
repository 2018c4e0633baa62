package history

import (
	"context"
	"sync"

	"github.com/shehryarbajwa/watchparty/pkg/models"
)

// MemoryStore is a bounded in-process history.
type MemoryStore struct {
	mu      sync.RWMutex
	limit   int
	entries []models.HistoryEntry // oldest first
}

func NewMemoryStore(limit int) (*MemoryStore, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	return &MemoryStore{limit: limit}, nil
}

func (m *MemoryStore) Record(ctx context.Context, entry models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry)
	if over := len(m.entries) - m.limit; over > 0 {
		m.entries = append(m.entries[:0:0], m.entries[over:]...)
	}
	return nil
}

func (m *MemoryStore) Recent(ctx context.Context, n int) ([]models.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 || n > len(m.entries) {
		n = len(m.entries)
	}

	out := make([]models.HistoryEntry, 0, n)
	for i := len(m.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
