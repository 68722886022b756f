package checkpoint

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/effective-security/toolchat/pkg/metricskey"
)

type inMemory struct {
	mu      sync.RWMutex
	storage map[string]*Checkpoint
}

// NewMemoryStore returns a Store that lives as long as the process.
func NewMemoryStore() Store {
	return &inMemory{}
}

func (m *inMemory) Get(_ context.Context, threadID string) (*Checkpoint, error) {
	if threadID == "" {
		return nil, ErrInvalidThreadID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cp, ok := m.storage[threadID]; ok {
		return cp.Clone(), nil
	}
	return Empty(threadID), nil
}

func (m *inMemory) Put(_ context.Context, cp *Checkpoint) (*Checkpoint, error) {
	if err := validate(cp); err != nil {
		return nil, err
	}
	defer metricskey.PerfCheckpointWrite.MeasureSince(time.Now(), "memory")

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storage == nil {
		// create on first use
		m.storage = make(map[string]*Checkpoint)
	}

	var stored uint64
	if cur, ok := m.storage[cp.ThreadID]; ok {
		stored = cur.Version
	}
	if stored != cp.Version {
		metricskey.StatsCheckpointConflicts.IncrCounter(1, "memory")
		return nil, conflict("memory", cp.ThreadID, stored, cp.Version)
	}

	n := next(cp, time.Now().UTC())
	m.storage[cp.ThreadID] = n
	return n.Clone(), nil
}

func (m *inMemory) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.storage, threadID)
	return nil
}

func (m *inMemory) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]string, 0, len(m.storage))
	for id := range m.storage {
		list = append(list, id)
	}
	slices.Sort(list)
	return list, nil
}

func (m *inMemory) Close() error {
	return nil
}
