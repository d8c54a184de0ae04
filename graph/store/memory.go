package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCheckpointer is an in-memory Checkpointer for development and
// testing. Data is lost when the process exits; use the SQLite or
// MySQL checkpointers for durable runs.
//
// MemoryCheckpointer is safe for concurrent use.
type MemoryCheckpointer struct {
	mu      sync.RWMutex
	threads map[string][]*Checkpoint // threadID -> append-order chain
	byID    map[string]*Checkpoint
}

// NewMemoryCheckpointer creates an empty in-memory checkpointer.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{
		threads: make(map[string][]*Checkpoint),
		byID:    make(map[string]*Checkpoint),
	}
}

// Save appends a checkpoint to the thread's chain.
func (m *MemoryCheckpointer) Save(_ context.Context, cp *Checkpoint) (string, error) {
	stored, err := cloneCheckpoint(cp)
	if err != nil {
		return "", err
	}
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[stored.ThreadID] = append(m.threads[stored.ThreadID], stored)
	m.byID[stored.ID] = stored
	return stored.ID, nil
}

// Latest returns the last appended checkpoint for the thread.
func (m *MemoryCheckpointer) Latest(_ context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.threads[threadID]
	if len(chain) == 0 {
		return nil, ErrNotFound
	}
	return cloneCheckpoint(chain[len(chain)-1])
}

// LoadByID returns the checkpoint with the given id.
func (m *MemoryCheckpointer) LoadByID(_ context.Context, id string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCheckpoint(cp)
}

// List returns the thread's checkpoints, most recent first.
func (m *MemoryCheckpointer) List(_ context.Context, threadID string) ([]*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.threads[threadID]
	out := make([]*Checkpoint, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		cp, err := cloneCheckpoint(chain[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Delete removes all checkpoints for the thread.
func (m *MemoryCheckpointer) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cp := range m.threads[threadID] {
		delete(m.byID, cp.ID)
	}
	delete(m.threads, threadID)
	return nil
}

// cloneCheckpoint deep-copies a checkpoint via JSON round trip so
// callers and the store never share state maps.
func cloneCheckpoint(cp *Checkpoint) (*Checkpoint, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	var copied Checkpoint
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &copied, nil
}
