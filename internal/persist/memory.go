package persist

import (
	"context"
	"sync"

	"github.com/sweeney/bin-sensor/internal/logic"
)

// MemoryTier is an in-memory Tier for tests and for running without storage.
type MemoryTier struct {
	mu     sync.Mutex
	name   string
	states map[string]logic.BinState
	writes int

	// ReadError and WriteError, if set, are returned by Read and Write.
	ReadError  error
	WriteError error
}

// NewMemoryTier returns an empty tier reporting the given name.
func NewMemoryTier(name string) *MemoryTier {
	return &MemoryTier{name: name, states: make(map[string]logic.BinState)}
}

// Name returns the tier name.
func (m *MemoryTier) Name() string { return m.name }

// Read returns the stored state for key.
func (m *MemoryTier) Read(ctx context.Context, key string) (logic.BinState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadError != nil {
		return logic.BinState{}, false, m.ReadError
	}
	s, ok := m.states[key]
	return s, ok, nil
}

// Write stores state for key.
func (m *MemoryTier) Write(ctx context.Context, key string, state logic.BinState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteError != nil {
		return m.WriteError
	}
	m.states[key] = state
	m.writes++
	return nil
}

// Writes returns the number of successful writes.
func (m *MemoryTier) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// SetErrors sets ReadError and WriteError under the lock.
func (m *MemoryTier) SetErrors(readErr, writeErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadError = readErr
	m.WriteError = writeErr
}
