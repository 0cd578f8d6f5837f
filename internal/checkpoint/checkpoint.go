// Package checkpoint persists session state between conversational turns.
package checkpoint

import (
	"context"
	"sync"

	"github.com/zulandar/querydesk/internal/state"
)

// Store is the checkpoint collaborator: the pipeline reads the latest
// checkpoint at turn start and writes the updated state at turn end. Load
// returns (nil, nil) when no checkpoint exists for the thread.
type Store interface {
	Load(ctx context.Context, threadID string) (*state.State, error)
	Save(ctx context.Context, threadID string, s *state.State) error
}

// Memory is an in-process Store, used in tests and single-node setups.
type Memory struct {
	mu     sync.RWMutex
	states map[string]*state.State
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{states: make(map[string]*state.State)}
}

// Load returns a copy of the stored state so callers can't mutate the
// checkpoint in place.
func (m *Memory) Load(ctx context.Context, threadID string) (*state.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[threadID]
	if !ok {
		return nil, nil
	}
	cp := *s
	cp.Messages = append([]state.Message(nil), s.Messages...)
	return &cp, nil
}

// Save stores a copy of s under threadID.
func (m *Memory) Save(ctx context.Context, threadID string, s *state.State) error {
	cp := *s
	cp.Messages = append([]state.Message(nil), s.Messages...)
	m.mu.Lock()
	m.states[threadID] = &cp
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored threads.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
