package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/standup/pkg/scrum"
)

// Memory keeps sessions in process memory. Records go through the same
// encoding as the durable engines.
type Memory struct {
	mu      sync.Mutex
	records map[string]record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]record)}
}

// Get implements scrum.Store.
func (m *Memory) Get(ctx context.Context, conversationID string) (*scrum.Session, error) {
	if err := validateKey(conversationID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	r, ok := m.records[conversationID]
	m.mu.Unlock()
	if !ok {
		return nil, scrum.ErrSessionNotFound
	}
	return r.session()
}

// Put implements scrum.Store.
func (m *Memory) Put(ctx context.Context, s *scrum.Session) error {
	if err := validateSession(s); err != nil {
		return err
	}
	r, err := toRecord(s)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if existing, ok := m.records[s.ConversationID]; ok {
		current = existing.Version
	}
	if current != s.Version {
		return fmt.Errorf("%w: have version %d, stored %d", scrum.ErrConflict, s.Version, current)
	}

	r.Version = s.Version + 1
	m.records[s.ConversationID] = r
	s.Version = r.Version
	return nil
}

// CountByStatus implements Counter.
func (m *Memory) CountByStatus(_ context.Context, status scrum.Status) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Status == string(status) {
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Close implements io.Closer.
func (m *Memory) Close() error { return nil }
