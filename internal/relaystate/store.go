// Package relaystate tracks the relay's live sessions. The default
// store is in-memory; a redis store lets several relay instances share
// one view behind a load balancer.
package relaystate

import (
	"sync"
	"time"
)

// Session statuses recorded in the store.
const (
	StatusConnecting = "connecting"
	StatusConnected  = "connected"
	StatusClosed     = "closed"
)

// Session is one relay session record.
type Session struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
	LastError string    `json:"lastError,omitempty"`
}

// Store persists session records. Implementations must be safe for
// concurrent use.
type Store interface {
	Put(s Session)
	Remove(id string)
	List() []Session
}

// NewStore returns a redis-backed store when addr is non-empty and the
// in-memory store otherwise.
func NewStore(addr string) (Store, error) {
	if addr == "" {
		return NewMemoryStore(), nil
	}
	return NewRedisStore(addr)
}

// memoryStore is the single-process default.
type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[string]Session)}
}

func (m *memoryStore) Put(s Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

func (m *memoryStore) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *memoryStore) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
