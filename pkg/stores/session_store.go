package stores

// SessionStore provides a simple key/value storage for arbitrary JSON‑like
// session state scoped by sessionID, plus an index of the tasks that ran
// under each session.  It is intentionally minimal: callers decide the
// structure of the stored data.  The built‑in implementation is an
// in‑memory map safe for concurrent use which is perfectly sufficient for
// dev & unit tests.  Production deployments can swap in a persistent
// implementation (redis, sql, …).

import (
	"slices"
	"sync"
	"time"
)

type SessionStore interface {
	Get(sessionID string) (map[string]any, bool)
	Set(sessionID string, data map[string]any)
	Delete(sessionID string)
	AppendTask(sessionID, taskID string)
	Tasks(sessionID string) []string
	Cleanup()
}

// sessionData wraps the actual data with expiration time
type sessionData struct {
	Data      map[string]any
	TaskIDs   []string
	ExpiresAt time.Time
}

// InMemorySessionStore is the default implementation.
type InMemorySessionStore struct {
	mu         sync.RWMutex
	data       map[string]*sessionData
	expiration time.Duration
}

func NewInMemorySessionStore() *InMemorySessionStore {
	store := &InMemorySessionStore{
		data:       make(map[string]*sessionData),
		expiration: 24 * time.Hour, // Default 24 hour expiration
	}

	// Start cleanup goroutine
	go store.cleanupExpired()

	return store
}

func (s *InMemorySessionStore) Get(id string) (map[string]any, bool) {
	s.mu.RLock()
	session, ok := s.data[id]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}

	// Check if session has expired
	if time.Now().After(session.ExpiresAt) {
		s.Delete(id)
		return nil, false
	}

	return session.Data, true
}

func (s *InMemorySessionStore) Set(id string, d map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.data[id]
	if !ok {
		session = &sessionData{}
		s.data[id] = session
	}

	session.Data = d
	session.ExpiresAt = time.Now().Add(s.expiration)
}

func (s *InMemorySessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
}

/*
AppendTask records taskID under the session, creating the session if
needed.  Appending an already indexed task is a no-op, so replaying a
message onto an existing task does not double count it.
*/
func (s *InMemorySessionStore) AppendTask(sessionID, taskID string) {
	if sessionID == "" || taskID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.data[sessionID]
	if !ok {
		session = &sessionData{}
		s.data[sessionID] = session
	}

	if !slices.Contains(session.TaskIDs, taskID) {
		session.TaskIDs = append(session.TaskIDs, taskID)
	}
	session.ExpiresAt = time.Now().Add(s.expiration)
}

// Tasks returns the task ids recorded under the session, in creation order.
func (s *InMemorySessionStore) Tasks(sessionID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.data[sessionID]
	if !ok || time.Now().After(session.ExpiresAt) {
		return nil
	}

	return slices.Clone(session.TaskIDs)
}

func (s *InMemorySessionStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, session := range s.data {
		if now.After(session.ExpiresAt) {
			delete(s.data, id)
		}
	}
}

// cleanupExpired runs in a goroutine to periodically clean up expired sessions
func (s *InMemorySessionStore) cleanupExpired() {
	ticker := time.NewTicker(time.Hour) // Run cleanup every hour
	defer ticker.Stop()

	for range ticker.C {
		s.Cleanup()
	}
}
