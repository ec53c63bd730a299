package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultSweepInterval = 5 * time.Minute

// MemorySessionStore keeps sessions in process memory. A background
// goroutine sweeps sessions past their absolute expiry. Safe for concurrent
// use.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session                 // session ID -> session
	byUser   map[uuid.UUID]map[string]struct{} // user ID -> session IDs
	done     chan struct{}
	once     sync.Once
}

// NewMemorySessionStore creates a store and starts its sweeper. Call Close
// to stop it.
func NewMemorySessionStore() *MemorySessionStore {
	return newMemorySessionStore(defaultSweepInterval)
}

func newMemorySessionStore(interval time.Duration) *MemorySessionStore {
	s := &MemorySessionStore{
		sessions: make(map[string]Session),
		byUser:   make(map[uuid.UUID]map[string]struct{}),
		done:     make(chan struct{}),
	}
	go s.sweepLoop(interval)
	return s
}

func (s *MemorySessionStore) Save(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID] = *sess
	ids, ok := s.byUser[sess.UserID]
	if !ok {
		ids = make(map[string]struct{})
		s.byUser[sess.UserID] = ids
	}
	ids[sess.ID] = struct{}{}
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *MemorySessionStore) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	sess.LastSeenAt = at
	s.sessions[id] = sess
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(id)
	return nil
}

func (s *MemorySessionStore) DeleteUser(_ context.Context, userID uuid.UUID, keep string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id := range s.byUser[userID] {
		if id == keep {
			continue
		}
		s.deleteLocked(id)
		n++
	}
	return n, nil
}

func (s *MemorySessionStore) deleteLocked(id string) {
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	delete(s.sessions, id)
	if ids := s.byUser[sess.UserID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.byUser, sess.UserID)
		}
	}
}

// Count returns the number of stored sessions.
func (s *MemorySessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the sweeper. It is safe to call multiple times.
func (s *MemorySessionStore) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *MemorySessionStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep removes sessions whose absolute expiry has passed. Idle expiry is
// enforced on resolve.
func (s *MemorySessionStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			s.deleteLocked(id)
		}
	}
}
