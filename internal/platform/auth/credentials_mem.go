package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCredentialStore is an in-process CredentialStore for development and
// tests. All operations are serialized by a single mutex.
type MemoryCredentialStore struct {
	mu         sync.RWMutex
	users      map[uuid.UUID]*User
	byUsername map[string]uuid.UUID
	sealed     bool
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		users:      make(map[uuid.UUID]*User),
		byUsername: make(map[string]uuid.UUID),
	}
}

func (s *MemoryCredentialStore) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryCredentialStore) GetByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *MemoryCredentialStore) List(_ context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *MemoryCredentialStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(u)
}

func (s *MemoryCredentialStore) CreateFirst(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed || len(s.users) > 0 {
		return ErrAlreadySetUp
	}
	if err := s.insertLocked(u); err != nil {
		return err
	}
	s.sealed = true
	return nil
}

func (s *MemoryCredentialStore) insertLocked(u *User) error {
	if _, taken := s.byUsername[u.Username]; taken {
		return ErrDuplicateUsername
	}
	cp := *u
	s.users[u.ID] = &cp
	s.byUsername[u.Username] = u.ID
	return nil
}

func (s *MemoryCredentialStore) Update(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	cur.FullName = u.FullName
	cur.Role = u.Role
	cur.Status = u.Status
	cur.PasswordHash = u.PasswordHash
	cur.UpdatedAt = time.Now().UTC()
	u.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *MemoryCredentialStore) SetPasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryCredentialStore) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	u.LastLogin = &at
	return nil
}

func (s *MemoryCredentialStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byUsername, u.Username)
	delete(s.users, id)
	return nil
}

func (s *MemoryCredentialStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func (s *MemoryCredentialStore) CountActiveAdmins(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, u := range s.users {
		if u.Role == RoleAdmin && u.Active() {
			n++
		}
	}
	return n, nil
}

func (s *MemoryCredentialStore) SetupSealed(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed, nil
}
