package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// testClock is a settable clock shared by the session manager under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	users    *MemoryCredentialStore
	store    *MemorySessionStore
	creds    *Credentials
	sessions *SessionManager
	gate     *SetupGate
	clock    *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	users := NewMemoryCredentialStore()
	store := NewMemorySessionStore()
	t.Cleanup(store.Close)

	clock := newTestClock()
	creds := NewCredentials(users, NewBcryptHasher(bcrypt.MinCost))
	creds.now = clock.Now
	sessions := NewSessionManager(creds, store, SessionConfig{TTL: 12 * time.Hour, IdleTimeout: 2 * time.Hour}, zerolog.Nop())
	sessions.now = clock.Now
	gate := NewSetupGate(creds, sessions, zerolog.Nop())

	return &testEnv{users: users, store: store, creds: creds, sessions: sessions, gate: gate, clock: clock}
}

// setupAdmin completes setup and returns the admin's issued session.
func (e *testEnv) setupAdmin(t *testing.T) *IssuedSession {
	t.Helper()
	issued, err := e.gate.CompleteSetup(context.Background(), "admin", "admin-pass-1", "Clinic Admin")
	if err != nil {
		t.Fatalf("complete setup: %v", err)
	}
	return issued
}

func (e *testEnv) createUser(t *testing.T, username string, role Role) *User {
	t.Helper()
	u, err := e.creds.Create(context.Background(), NewUser{
		Username: username,
		FullName: "Dr " + username,
		Password: username + "-password",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}
