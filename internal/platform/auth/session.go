package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const tokenBytes = 32

// touchInterval bounds how often a resolve writes LastSeenAt back to the
// store.
const touchInterval = time.Minute

// Session is a server-side login session. ID is the SHA-256 of the opaque
// token; the token itself is never stored.
type Session struct {
	ID         string    `json:"-"`
	UserID     uuid.UUID `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (s *Session) expired(now time.Time, idle time.Duration) bool {
	if !now.Before(s.ExpiresAt) {
		return true
	}
	return idle > 0 && now.Sub(s.LastSeenAt) >= idle
}

// IssuedSession is returned by login and setup. Token is the only handle the
// caller gets for the session.
type IssuedSession struct {
	Token   string
	Session *Session
	User    *User
}

// SessionStore persists sessions by ID.
//
// Get returns ErrNotFound for unknown IDs. Delete of an unknown ID is not an
// error.
type SessionStore interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	// DeleteUser removes every session of userID except keep and returns
	// how many were removed.
	DeleteUser(ctx context.Context, userID uuid.UUID, keep string) (int, error)
}

type SessionConfig struct {
	TTL         time.Duration
	IdleTimeout time.Duration
}

// SessionManager issues, resolves and revokes opaque session tokens.
type SessionManager struct {
	creds  *Credentials
	store  SessionStore
	cfg    SessionConfig
	logger zerolog.Logger
	now    func() time.Time
}

func NewSessionManager(creds *Credentials, store SessionStore, cfg SessionConfig, logger zerolog.Logger) *SessionManager {
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}
	return &SessionManager{
		creds:  creds,
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "sessions").Logger(),
		now:    time.Now,
	}
}

// Login verifies the credentials and starts a new session.
func (m *SessionManager) Login(ctx context.Context, username, password string) (*IssuedSession, error) {
	u, err := m.creds.Verify(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrAuthFailure) {
			m.logger.Warn().Str("username", username).Err(err).Msg("login rejected")
		}
		return nil, err
	}

	return m.start(ctx, u)
}

// start issues a session for an already verified user and records the login.
func (m *SessionManager) start(ctx context.Context, u *User) (*IssuedSession, error) {
	issued, err := m.issue(ctx, u)
	if err != nil {
		return nil, err
	}

	at := issued.Session.CreatedAt
	if err := m.creds.Store().TouchLastLogin(ctx, u.ID, at); err != nil {
		m.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("failed to record last login")
	} else {
		u.LastLogin = &at
	}
	return issued, nil
}

func (m *SessionManager) issue(ctx context.Context, u *User) (*IssuedSession, error) {
	token, err := newToken()
	if err != nil {
		return nil, Unavailable("generate session token", err)
	}

	now := m.now().UTC()
	s := &Session{
		ID:         HashToken(token),
		UserID:     u.ID,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(m.cfg.TTL),
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, err
	}

	m.logger.Info().Str("user_id", u.ID.String()).Time("expires_at", s.ExpiresAt).Msg("session issued")
	return &IssuedSession{Token: token, Session: s, User: u}, nil
}

// Resolve maps a token to its principal. It returns ErrUnauthenticated for
// unknown or expired tokens and for users that are disabled or gone. While
// the clinic has never been set up it returns (nil, nil) instead so callers
// can tell "needs setup" from "needs login".
func (m *SessionManager) Resolve(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return m.noSession(ctx)
	}

	id := HashToken(token)
	s, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return m.noSession(ctx)
	}
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	if s.expired(now, m.cfg.IdleTimeout) {
		m.drop(ctx, id, "session expired")
		return nil, ErrUnauthenticated
	}

	u, err := m.creds.Store().GetByID(ctx, s.UserID)
	if errors.Is(err, ErrNotFound) {
		m.drop(ctx, id, "session user no longer exists")
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	if !u.Active() {
		m.drop(ctx, id, "session user is disabled")
		return nil, ErrUnauthenticated
	}

	if now.Sub(s.LastSeenAt) >= m.touchAfter() {
		if err := m.store.Touch(ctx, id, now); err != nil {
			return nil, err
		}
	}

	p := PrincipalOf(u)
	p.SessionID = id
	return p, nil
}

// touchAfter is how stale LastSeenAt may get before Resolve refreshes it.
// It stays under half the idle timeout so an active session keeps sliding.
func (m *SessionManager) touchAfter() time.Duration {
	if half := m.cfg.IdleTimeout / 2; half > 0 && half < touchInterval {
		return half
	}
	return touchInterval
}

func (m *SessionManager) noSession(ctx context.Context) (*Principal, error) {
	needs, err := needsSetup(ctx, m.creds.Store())
	if err != nil {
		return nil, err
	}
	if needs {
		return nil, nil
	}
	return nil, ErrUnauthenticated
}

func (m *SessionManager) drop(ctx context.Context, id, reason string) {
	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Warn().Err(err).Msg("failed to delete stale session")
		return
	}
	m.logger.Debug().Msg(reason)
}

// Logout revokes the session behind token. Unknown tokens are ignored.
func (m *SessionManager) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.store.Delete(ctx, HashToken(token))
}

// ChangePassword re-verifies oldPassword, stores newPassword and revokes all
// other sessions of the user. The session p was resolved from stays valid.
func (m *SessionManager) ChangePassword(ctx context.Context, p *Principal, oldPassword, newPassword string) error {
	if p == nil {
		return ErrUnauthenticated
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	if err := m.creds.CheckPassword(ctx, p.UserID, oldPassword); err != nil {
		return err
	}
	if err := m.creds.SetPassword(ctx, p.UserID, newPassword); err != nil {
		return err
	}

	n, err := m.store.DeleteUser(ctx, p.UserID, p.SessionID)
	if err != nil {
		return err
	}
	m.logger.Info().Str("user_id", p.UserID.String()).Int("revoked", n).Msg("password changed")
	return nil
}

// RevokeUser revokes every session of userID.
func (m *SessionManager) RevokeUser(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := m.store.DeleteUser(ctx, userID, "")
	if err != nil {
		return 0, err
	}
	m.logger.Info().Str("user_id", userID.String()).Int("revoked", n).Msg("user sessions revoked")
	return n, nil
}

// HashToken returns the session ID for token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
