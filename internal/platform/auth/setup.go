package auth

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// SetupGate provisions the first administrator. Once setup completes the
// gate stays closed, even if every user is later deleted.
type SetupGate struct {
	creds    *Credentials
	sessions *SessionManager
	logger   zerolog.Logger
}

func NewSetupGate(creds *Credentials, sessions *SessionManager, logger zerolog.Logger) *SetupGate {
	return &SetupGate{
		creds:    creds,
		sessions: sessions,
		logger:   logger.With().Str("component", "setup").Logger(),
	}
}

// NeedsSetup reports whether the clinic has no users and was never set up.
func (g *SetupGate) NeedsSetup(ctx context.Context) (bool, error) {
	return needsSetup(ctx, g.creds.Store())
}

// CompleteSetup creates the first admin and logs them in. It fails with
// ErrAlreadySetUp when any user exists or setup already ran. Concurrent
// calls are serialized by the credential store; exactly one succeeds.
func (g *SetupGate) CompleteSetup(ctx context.Context, username, password, fullName string) (*IssuedSession, error) {
	sealed, err := g.creds.Store().SetupSealed(ctx)
	if err != nil {
		return nil, err
	}
	if sealed {
		return nil, ErrAlreadySetUp
	}

	u, err := g.creds.CreateFirst(ctx, username, password, fullName)
	if err != nil {
		if errors.Is(err, ErrAlreadySetUp) {
			g.logger.Warn().Str("username", username).Msg("setup attempted after completion")
		}
		return nil, err
	}
	g.logger.Info().Str("user_id", u.ID.String()).Str("username", u.Username).Msg("initial administrator created")

	return g.sessions.start(ctx, u)
}

func needsSetup(ctx context.Context, store CredentialStore) (bool, error) {
	sealed, err := store.SetupSealed(ctx)
	if err != nil {
		return false, err
	}
	if sealed {
		return false, nil
	}
	n, err := store.Count(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}
