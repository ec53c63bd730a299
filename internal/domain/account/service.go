package account

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/domain/access"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
)

// PatientCounter reports how many patients a user owns.
type PatientCounter interface {
	CountByCreator(ctx context.Context, userID uuid.UUID) (int, error)
}

// Update is a partial account update. Nil fields are left unchanged; an
// empty Password is ignored.
type Update struct {
	FullName *string
	Role     *auth.Role
	Status   *auth.AccountStatus
	Password string
}

// DirectoryEntry is a share target offered to a signed-in user.
type DirectoryEntry struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	FullName string    `json:"full_name"`
	Role     auth.Role `json:"role"`
}

// Service administers clinic accounts. Mutations of admins are serialized so
// the last active admin can never be removed by two concurrent requests.
type Service struct {
	creds    *auth.Credentials
	sessions *auth.SessionManager
	engine   *access.Engine
	patients PatientCounter
	logger   zerolog.Logger

	mu sync.Mutex
}

func NewService(creds *auth.Credentials, sessions *auth.SessionManager, engine *access.Engine, patients PatientCounter, logger zerolog.Logger) *Service {
	return &Service{
		creds:    creds,
		sessions: sessions,
		engine:   engine,
		patients: patients,
		logger:   logger.With().Str("component", "account").Logger(),
	}
}

func (s *Service) List(ctx context.Context, p *auth.Principal) ([]*auth.User, error) {
	if err := s.engine.AuthorizeUserManagement(p, uuid.Nil, access.UserOpList); err != nil {
		return nil, err
	}
	users, err := s.creds.Store().List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// Directory lists the active accounts other than the caller's.
func (s *Service) Directory(ctx context.Context, p *auth.Principal) ([]DirectoryEntry, error) {
	if p == nil {
		return nil, auth.ErrUnauthenticated
	}
	users, err := s.creds.Store().List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]DirectoryEntry, 0, len(users))
	for _, u := range users {
		if u.ID == p.UserID || !u.Active() {
			continue
		}
		out = append(out, DirectoryEntry{ID: u.ID, Username: u.Username, FullName: u.FullName, Role: u.Role})
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].FullName) < strings.ToLower(out[j].FullName)
	})
	return out, nil
}

func (s *Service) Create(ctx context.Context, p *auth.Principal, nu auth.NewUser) (*auth.User, error) {
	if err := s.engine.AuthorizeUserManagement(p, uuid.Nil, access.UserOpCreate); err != nil {
		return nil, err
	}
	u, err := s.creds.Create(ctx, nu)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", string(u.Role)).
		Str("actor_id", p.UserID.String()).Msg("user created")
	return u, nil
}

// Update applies upd to the account. Disabling an account or resetting its
// password revokes every session it holds.
func (s *Service) Update(ctx context.Context, p *auth.Principal, id uuid.UUID, upd Update) (*auth.User, error) {
	if err := s.engine.AuthorizeUserManagement(p, id, access.UserOpUpdate); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	store := s.creds.Store()
	u, err := store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	wasActiveAdmin := u.Role == auth.RoleAdmin && u.Active()

	if upd.FullName != nil {
		name := strings.TrimSpace(*upd.FullName)
		if err := auth.ValidateFullName(name); err != nil {
			return nil, err
		}
		u.FullName = name
	}
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", auth.ErrValidation, *upd.Role)
		}
		u.Role = *upd.Role
	}
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", auth.ErrValidation, *upd.Status)
		}
		u.Status = *upd.Status
	}
	if upd.Password != "" {
		if err := auth.ValidatePassword(upd.Password); err != nil {
			return nil, err
		}
	}

	if wasActiveAdmin && !(u.Role == auth.RoleAdmin && u.Active()) {
		if err := s.ensureOtherAdmin(ctx); err != nil {
			return nil, err
		}
	}

	if err := store.Update(ctx, u); err != nil {
		return nil, err
	}
	if upd.Password != "" {
		if err := s.creds.SetPassword(ctx, id, upd.Password); err != nil {
			return nil, err
		}
	}
	if upd.Password != "" || !u.Active() {
		if _, err := s.sessions.RevokeUser(ctx, id); err != nil {
			return nil, err
		}
	}

	s.logger.Info().Str("user_id", id.String()).Str("actor_id", p.UserID.String()).
		Bool("password_reset", upd.Password != "").Str("status", string(u.Status)).Msg("user updated")
	return store.GetByID(ctx, id)
}

// Delete removes an account. Accounts that still own patients must be
// disabled instead.
func (s *Service) Delete(ctx context.Context, p *auth.Principal, id uuid.UUID) error {
	if err := s.engine.AuthorizeUserManagement(p, id, access.UserOpDelete); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	store := s.creds.Store()
	u, err := store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if u.Role == auth.RoleAdmin && u.Active() {
		if err := s.ensureOtherAdmin(ctx); err != nil {
			return err
		}
	}
	owned, err := s.patients.CountByCreator(ctx, id)
	if err != nil {
		return err
	}
	if owned > 0 {
		return fmt.Errorf("%w: user created %d patient(s); disable the account instead", auth.ErrConflict, owned)
	}

	if _, err := s.sessions.RevokeUser(ctx, id); err != nil {
		return err
	}
	if _, err := s.engine.ForgetUser(ctx, id); err != nil {
		return err
	}
	if err := store.Delete(ctx, id); err != nil {
		if errors.Is(err, auth.ErrConflict) {
			return fmt.Errorf("%w: user still owns patients; disable the account instead", auth.ErrConflict)
		}
		return err
	}

	s.logger.Info().Str("user_id", id.String()).Str("actor_id", p.UserID.String()).Msg("user deleted")
	return nil
}

// RevokeSessions signs the user out everywhere.
func (s *Service) RevokeSessions(ctx context.Context, p *auth.Principal, id uuid.UUID) (int, error) {
	if err := s.engine.AuthorizeUserManagement(p, id, access.UserOpRevokeSessions); err != nil {
		return 0, err
	}
	if _, err := s.creds.Store().GetByID(ctx, id); err != nil {
		return 0, err
	}
	return s.sessions.RevokeUser(ctx, id)
}

func (s *Service) ensureOtherAdmin(ctx context.Context) error {
	n, err := s.creds.Store().CountActiveAdmins(ctx)
	if err != nil {
		return err
	}
	if n <= 1 {
		return fmt.Errorf("%w: the clinic must keep at least one active admin", auth.ErrConflict)
	}
	return nil
}
