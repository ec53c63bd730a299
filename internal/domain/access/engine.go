package access

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
)

const maxCommentLength = 500

// Engine is the single place where roles, ownership and grants are turned
// into access decisions.
//
// Decision table:
//
//	relation        view edit delete share revoke
//	admin           yes  yes  yes    yes   yes
//	creator         yes  yes  yes    yes   yes
//	grantee         yes  yes  no     no    no
//	anyone else     no   no   no     no    no
//
// A principal whose role is not one of the known roles gets neither the
// admin bypass nor the creator shortcut.
type Engine struct {
	grants   GrantStore
	patients PatientDirectory
	users    UserDirectory
	locks    stripedLock
	logger   zerolog.Logger
	now      func() time.Time
}

func NewEngine(grants GrantStore, patients PatientDirectory, users UserDirectory, logger zerolog.Logger) *Engine {
	return &Engine{
		grants:   grants,
		patients: patients,
		users:    users,
		logger:   logger.With().Str("component", "access").Logger(),
		now:      time.Now,
	}
}

// CanAccess reports whether p may perform action on the patient. Denial is
// (false, nil); an error means a collaborator failed. Unknown patients are
// denied.
func (e *Engine) CanAccess(ctx context.Context, p *auth.Principal, patientID uuid.UUID, action Action) (bool, error) {
	if p == nil || !action.Valid() {
		return false, nil
	}
	creator, err := e.patients.CreatorOf(ctx, patientID)
	if errors.Is(err, auth.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.decide(ctx, p, patientID, creator, action)
}

func (e *Engine) decide(ctx context.Context, p *auth.Principal, patientID, creator uuid.UUID, action Action) (bool, error) {
	if p.Role == auth.RoleAdmin {
		return true, nil
	}
	if p.Role.Valid() && p.UserID == creator {
		return true, nil
	}
	if !action.grantable() {
		return false, nil
	}

	_, err := e.grants.Get(ctx, patientID, p.UserID)
	if errors.Is(err, auth.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Authorize is CanAccess for callers that want an error: auth.ErrNotFound
// for an unknown patient and auth.ErrForbidden on denial.
func (e *Engine) Authorize(ctx context.Context, p *auth.Principal, patientID uuid.UUID, action Action) error {
	if p == nil {
		return auth.ErrUnauthenticated
	}
	_, err := e.authorize(ctx, p, patientID, action)
	return err
}

func (e *Engine) authorize(ctx context.Context, p *auth.Principal, patientID uuid.UUID, action Action) (uuid.UUID, error) {
	creator, err := e.patients.CreatorOf(ctx, patientID)
	if errors.Is(err, auth.ErrNotFound) {
		return uuid.Nil, fmt.Errorf("%w: patient %s", auth.ErrNotFound, patientID)
	}
	if err != nil {
		return uuid.Nil, err
	}

	ok, err := e.decide(ctx, p, patientID, creator, action)
	if err != nil {
		return uuid.Nil, err
	}
	if !ok {
		e.audit(zerolog.WarnLevel, "denied", p, patientID).Str("action", string(action)).Send()
		return uuid.Nil, fmt.Errorf("%w: cannot %s this patient", auth.ErrForbidden, action)
	}
	return creator, nil
}

// CanCreatePatient reports whether p may register new patients. Every known
// role may; the creator becomes the record's owner.
func (e *Engine) CanCreatePatient(p *auth.Principal) bool {
	return p != nil && p.Role.Valid()
}

// VisibleScope describes which patients p may list.
func (e *Engine) VisibleScope(ctx context.Context, p *auth.Principal) (Scope, error) {
	if p == nil {
		return Scope{}, nil
	}
	if p.Role == auth.RoleAdmin {
		return Scope{All: true}, nil
	}

	shared, err := e.grants.ListPatientIDsByGrantee(ctx, p.UserID)
	if err != nil {
		return Scope{}, err
	}
	s := Scope{Shared: shared}
	if p.Role.Valid() {
		id := p.UserID
		s.CreatedBy = &id
	}
	return s, nil
}

// Share grants view and edit on the patient to each grantee. The creator and
// the caller are skipped, duplicate IDs are collapsed and existing grants are
// refreshed in place with the new comment, granter and time.
func (e *Engine) Share(ctx context.Context, p *auth.Principal, patientID uuid.UUID, granteeIDs []uuid.UUID, comment string) ([]*Grant, error) {
	if p == nil {
		return nil, auth.ErrUnauthenticated
	}
	creator, err := e.authorize(ctx, p, patientID, ActionShare)
	if err != nil {
		return nil, err
	}

	comment = strings.TrimSpace(comment)
	if len(comment) > maxCommentLength {
		return nil, fmt.Errorf("%w: comment must be at most %d characters", auth.ErrValidation, maxCommentLength)
	}

	ids := dedupe(granteeIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one user is required", auth.ErrValidation)
	}

	targets := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == creator || id == p.UserID {
			continue
		}
		u, err := e.users.GetByID(ctx, id)
		if errors.Is(err, auth.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s", auth.ErrNotFound, id)
		}
		if err != nil {
			return nil, err
		}
		if !u.Active() {
			return nil, fmt.Errorf("%w: user %s is disabled", auth.ErrValidation, u.Username)
		}
		targets = append(targets, id)
	}
	if len(targets) == 0 {
		return []*Grant{}, nil
	}

	unlock := e.locks.lock(patientID)
	defer unlock()

	// ForgetPatient holds the same stripe, so a patient still present here
	// cannot lose its grants until this upsert is done.
	if _, err := e.patients.CreatorOf(ctx, patientID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, fmt.Errorf("%w: patient %s", auth.ErrNotFound, patientID)
		}
		return nil, err
	}

	granter := p.UserID
	now := e.now().UTC()
	grants := make([]*Grant, 0, len(targets))
	for _, id := range targets {
		grants = append(grants, &Grant{
			PatientID: patientID,
			GranteeID: id,
			Comment:   comment,
			GrantedBy: &granter,
			GrantedAt: now,
		})
	}
	if err := e.grants.Upsert(ctx, grants...); err != nil {
		return nil, err
	}

	for _, g := range grants {
		e.audit(zerolog.InfoLevel, "shared", p, patientID).Str("grantee_id", g.GranteeID.String()).Send()
	}
	return grants, nil
}

// Revoke removes granteeID's grant on the patient. It reports
// auth.ErrNotFound when there is no such grant, so a repeated revoke fails.
func (e *Engine) Revoke(ctx context.Context, p *auth.Principal, patientID, granteeID uuid.UUID) error {
	if p == nil {
		return auth.ErrUnauthenticated
	}
	if _, err := e.authorize(ctx, p, patientID, ActionRevoke); err != nil {
		return err
	}

	unlock := e.locks.lock(patientID)
	defer unlock()

	if err := e.grants.Delete(ctx, patientID, granteeID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return fmt.Errorf("%w: no access grant for user %s", auth.ErrNotFound, granteeID)
		}
		return err
	}

	e.audit(zerolog.InfoLevel, "revoked", p, patientID).Str("grantee_id", granteeID.String()).Send()
	return nil
}

// ListAccess returns the access summary to anyone who may view the patient.
func (e *Engine) ListAccess(ctx context.Context, p *auth.Principal, patientID uuid.UUID) (*AccessSummary, error) {
	if p == nil {
		return nil, auth.ErrUnauthenticated
	}
	if _, err := e.authorize(ctx, p, patientID, ActionView); err != nil {
		return nil, err
	}
	return e.GetAccessSummary(ctx, patientID)
}

// GetAccessSummary builds the access read model without an access check.
func (e *Engine) GetAccessSummary(ctx context.Context, patientID uuid.UUID) (*AccessSummary, error) {
	creatorID, err := e.patients.CreatorOf(ctx, patientID)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, fmt.Errorf("%w: patient %s", auth.ErrNotFound, patientID)
	}
	if err != nil {
		return nil, err
	}

	names := newUserCache(e.users)
	creator, err := names.get(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	grants, err := e.grants.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	summary := &AccessSummary{
		Creator:    UserSummary{ID: creatorID},
		SharedWith: make([]GrantSummary, 0, len(grants)),
	}
	if creator != nil {
		summary.Creator.FullName = creator.FullName
		summary.Creator.Username = creator.Username
	}

	for _, g := range grants {
		gs := GrantSummary{
			UserID:        g.GranteeID,
			AccessComment: g.Comment,
			GrantedAt:     g.GrantedAt,
		}
		grantee, err := names.get(ctx, g.GranteeID)
		if err != nil {
			return nil, err
		}
		if grantee != nil {
			gs.UserName = grantee.FullName
		}
		if g.GrantedBy != nil {
			granter, err := names.get(ctx, *g.GrantedBy)
			if err != nil {
				return nil, err
			}
			if granter != nil {
				gs.GrantedByName = granter.FullName
			}
		}
		summary.SharedWith = append(summary.SharedWith, gs)
	}
	return summary, nil
}

// AuthorizeUserManagement allows user administration to admins only. An
// admin may not delete their own account.
func (e *Engine) AuthorizeUserManagement(p *auth.Principal, targetID uuid.UUID, op UserOp) error {
	if p == nil {
		return auth.ErrUnauthenticated
	}
	if p.Role != auth.RoleAdmin {
		e.logger.Warn().Str("event", "access_audit").Str("outcome", "denied").
			Str("actor_id", p.UserID.String()).Str("op", string(op)).Msg("user management denied")
		return fmt.Errorf("%w: admin access required", auth.ErrForbidden)
	}
	if op == UserOpDelete && targetID == p.UserID {
		return fmt.Errorf("%w: cannot delete your own account", auth.ErrForbidden)
	}
	return nil
}

// ForgetPatient drops every grant on a deleted patient.
func (e *Engine) ForgetPatient(ctx context.Context, patientID uuid.UUID) error {
	unlock := e.locks.lock(patientID)
	defer unlock()
	return e.grants.DeleteByPatient(ctx, patientID)
}

// ForgetUser drops every grant held by a deleted user.
func (e *Engine) ForgetUser(ctx context.Context, userID uuid.UUID) (int, error) {
	return e.grants.DeleteByGrantee(ctx, userID)
}

func (e *Engine) audit(level zerolog.Level, outcome string, p *auth.Principal, patientID uuid.UUID) *zerolog.Event {
	return e.logger.WithLevel(level).
		Str("event", "access_audit").
		Str("outcome", outcome).
		Str("actor_id", p.UserID.String()).
		Str("actor_role", string(p.Role)).
		Str("patient_id", patientID.String())
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// userCache memoizes lookups while one summary is built. Missing users map
// to nil.
type userCache struct {
	users UserDirectory
	byID  map[uuid.UUID]*auth.User
}

func newUserCache(users UserDirectory) *userCache {
	return &userCache{users: users, byID: make(map[uuid.UUID]*auth.User)}
}

func (c *userCache) get(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	if u, ok := c.byID[id]; ok {
		return u, nil
	}
	u, err := c.users.GetByID(ctx, id)
	if errors.Is(err, auth.ErrNotFound) {
		u, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.byID[id] = u
	return u, nil
}

const lockStripes = 64

// stripedLock serializes grant mutations per patient over a fixed set of
// mutexes. Patients that share a stripe also share a lock.
type stripedLock struct {
	stripes [lockStripes]sync.Mutex
}

func (l *stripedLock) lock(id uuid.UUID) func() {
	m := &l.stripes[binary.BigEndian.Uint32(id[12:])%lockStripes]
	m.Lock()
	return m.Unlock
}
