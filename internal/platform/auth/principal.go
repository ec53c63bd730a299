package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of roles a clinic user can hold. Role only parses
// and names roles; what a role may do is decided by the access engine.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleDoctor Role = "doctor"
	RoleStaff  Role = "staff"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RoleStaff:
		return true
	}
	return false
}

// ParseRole returns the role named by s, or false when s is not a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

// AccountStatus is the lifecycle state of a user account.
type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusDisabled AccountStatus = "disabled"
)

func (s AccountStatus) Valid() bool {
	return s == StatusActive || s == StatusDisabled
}

// User is a clinic account as held by the credential store.
type User struct {
	ID           uuid.UUID     `json:"id"`
	Username     string        `json:"username"`
	FullName     string        `json:"full_name"`
	PasswordHash string        `json:"-"`
	Role         Role          `json:"role"`
	Status       AccountStatus `json:"status"`
	LastLogin    *time.Time    `json:"last_login,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (u *User) Active() bool {
	return u.Status == StatusActive
}

// Principal is the identity resolved from a session. It is passed explicitly
// into every authorization decision.
type Principal struct {
	UserID    uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	SessionID string    `json:"-"`
}

// PrincipalOf builds the principal for u.
func PrincipalOf(u *User) *Principal {
	return &Principal{
		UserID:   u.ID,
		Username: u.Username,
		FullName: u.FullName,
		Role:     u.Role,
	}
}

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal stores p on ctx. It is only used to carry the principal from
// the session middleware to the handler.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipal, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// UserIDFromContext returns the resolved user's ID as a string, or "".
func UserIDFromContext(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.UserID.String()
	}
	return ""
}
