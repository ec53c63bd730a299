package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxUsernameLength = 80
	maxFullNameLength = 200
)

// CredentialStore persists user accounts and the setup seal.
//
// Lookups return ErrNotFound for missing users. Any other failure is
// wrapped with ErrUnavailable.
type CredentialStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	// Create inserts u. ErrDuplicateUsername on exact username collision.
	Create(ctx context.Context, u *User) error
	// CreateFirst inserts u only if no user exists and setup was never
	// completed, sealing setup in the same atomic step. ErrAlreadySetUp
	// otherwise.
	CreateFirst(ctx context.Context, u *User) error
	// Update writes full name, role, status and password hash.
	Update(ctx context.Context, u *User) error
	SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context) (int, error)
	CountActiveAdmins(ctx context.Context) (int, error)
	SetupSealed(ctx context.Context) (bool, error)
}

// NewUser is the input for creating an account.
type NewUser struct {
	Username string
	FullName string
	Password string
	Role     Role
	Status   AccountStatus
}

// Credentials verifies and manages passwords on top of a CredentialStore.
type Credentials struct {
	store  CredentialStore
	hasher PasswordHasher
	now    func() time.Time
}

func NewCredentials(store CredentialStore, hasher PasswordHasher) *Credentials {
	return &Credentials{store: store, hasher: hasher, now: time.Now}
}

// Store exposes the underlying store to collaborators that manage accounts.
func (c *Credentials) Store() CredentialStore {
	return c.store
}

// Verify checks username and password. Unknown users and wrong passwords
// both yield ErrAuthFailure. A disabled account yields ErrAccountDisabled
// even when the password is correct.
func (c *Credentials) Verify(ctx context.Context, username, password string) (*User, error) {
	u, err := c.store.GetByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		if d, ok := c.hasher.(interface{ CompareDummy(string) }); ok {
			d.CompareDummy(password)
		}
		return nil, ErrAuthFailure
	}
	if err != nil {
		return nil, err
	}

	ok, err := c.hasher.Compare(u.PasswordHash, password)
	if err != nil {
		return nil, Unavailable("verify password", err)
	}
	if !ok {
		return nil, ErrAuthFailure
	}
	if !u.Active() {
		return nil, ErrAccountDisabled
	}
	return u, nil
}

// CheckPassword re-verifies the password of an existing user. A mismatch
// yields ErrInvalidCredentials.
func (c *Credentials) CheckPassword(ctx context.Context, userID uuid.UUID, password string) error {
	u, err := c.store.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := c.hasher.Compare(u.PasswordHash, password)
	if err != nil {
		return Unavailable("verify password", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return nil
}

// SetPassword hashes newPassword and stores it for userID.
func (c *Credentials) SetPassword(ctx context.Context, userID uuid.UUID, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := c.hasher.Hash(newPassword)
	if err != nil {
		return Unavailable("set password", err)
	}
	return c.store.SetPasswordHash(ctx, userID, hash)
}

// Create validates nu and inserts a new account. Role defaults to doctor and
// status to active.
func (c *Credentials) Create(ctx context.Context, nu NewUser) (*User, error) {
	u, err := c.build(nu)
	if err != nil {
		return nil, err
	}
	if err := c.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateFirst creates the first administrator through the store's atomic
// setup path.
func (c *Credentials) CreateFirst(ctx context.Context, username, password, fullName string) (*User, error) {
	u, err := c.build(NewUser{
		Username: username,
		FullName: fullName,
		Password: password,
		Role:     RoleAdmin,
		Status:   StatusActive,
	})
	if err != nil {
		return nil, err
	}
	if err := c.store.CreateFirst(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Credentials) build(nu NewUser) (*User, error) {
	username := strings.TrimSpace(nu.Username)
	fullName := strings.TrimSpace(nu.FullName)
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateFullName(fullName); err != nil {
		return nil, err
	}
	if err := ValidatePassword(nu.Password); err != nil {
		return nil, err
	}

	role := nu.Role
	if role == "" {
		role = RoleDoctor
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	status := nu.Status
	if status == "" {
		status = StatusActive
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	hash, err := c.hasher.Hash(nu.Password)
	if err != nil {
		return nil, Unavailable("hash password", err)
	}

	now := c.now().UTC()
	return &User{
		ID:           uuid.New(),
		Username:     username,
		FullName:     fullName,
		PasswordHash: hash,
		Role:         role,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrValidation)
	}
	if len(username) > maxUsernameLength {
		return fmt.Errorf("%w: username must be at most %d characters", ErrValidation, maxUsernameLength)
	}
	return nil
}

func ValidateFullName(fullName string) error {
	if fullName == "" {
		return fmt.Errorf("%w: full name is required", ErrValidation)
	}
	if len(fullName) > maxFullNameLength {
		return fmt.Errorf("%w: full name must be at most %d characters", ErrValidation, maxFullNameLength)
	}
	return nil
}
