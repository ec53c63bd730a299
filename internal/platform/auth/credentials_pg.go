package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/db"
)

type credentialStorePG struct {
	pool *pgxpool.Pool
}

// NewPGCredentialStore returns a CredentialStore over the clinic_user and
// system_state tables.
func NewPGCredentialStore(pool *pgxpool.Pool) CredentialStore {
	return &credentialStorePG{pool: pool}
}

func (s *credentialStorePG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

const userCols = `id, username, full_name, password_hash, role, status, last_login, created_at, updated_at`

func (s *credentialStorePG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(s.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM clinic_user WHERE id = $1`, id))
	if err != nil {
		return nil, s.lookupErr("get user", err)
	}
	return u, nil
}

func (s *credentialStorePG) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(s.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM clinic_user WHERE username = $1`, username))
	if err != nil {
		return nil, s.lookupErr("get user by username", err)
	}
	return u, nil
}

func (s *credentialStorePG) List(ctx context.Context) ([]*User, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+userCols+` FROM clinic_user ORDER BY username`)
	if err != nil {
		return nil, Unavailable("list users", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, Unavailable("list users", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("list users", err)
	}
	return users, nil
}

func (s *credentialStorePG) Create(ctx context.Context, u *User) error {
	return s.insert(ctx, s.conn(ctx), u)
}

func (s *credentialStorePG) insert(ctx context.Context, q db.Querier, u *User) error {
	_, err := q.Exec(ctx, `
		INSERT INTO clinic_user (id, username, full_name, password_hash, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Username, u.FullName, u.PasswordHash, string(u.Role), string(u.Status), u.CreatedAt, u.UpdatedAt,
	)
	if db.HasCode(err, db.CodeUniqueViolation) {
		return ErrDuplicateUsername
	}
	if err != nil {
		return Unavailable("create user", err)
	}
	return nil
}

// CreateFirst locks the system_state row so concurrent setup attempts queue
// behind one another; the loser sees the seal and the inserted row.
func (s *credentialStorePG) CreateFirst(ctx context.Context, u *User) error {
	err := db.InTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		var sealedAt *time.Time
		if err := tx.QueryRow(ctx,
			`SELECT setup_completed_at FROM system_state WHERE id = TRUE FOR UPDATE`,
		).Scan(&sealedAt); err != nil {
			return Unavailable("lock system state", err)
		}
		if sealedAt != nil {
			return ErrAlreadySetUp
		}

		var n int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM clinic_user`).Scan(&n); err != nil {
			return Unavailable("count users", err)
		}
		if n > 0 {
			return ErrAlreadySetUp
		}

		if err := s.insert(ctx, tx, u); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE system_state SET setup_completed_at = $1 WHERE id = TRUE`, u.CreatedAt,
		); err != nil {
			return Unavailable("seal setup", err)
		}
		return nil
	})
	switch {
	case err == nil, errors.Is(err, ErrAlreadySetUp), errors.Is(err, ErrDuplicateUsername), errors.Is(err, ErrUnavailable):
		return err
	default:
		return Unavailable("setup transaction", err)
	}
}

func (s *credentialStorePG) Update(ctx context.Context, u *User) error {
	u.UpdatedAt = time.Now().UTC()
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE clinic_user SET full_name = $2, role = $3, status = $4, password_hash = $5, updated_at = $6
		WHERE id = $1`,
		u.ID, u.FullName, string(u.Role), string(u.Status), u.PasswordHash, u.UpdatedAt,
	)
	if err != nil {
		return Unavailable("update user", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *credentialStorePG) SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE clinic_user SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return Unavailable("set password", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *credentialStorePG) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.conn(ctx).Exec(ctx, `UPDATE clinic_user SET last_login = $2 WHERE id = $1`, id, at)
	if err != nil {
		return Unavailable("record last login", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *credentialStorePG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM clinic_user WHERE id = $1`, id)
	if db.HasCode(err, db.CodeForeignKeyViolation) {
		return ErrConflict
	}
	if err != nil {
		return Unavailable("delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *credentialStorePG) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM clinic_user`).Scan(&n); err != nil {
		return 0, Unavailable("count users", err)
	}
	return n, nil
}

func (s *credentialStorePG) CountActiveAdmins(ctx context.Context) (int, error) {
	var n int
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM clinic_user WHERE role = $1 AND status = $2`,
		string(RoleAdmin), string(StatusActive),
	).Scan(&n)
	if err != nil {
		return 0, Unavailable("count admins", err)
	}
	return n, nil
}

func (s *credentialStorePG) SetupSealed(ctx context.Context) (bool, error) {
	var sealedAt *time.Time
	err := s.conn(ctx).QueryRow(ctx, `SELECT setup_completed_at FROM system_state WHERE id = TRUE`).Scan(&sealedAt)
	if db.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, Unavailable("read setup state", err)
	}
	return sealedAt != nil, nil
}

func (s *credentialStorePG) lookupErr(op string, err error) error {
	if db.IsNoRows(err) {
		return ErrNotFound
	}
	return Unavailable(op, err)
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role, status string
	err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.PasswordHash, &role, &status,
		&u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = Role(role)
	u.Status = AccountStatus(status)
	return &u, nil
}
