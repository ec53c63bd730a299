package access

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/db"
)

type grantStorePG struct {
	pool *pgxpool.Pool
}

// NewPGGrantStore returns a GrantStore over the patient_access table.
func NewPGGrantStore(pool *pgxpool.Pool) GrantStore {
	return &grantStorePG{pool: pool}
}

func (s *grantStorePG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

const grantCols = `patient_id, user_id, COALESCE(access_comment, ''), granted_by, granted_at`

// Upsert writes all grants in one transaction. ON CONFLICT keeps a single
// row per (patient, grantee) and refreshes comment, granter and timestamp.
func (s *grantStorePG) Upsert(ctx context.Context, grants ...*Grant) error {
	err := db.InTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		for _, g := range grants {
			_, err := tx.Exec(ctx, `
				INSERT INTO patient_access (patient_id, user_id, access_comment, granted_by, granted_at)
				VALUES ($1, $2, NULLIF($3, ''), $4, $5)
				ON CONFLICT (patient_id, user_id) DO UPDATE SET
					access_comment = EXCLUDED.access_comment,
					granted_by = EXCLUDED.granted_by,
					granted_at = EXCLUDED.granted_at`,
				g.PatientID, g.GranteeID, g.Comment, g.GrantedBy, g.GrantedAt,
			)
			if db.HasCode(err, db.CodeForeignKeyViolation) {
				return auth.ErrNotFound
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		return auth.Unavailable("upsert grants", err)
	}
	return err
}

func (s *grantStorePG) Get(ctx context.Context, patientID, granteeID uuid.UUID) (*Grant, error) {
	g, err := scanGrant(s.conn(ctx).QueryRow(ctx,
		`SELECT `+grantCols+` FROM patient_access WHERE patient_id = $1 AND user_id = $2`,
		patientID, granteeID))
	if db.IsNoRows(err) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, auth.Unavailable("get grant", err)
	}
	return g, nil
}

func (s *grantStorePG) Delete(ctx context.Context, patientID, granteeID uuid.UUID) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM patient_access WHERE patient_id = $1 AND user_id = $2`, patientID, granteeID)
	if err != nil {
		return auth.Unavailable("delete grant", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *grantStorePG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Grant, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+grantCols+` FROM patient_access WHERE patient_id = $1 ORDER BY granted_at`, patientID)
	if err != nil {
		return nil, auth.Unavailable("list grants", err)
	}
	defer rows.Close()

	var grants []*Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, auth.Unavailable("list grants", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, auth.Unavailable("list grants", err)
	}
	return grants, nil
}

func (s *grantStorePG) ListPatientIDsByGrantee(ctx context.Context, granteeID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT patient_id FROM patient_access WHERE user_id = $1`, granteeID)
	if err != nil {
		return nil, auth.Unavailable("list shared patients", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, auth.Unavailable("list shared patients", err)
	}
	return ids, nil
}

func (s *grantStorePG) DeleteByGrantee(ctx context.Context, granteeID uuid.UUID) (int, error) {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM patient_access WHERE user_id = $1`, granteeID)
	if err != nil {
		return 0, auth.Unavailable("delete grants by user", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *grantStorePG) DeleteByPatient(ctx context.Context, patientID uuid.UUID) error {
	if _, err := s.conn(ctx).Exec(ctx, `DELETE FROM patient_access WHERE patient_id = $1`, patientID); err != nil {
		return auth.Unavailable("delete grants by patient", err)
	}
	return nil
}

func scanGrant(row pgx.Row) (*Grant, error) {
	var g Grant
	if err := row.Scan(&g.PatientID, &g.GranteeID, &g.Comment, &g.GrantedBy, &g.GrantedAt); err != nil {
		return nil, err
	}
	return &g, nil
}
