package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/db"
)

// codeLockKey names the advisory lock that serializes patient code
// assignment.
const codeLockKey = 7340001

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, patient_code, full_name, date_of_birth,
	COALESCE(gender, ''), COALESCE(contact_number, ''), COALESCE(email, ''), COALESCE(address, ''),
	created_by, created_at, updated_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := db.InTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, codeLockKey); err != nil {
			return err
		}
		var last int
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(CAST(SUBSTRING(patient_code FROM 3) AS INTEGER)), 0)
			FROM patient WHERE patient_code ~ '^P-[0-9]+$'`).Scan(&last); err != nil {
			return err
		}
		p.Code = FormatCode(last + 1)

		return tx.QueryRow(ctx, `
			INSERT INTO patient (id, patient_code, full_name, date_of_birth, gender, contact_number, email, address, created_by)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9)
			RETURNING created_at, updated_at`,
			p.ID, p.Code, p.FullName, p.DateOfBirth, p.Gender, p.ContactNumber, p.Email, p.Address, p.CreatedBy,
		).Scan(&p.CreatedAt, &p.UpdatedAt)
	})
	if db.HasCode(err, db.CodeForeignKeyViolation) {
		return fmt.Errorf("%w: creator %s", auth.ErrNotFound, p.CreatedBy)
	}
	if err != nil {
		return auth.Unavailable("create patient", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, auth.Unavailable("get patient", err)
	}
	return p, nil
}

// Update writes the mutable fields. Code and CreatedBy are never changed.
func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET
			full_name = $2, date_of_birth = $3, gender = NULLIF($4, ''), contact_number = NULLIF($5, ''),
			email = NULLIF($6, ''), address = NULLIF($7, ''), updated_at = NOW()
		WHERE id = $1
		RETURNING patient_code, created_by, created_at, updated_at`,
		p.ID, p.FullName, p.DateOfBirth, p.Gender, p.ContactNumber, p.Email, p.Address,
	).Scan(&p.Code, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if db.IsNoRows(err) {
		return auth.ErrNotFound
	}
	if err != nil {
		return auth.Unavailable("update patient", err)
	}
	return nil
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return auth.Unavailable("delete patient", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrNotFound
	}
	return nil
}

var patientOrder = map[string]string{
	SortName:    "full_name",
	SortCode:    "patient_code",
	SortCreated: "created_at",
}

func (r *patientRepoPG) List(ctx context.Context, f ListFilter) ([]*Patient, int, error) {
	if f.empty() {
		return []*Patient{}, 0, nil
	}

	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !f.Scope.All {
		var visible []string
		if f.Scope.CreatedBy != nil {
			visible = append(visible, "created_by = "+arg(*f.Scope.CreatedBy))
		}
		if len(f.Scope.Shared) > 0 {
			ids := make([]string, len(f.Scope.Shared))
			for i, id := range f.Scope.Shared {
				ids[i] = id.String()
			}
			visible = append(visible, "id = ANY("+arg(ids)+"::uuid[])")
		}
		where = append(where, "("+strings.Join(visible, " OR ")+")")
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		p := arg("%" + s + "%")
		where = append(where, "(full_name ILIKE "+p+" OR patient_code ILIKE "+p+" OR contact_number ILIKE "+p+")")
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`+clause, args...).Scan(&total); err != nil {
		return nil, 0, auth.Unavailable("count patients", err)
	}

	order, ok := patientOrder[f.Sort]
	if !ok {
		order = patientOrder[SortName]
	}
	if f.Desc {
		order += " DESC"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = total
	}
	query := `SELECT ` + patientCols + ` FROM patient` + clause +
		` ORDER BY ` + order + `, id LIMIT ` + arg(limit) + ` OFFSET ` + arg(f.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, auth.Unavailable("list patients", err)
	}
	defer rows.Close()

	patients := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, auth.Unavailable("list patients", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, auth.Unavailable("list patients", err)
	}
	return patients, total, nil
}

func (r *patientRepoPG) CreatorOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var creator uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `SELECT created_by FROM patient WHERE id = $1`, id).Scan(&creator)
	if db.IsNoRows(err) {
		return uuid.Nil, auth.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, auth.Unavailable("patient creator", err)
	}
	return creator, nil
}

func (r *patientRepoPG) CountByCreator(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient WHERE created_by = $1`, userID).Scan(&n); err != nil {
		return 0, auth.Unavailable("count patients by creator", err)
	}
	return n, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Code, &p.FullName, &p.DateOfBirth,
		&p.Gender, &p.ContactNumber, &p.Email, &p.Address,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
