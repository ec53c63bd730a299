// Package accesslog persists the audit middleware's entries to the
// access_log table.
package accesslog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/db"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/middleware"
)

// writeTimeout bounds each insert. The request has already been served, so
// a slow database must not hold the response open for long.
const writeTimeout = 2 * time.Second

// Record is one access_log row.
type Record struct {
	ID         int64      `json:"id"`
	RequestID  string     `json:"request_id"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	Username   string     `json:"username,omitempty"`
	Role       string     `json:"role,omitempty"`
	Resource   string     `json:"resource"`
	PatientID  *uuid.UUID `json:"patient_id,omitempty"`
	Action     string     `json:"action"`
	Method     string     `json:"method"`
	Path       string     `json:"path"`
	Status     int        `json:"status"`
	IPAddress  string     `json:"ip_address"`
	UserAgent  string     `json:"user_agent"`
	AccessedAt time.Time  `json:"accessed_at"`
}

// FromEntry converts an audit entry. Malformed ids are dropped rather than
// failing the write.
func FromEntry(e middleware.AuditEntry) *Record {
	r := &Record{
		RequestID:  e.RequestID,
		Username:   e.Username,
		Role:       e.Role,
		Resource:   e.Resource,
		Action:     e.Action,
		Method:     e.Method,
		Path:       e.Path,
		Status:     e.StatusCode,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		AccessedAt: e.Timestamp,
	}
	if id, err := uuid.Parse(e.UserID); err == nil {
		r.UserID = &id
	}
	if id, err := uuid.Parse(e.PatientID); err == nil {
		r.PatientID = &id
	}
	if r.AccessedAt.IsZero() {
		r.AccessedAt = time.Now().UTC()
	}
	return r
}

// PGRecorder implements middleware.AuditRecorder on PostgreSQL.
type PGRecorder struct {
	pool *pgxpool.Pool
}

func NewPGRecorder(pool *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{pool: pool}
}

func (r *PGRecorder) RecordAccess(entry middleware.AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return r.Insert(ctx, FromEntry(entry))
}

func (r *PGRecorder) Insert(ctx context.Context, rec *Record) error {
	const query = `
		INSERT INTO access_log (
			request_id, user_id, username, role, resource, patient_id,
			action, method, path, status, ip_address, user_agent, accessed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id`

	err := db.Conn(ctx, r.pool).QueryRow(ctx, query,
		rec.RequestID, rec.UserID, rec.Username, rec.Role, rec.Resource, rec.PatientID,
		rec.Action, rec.Method, rec.Path, rec.Status, rec.IPAddress, rec.UserAgent, rec.AccessedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("access log: insert: %w", err)
	}
	return nil
}

// ListByPatient returns the newest entries touching patientID.
func (r *PGRecorder) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM access_log WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("access log: count: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT id, COALESCE(request_id, ''), user_id, COALESCE(username, ''), COALESCE(role, ''),
		       resource, patient_id, action, method, path, status,
		       COALESCE(ip_address, ''), COALESCE(user_agent, ''), accessed_at
		FROM access_log
		WHERE patient_id = $1
		ORDER BY accessed_at DESC, id DESC
		LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("access log: list: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.UserID, &rec.Username, &rec.Role,
			&rec.Resource, &rec.PatientID, &rec.Action, &rec.Method, &rec.Path, &rec.Status,
			&rec.IPAddress, &rec.UserAgent, &rec.AccessedAt); err != nil {
			return nil, 0, fmt.Errorf("access log: scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}
