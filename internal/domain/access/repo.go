package access

import (
	"context"

	"github.com/google/uuid"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
)

// GrantStore persists grants. Get and Delete return auth.ErrNotFound when no
// grant exists for the pair; infrastructure failures are wrapped with
// auth.ErrUnavailable.
type GrantStore interface {
	// Upsert inserts or replaces the given grants atomically.
	Upsert(ctx context.Context, grants ...*Grant) error
	Get(ctx context.Context, patientID, granteeID uuid.UUID) (*Grant, error)
	Delete(ctx context.Context, patientID, granteeID uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Grant, error)
	ListPatientIDsByGrantee(ctx context.Context, granteeID uuid.UUID) ([]uuid.UUID, error)
	DeleteByGrantee(ctx context.Context, granteeID uuid.UUID) (int, error)
	DeleteByPatient(ctx context.Context, patientID uuid.UUID) error
}

// PatientDirectory resolves the immutable creator of a patient record.
// CreatorOf returns auth.ErrNotFound for unknown patients.
type PatientDirectory interface {
	CreatorOf(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error)
}

// UserDirectory looks up accounts by ID.
type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*auth.User, error)
}
