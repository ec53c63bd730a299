package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists patients. GetByID, Update, Delete and CreatorOf
// return auth.ErrNotFound for unknown IDs. Every Repository satisfies
// access.PatientDirectory.
type Repository interface {
	// Create assigns ID, Code and timestamps.
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter) ([]*Patient, int, error)
	CreatorOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
	CountByCreator(ctx context.Context, userID uuid.UUID) (int, error)
}
