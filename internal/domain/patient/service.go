package patient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/domain/access"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
)

// Service is the patient registry. Every operation takes the caller's
// principal and asks the access engine before touching the repository.
type Service struct {
	patients Repository
	engine   *access.Engine
	logger   zerolog.Logger
}

func NewService(patients Repository, engine *access.Engine, logger zerolog.Logger) *Service {
	return &Service{
		patients: patients,
		engine:   engine,
		logger:   logger.With().Str("component", "patient").Logger(),
	}
}

// Create registers a patient owned by the caller.
func (s *Service) Create(ctx context.Context, p *auth.Principal, in *Patient) (*Patient, error) {
	if p == nil {
		return nil, auth.ErrUnauthenticated
	}
	if !s.engine.CanCreatePatient(p) {
		return nil, fmt.Errorf("%w: cannot register patients", auth.ErrForbidden)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	in.CreatedBy = p.UserID
	if err := s.patients.Create(ctx, in); err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", in.ID.String()).Str("patient_code", in.Code).
		Str("actor_id", p.UserID.String()).Msg("patient created")
	return in, nil
}

func (s *Service) Get(ctx context.Context, p *auth.Principal, id uuid.UUID) (*Patient, error) {
	if err := s.engine.Authorize(ctx, p, id, access.ActionView); err != nil {
		return nil, err
	}
	return s.patients.GetByID(ctx, id)
}

// Update replaces the mutable fields of the patient.
func (s *Service) Update(ctx context.Context, p *auth.Principal, id uuid.UUID, in *Patient) (*Patient, error) {
	if err := s.engine.Authorize(ctx, p, id, access.ActionEdit); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	in.ID = id
	if err := s.patients.Update(ctx, in); err != nil {
		return nil, err
	}
	return in, nil
}

// Delete removes the patient and every grant on it.
func (s *Service) Delete(ctx context.Context, p *auth.Principal, id uuid.UUID) error {
	if err := s.engine.Authorize(ctx, p, id, access.ActionDelete); err != nil {
		return err
	}
	if err := s.patients.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.engine.ForgetPatient(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("patient_id", id.String()).Str("actor_id", p.UserID.String()).Msg("patient deleted")
	return nil
}

// List returns the patients visible to the caller. The filter's scope is
// always replaced by the engine's.
func (s *Service) List(ctx context.Context, p *auth.Principal, f ListFilter) ([]*Patient, int, error) {
	if p == nil {
		return nil, 0, auth.ErrUnauthenticated
	}
	scope, err := s.engine.VisibleScope(ctx, p)
	if err != nil {
		return nil, 0, err
	}
	f.Scope = scope
	return s.patients.List(ctx, f)
}
