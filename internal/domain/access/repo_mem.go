package access

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
)

type grantKey struct {
	patient uuid.UUID
	grantee uuid.UUID
}

// MemoryGrantStore is an in-process GrantStore.
type MemoryGrantStore struct {
	mu     sync.RWMutex
	grants map[grantKey]Grant
}

func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{grants: make(map[grantKey]Grant)}
}

func (s *MemoryGrantStore) Upsert(_ context.Context, grants ...*Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range grants {
		s.grants[grantKey{g.PatientID, g.GranteeID}] = *g
	}
	return nil
}

func (s *MemoryGrantStore) Get(_ context.Context, patientID, granteeID uuid.UUID) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grants[grantKey{patientID, granteeID}]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &g, nil
}

func (s *MemoryGrantStore) Delete(_ context.Context, patientID, granteeID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := grantKey{patientID, granteeID}
	if _, ok := s.grants[k]; !ok {
		return auth.ErrNotFound
	}
	delete(s.grants, k)
	return nil
}

func (s *MemoryGrantStore) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Grant
	for k, g := range s.grants {
		if k.patient == patientID {
			g := g
			out = append(out, &g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.Before(out[j].GrantedAt) })
	return out, nil
}

func (s *MemoryGrantStore) ListPatientIDsByGrantee(_ context.Context, granteeID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uuid.UUID
	for k := range s.grants {
		if k.grantee == granteeID {
			ids = append(ids, k.patient)
		}
	}
	return ids, nil
}

func (s *MemoryGrantStore) DeleteByGrantee(_ context.Context, granteeID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.grants {
		if k.grantee == granteeID {
			delete(s.grants, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryGrantStore) DeleteByPatient(_ context.Context, patientID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.grants {
		if k.patient == patientID {
			delete(s.grants, k)
		}
	}
	return nil
}
