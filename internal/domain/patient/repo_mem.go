package patient

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
)

// MemoryRepository keeps patients in process. Used by the memory storage
// backend and by tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	patients map[uuid.UUID]*Patient
	seq      int
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{patients: make(map[uuid.UUID]*Patient), now: time.Now}
}

func (r *MemoryRepository) Create(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	now := r.now().UTC()
	p.ID = uuid.New()
	p.Code = FormatCode(r.seq)
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	r.patients[p.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) Update(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.patients[p.ID]
	if !ok {
		return auth.ErrNotFound
	}
	p.Code = existing.Code
	p.CreatedBy = existing.CreatedBy
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = r.now().UTC()
	cp := *p
	r.patients[p.ID] = &cp
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.patients[id]; !ok {
		return auth.ErrNotFound
	}
	delete(r.patients, id)
	return nil
}

func (r *MemoryRepository) List(_ context.Context, f ListFilter) ([]*Patient, int, error) {
	if f.empty() {
		return []*Patient{}, 0, nil
	}

	r.mu.RLock()
	shared := make(map[uuid.UUID]struct{}, len(f.Scope.Shared))
	for _, id := range f.Scope.Shared {
		shared[id] = struct{}{}
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))

	var matched []*Patient
	for _, p := range r.patients {
		if !f.Scope.All {
			_, isShared := shared[p.ID]
			owned := f.Scope.CreatedBy != nil && *f.Scope.CreatedBy == p.CreatedBy
			if !isShared && !owned {
				continue
			}
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.FullName), search) &&
			!strings.Contains(strings.ToLower(p.Code), search) &&
			!strings.Contains(strings.ToLower(p.ContactNumber), search) {
			continue
		}
		cp := *p
		matched = append(matched, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if f.Desc {
			a, b = b, a
		}
		switch f.Sort {
		case SortCode:
			return a.Code < b.Code
		case SortCreated:
			return a.CreatedAt.Before(b.CreatedAt)
		default:
			return strings.ToLower(a.FullName) < strings.ToLower(b.FullName)
		}
	})

	total := len(matched)
	if f.Offset >= total {
		return []*Patient{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

func (r *MemoryRepository) CreatorOf(_ context.Context, id uuid.UUID) (uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patients[id]
	if !ok {
		return uuid.Nil, auth.ErrNotFound
	}
	return p.CreatedBy, nil
}

func (r *MemoryRepository) CountByCreator(_ context.Context, userID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, p := range r.patients {
		if p.CreatedBy == userID {
			n++
		}
	}
	return n, nil
}
