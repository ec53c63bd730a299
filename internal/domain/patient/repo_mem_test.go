package patient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/domain/access"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
)

func seed(t *testing.T, r *MemoryRepository, creator uuid.UUID, names ...string) []*Patient {
	t.Helper()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var out []*Patient
	for i, n := range names {
		at := base.Add(time.Duration(i) * time.Minute)
		r.now = func() time.Time { return at }
		p := &Patient{FullName: n, ContactNumber: "900" + string(rune('0'+i)), CreatedBy: creator}
		if err := r.Create(context.Background(), p); err != nil {
			t.Fatalf("create: %v", err)
		}
		out = append(out, p)
	}
	return out
}

func TestMemoryRepository_List(t *testing.T) {
	r := NewMemoryRepository()
	owner := uuid.New()
	seeded := seed(t, r, owner, "charlie", "Alice", "bob")
	all := access.Scope{All: true}

	tests := []struct {
		name      string
		f         ListFilter
		wantNames []string
		wantTotal int
	}{
		{"name asc", ListFilter{Scope: all}, []string{"Alice", "bob", "charlie"}, 3},
		{"name desc", ListFilter{Scope: all, Desc: true}, []string{"charlie", "bob", "Alice"}, 3},
		{"code", ListFilter{Scope: all, Sort: SortCode}, []string{"charlie", "Alice", "bob"}, 3},
		{"created desc", ListFilter{Scope: all, Sort: SortCreated, Desc: true}, []string{"bob", "Alice", "charlie"}, 3},
		{"search name", ListFilter{Scope: all, Search: "ALI"}, []string{"Alice"}, 1},
		{"search code", ListFilter{Scope: all, Search: "p-003"}, []string{"bob"}, 1},
		{"search contact", ListFilter{Scope: all, Search: "9000"}, []string{"charlie"}, 1},
		{"page", ListFilter{Scope: all, Limit: 1, Offset: 1}, []string{"bob"}, 3},
		{"past the end", ListFilter{Scope: all, Offset: 10}, []string{}, 3},
		{"owner scope", ListFilter{Scope: access.Scope{CreatedBy: &owner}}, []string{"Alice", "bob", "charlie"}, 3},
		{"shared scope", ListFilter{Scope: access.Scope{Shared: []uuid.UUID{seeded[2].ID}}}, []string{"bob"}, 1},
		{"empty scope", ListFilter{}, []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, total, err := r.List(context.Background(), tt.f)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("expected total %d, got %d", tt.wantTotal, total)
			}
			if len(list) != len(tt.wantNames) {
				t.Fatalf("expected %d patients, got %d", len(tt.wantNames), len(list))
			}
			for i, p := range list {
				if p.FullName != tt.wantNames[i] {
					t.Errorf("position %d: expected %s, got %s", i, tt.wantNames[i], p.FullName)
				}
			}
		})
	}
}

func TestMemoryRepository_UpdateKeepsOwner(t *testing.T) {
	r := NewMemoryRepository()
	owner := uuid.New()
	p := seed(t, r, owner, "Asha")[0]

	upd := &Patient{ID: p.ID, FullName: "Asha R", CreatedBy: uuid.New()}
	if err := r.Update(context.Background(), upd); err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.CreatedBy != owner || upd.Code != p.Code {
		t.Errorf("expected owner and code preserved, got %+v", upd)
	}
	creator, _ := r.CreatorOf(context.Background(), p.ID)
	if creator != owner {
		t.Errorf("expected creator %s, got %s", owner, creator)
	}

	if err := r.Update(context.Background(), &Patient{ID: uuid.New(), FullName: "x"}); !errors.Is(err, auth.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRepository_DeleteAndCount(t *testing.T) {
	r := NewMemoryRepository()
	owner := uuid.New()
	ps := seed(t, r, owner, "a", "b")
	ctx := context.Background()

	if n, _ := r.CountByCreator(ctx, owner); n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
	if err := r.Delete(ctx, ps[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.Delete(ctx, ps[0].ID); !errors.Is(err, auth.ErrNotFound) {
		t.Errorf("expected ErrNotFound on repeat delete, got %v", err)
	}
	if _, err := r.CreatorOf(ctx, ps[0].ID); !errors.Is(err, auth.ErrNotFound) {
		t.Errorf("expected ErrNotFound from CreatorOf, got %v", err)
	}
	if n, _ := r.CountByCreator(ctx, owner); n != 1 {
		t.Errorf("expected 1, got %d", n)
	}
}

func TestPatient_Age(t *testing.T) {
	dob := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
	p := &Patient{DateOfBirth: &dob}

	tests := []struct {
		now  time.Time
		want int
	}{
		{time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC), 33},
		{time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), 34},
		{time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), 34},
	}
	for _, tt := range tests {
		if got := p.Age(tt.now); got == nil || *got != tt.want {
			t.Errorf("at %s: expected %d, got %v", tt.now.Format(DateLayout), tt.want, got)
		}
	}
	if (&Patient{}).Age(time.Now()) != nil {
		t.Error("expected nil age without a birth date")
	}
}

func TestFormatCode(t *testing.T) {
	for n, want := range map[int]string{1: "P-001", 42: "P-042", 999: "P-999", 1000: "P-1000"} {
		if got := FormatCode(n); got != want {
			t.Errorf("FormatCode(%d) = %s, want %s", n, got, want)
		}
	}
}
