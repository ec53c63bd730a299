package patient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/domain/access"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
)

type testEnv struct {
	repo   *MemoryRepository
	grants *access.MemoryGrantStore
	users  *auth.MemoryCredentialStore
	engine *access.Engine
	svc    *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := NewMemoryRepository()
	grants := access.NewMemoryGrantStore()
	users := auth.NewMemoryCredentialStore()
	engine := access.NewEngine(grants, repo, users, zerolog.Nop())
	return &testEnv{
		repo:   repo,
		grants: grants,
		users:  users,
		engine: engine,
		svc:    NewService(repo, engine, zerolog.Nop()),
	}
}

func (e *testEnv) principal(t *testing.T, username string, role auth.Role) *auth.Principal {
	t.Helper()
	u := &auth.User{ID: uuid.New(), Username: username, FullName: "Dr " + username,
		PasswordHash: "x", Role: role, Status: auth.StatusActive}
	if err := e.users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return auth.PrincipalOf(u)
}

func (e *testEnv) create(t *testing.T, p *auth.Principal, name string) *Patient {
	t.Helper()
	pt, err := e.svc.Create(context.Background(), p, &Patient{FullName: name, ContactNumber: "98450"})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return pt
}

func TestService_Create(t *testing.T) {
	env := newTestEnv(t)
	doc := env.principal(t, "doc", auth.RoleDoctor)

	p := env.create(t, doc, "  Asha Rao ")
	if p.ID == uuid.Nil {
		t.Error("expected ID to be assigned")
	}
	if p.Code != "P-001" {
		t.Errorf("expected first code P-001, got %s", p.Code)
	}
	if p.CreatedBy != doc.UserID {
		t.Errorf("expected creator to be the caller, got %s", p.CreatedBy)
	}
	if p.FullName != "Asha Rao" {
		t.Errorf("expected trimmed name, got %q", p.FullName)
	}

	second := env.create(t, doc, "Ravi")
	if second.Code != "P-002" {
		t.Errorf("expected P-002, got %s", second.Code)
	}
}

func TestService_CreateRejected(t *testing.T) {
	env := newTestEnv(t)
	doc := env.principal(t, "doc", auth.RoleDoctor)
	odd := env.principal(t, "odd", auth.Role("guest"))
	ctx := context.Background()

	if _, err := env.svc.Create(ctx, nil, &Patient{FullName: "x"}); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := env.svc.Create(ctx, odd, &Patient{FullName: "x"}); !errors.Is(err, auth.ErrForbidden) {
		t.Errorf("expected ErrForbidden for unknown role, got %v", err)
	}

	future := time.Now().Add(48 * time.Hour)
	invalid := []*Patient{
		{FullName: "   "},
		{FullName: "x", Email: "not-an-email"},
		{FullName: "x", ContactNumber: "012345678901234567890"},
		{FullName: "x", DateOfBirth: &future},
	}
	for _, in := range invalid {
		if _, err := env.svc.Create(ctx, doc, in); !errors.Is(err, auth.ErrValidation) {
			t.Errorf("expected ErrValidation for %+v, got %v", in, err)
		}
	}
}

func TestService_AccessGates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.principal(t, "admin", auth.RoleAdmin)
	owner := env.principal(t, "owner", auth.RoleDoctor)
	grantee := env.principal(t, "grantee", auth.RoleStaff)
	stranger := env.principal(t, "stranger", auth.RoleDoctor)

	p := env.create(t, owner, "Meera")
	if _, err := env.engine.Share(ctx, owner, p.ID, []uuid.UUID{grantee.UserID}, "follow up"); err != nil {
		t.Fatalf("share: %v", err)
	}

	if _, err := env.svc.Get(ctx, stranger, p.ID); !errors.Is(err, auth.ErrForbidden) {
		t.Errorf("stranger get: expected ErrForbidden, got %v", err)
	}
	if _, err := env.svc.Get(ctx, grantee, p.ID); err != nil {
		t.Errorf("grantee get: %v", err)
	}
	if _, err := env.svc.Get(ctx, owner, uuid.New()); !errors.Is(err, auth.ErrNotFound) {
		t.Errorf("missing patient: expected ErrNotFound, got %v", err)
	}

	updated, err := env.svc.Update(ctx, grantee, p.ID, &Patient{FullName: "Meera K", Gender: "female"})
	if err != nil {
		t.Fatalf("grantee update: %v", err)
	}
	if updated.Code != p.Code || updated.CreatedBy != owner.UserID {
		t.Errorf("update must keep code and creator, got %+v", updated)
	}
	if _, err := env.svc.Update(ctx, stranger, p.ID, &Patient{FullName: "hijack"}); !errors.Is(err, auth.ErrForbidden) {
		t.Errorf("stranger update: expected ErrForbidden, got %v", err)
	}

	if err := env.svc.Delete(ctx, grantee, p.ID); !errors.Is(err, auth.ErrForbidden) {
		t.Errorf("grantee delete: expected ErrForbidden, got %v", err)
	}
	if _, err := env.svc.Get(ctx, admin, p.ID); err != nil {
		t.Errorf("admin get: %v", err)
	}
}

func TestService_DeleteDropsGrants(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.principal(t, "owner", auth.RoleDoctor)
	grantee := env.principal(t, "grantee", auth.RoleDoctor)

	p := env.create(t, owner, "Meera")
	env.engine.Share(ctx, owner, p.ID, []uuid.UUID{grantee.UserID}, "")

	if err := env.svc.Delete(ctx, owner, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.svc.Get(ctx, owner, p.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Errorf("expected deleted patient to be gone, got %v", err)
	}
	ids, _ := env.grants.ListPatientIDsByGrantee(ctx, grantee.UserID)
	if len(ids) != 0 {
		t.Errorf("expected grants to be dropped with the patient, got %v", ids)
	}
}

func TestService_ListScope(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.principal(t, "admin", auth.RoleAdmin)
	a := env.principal(t, "a", auth.RoleDoctor)
	b := env.principal(t, "b", auth.RoleDoctor)
	odd := env.principal(t, "odd", auth.Role("intern"))

	pa := env.create(t, a, "Alpha")
	env.create(t, b, "Beta")
	env.create(t, b, "Gamma")
	env.engine.Share(ctx, a, pa.ID, []uuid.UUID{b.UserID, odd.UserID}, "")

	tests := []struct {
		name string
		p    *auth.Principal
		want int
	}{
		{"admin sees all", admin, 3},
		{"creator sees own", a, 1},
		{"creator plus shared", b, 3},
		{"unknown role sees shared only", odd, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, total, err := env.svc.List(ctx, tt.p, ListFilter{Limit: 20})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if total != tt.want || len(list) != tt.want {
				t.Errorf("expected %d, got total %d len %d", tt.want, total, len(list))
			}
		})
	}

	// A caller-supplied scope is ignored.
	list, _, _ := env.svc.List(ctx, a, ListFilter{Scope: access.Scope{All: true}})
	if len(list) != 1 {
		t.Errorf("expected scope to be replaced by the engine's, got %d patients", len(list))
	}
}
