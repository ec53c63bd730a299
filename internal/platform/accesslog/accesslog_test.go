package accesslog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/middleware"
)

func TestFromEntry(t *testing.T) {
	userID, patientID := uuid.New(), uuid.New()
	at := time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)

	rec := FromEntry(middleware.AuditEntry{
		UserID:     userID.String(),
		Username:   "meera",
		Role:       "doctor",
		Resource:   "patients",
		PatientID:  patientID.String(),
		Action:     "read",
		Method:     http.MethodGet,
		Path:       "/api/v1/patients/" + patientID.String(),
		StatusCode: http.StatusOK,
		Timestamp:  at,
		RequestID:  "req-1",
	})
	if rec.UserID == nil || *rec.UserID != userID {
		t.Errorf("expected user id %s, got %v", userID, rec.UserID)
	}
	if rec.PatientID == nil || *rec.PatientID != patientID {
		t.Errorf("expected patient id %s, got %v", patientID, rec.PatientID)
	}
	if !rec.AccessedAt.Equal(at) || rec.Status != http.StatusOK || rec.RequestID != "req-1" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestFromEntry_Anonymous(t *testing.T) {
	rec := FromEntry(middleware.AuditEntry{Resource: "auth", Action: "create", Method: http.MethodPost})
	if rec.UserID != nil || rec.PatientID != nil {
		t.Errorf("expected nil ids for an anonymous request, got %v %v", rec.UserID, rec.PatientID)
	}
	if rec.AccessedAt.IsZero() {
		t.Error("expected a timestamp to be filled in")
	}
}

type fakeLister struct {
	records []*Record
	err     error
	gotArgs string
}

func (f *fakeLister) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	f.gotArgs = fmt.Sprintf("%s/%d/%d", patientID, limit, offset)
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.records, len(f.records), nil
}

func newServer(logs Lister, gate Gate) *echo.Echo {
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := &auth.Principal{UserID: uuid.New(), Role: auth.RoleDoctor}
			c.SetRequest(c.Request().WithContext(auth.WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	})
	NewHandler(logs, gate).RegisterRoutes(e.Group("/api/v1"))
	return e
}

func get(e *echo.Echo, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandler_ListByPatient(t *testing.T) {
	patientID := uuid.New()
	logs := &fakeLister{records: []*Record{{ID: 7, Resource: "patients", Action: "read"}}}
	allow := func(context.Context, *auth.Principal, uuid.UUID) error { return nil }
	e := newServer(logs, allow)

	rec := get(e, "/api/v1/patients/"+patientID.String()+"/access-log?limit=5&offset=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"id":7`) || !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if logs.gotArgs != patientID.String()+"/5/10" {
		t.Errorf("unexpected list arguments %q", logs.gotArgs)
	}
}

func TestHandler_Errors(t *testing.T) {
	patient := "/api/v1/patients/" + uuid.New().String() + "/access-log"
	allow := func(context.Context, *auth.Principal, uuid.UUID) error { return nil }
	deny := func(context.Context, *auth.Principal, uuid.UUID) error { return auth.ErrForbidden }
	missing := func(context.Context, *auth.Principal, uuid.UUID) error {
		return fmt.Errorf("%w: patient", auth.ErrNotFound)
	}

	tests := []struct {
		name string
		logs Lister
		gate Gate
		path string
		want int
	}{
		{"bad id", &fakeLister{}, allow, "/api/v1/patients/nope/access-log", http.StatusBadRequest},
		{"denied", &fakeLister{}, deny, patient, http.StatusForbidden},
		{"missing patient", &fakeLister{}, missing, patient, http.StatusNotFound},
		{"store down", &fakeLister{err: errors.New("connection refused")}, allow, patient, http.StatusServiceUnavailable},
		{"empty trail", &fakeLister{}, allow, patient, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(newServer(tt.logs, tt.gate), tt.path)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
