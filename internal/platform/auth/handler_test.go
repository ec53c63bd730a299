package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newAuthServer(t *testing.T) (*echo.Echo, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	e := echo.New()
	e.Use(SessionMiddleware(env.sessions))
	NewHandler(env.sessions, env.gate, CookieConfig{}).RegisterRoutes(e.Group("/api/v1"))
	return e, env
}

func doJSON(e *echo.Echo, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeSessionResponse(t *testing.T, rec *httptest.ResponseRecorder) sessionResponse {
	t.Helper()
	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestHandler_SetupFlow(t *testing.T) {
	e, _ := newAuthServer(t)

	rec := doJSON(e, http.MethodGet, "/api/v1/auth/setup", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"needs_setup":true`) {
		t.Fatalf("expected needs_setup true, got %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(e, http.MethodGet, "/api/v1/auth/me", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"needs_setup":true`) {
		t.Fatalf("expected me to report needs_setup, got %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/setup",
		`{"username":"admin","password":"admin-pass-1","full_name":"Clinic Admin"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeSessionResponse(t, rec)
	if resp.Token == "" || resp.User == nil || resp.User.Role != RoleAdmin {
		t.Fatalf("unexpected setup response %+v", resp)
	}
	if len(rec.Result().Cookies()) == 0 {
		t.Error("expected session cookie on setup")
	}
	if strings.Contains(rec.Body.String(), "password_hash") {
		t.Error("password hash must not be serialized")
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/setup",
		`{"username":"other","password":"other-pass-1","full_name":"Other"}`, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on second setup, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodGet, "/api/v1/auth/me", "", resp.Token)
	if !strings.Contains(rec.Body.String(), `"authenticated":true`) {
		t.Errorf("expected authenticated me, got %s", rec.Body.String())
	}
}

func TestHandler_SetupValidation(t *testing.T) {
	e, _ := newAuthServer(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing fields", `{"username":"admin"}`, http.StatusBadRequest},
		{"short password", `{"username":"admin","password":"short","full_name":"A"}`, http.StatusBadRequest},
		{"malformed json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(e, http.MethodPost, "/api/v1/auth/setup", tt.body, "")
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
		})
	}
}

func TestHandler_Login(t *testing.T) {
	e, env := newAuthServer(t)
	env.setupAdmin(t)
	u := env.createUser(t, "drmehta", RoleDoctor)
	disabled := env.createUser(t, "drrao", RoleDoctor)
	disabled.Status = StatusDisabled
	env.users.Update(context.Background(), disabled)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"success", `{"username":"drmehta","password":"drmehta-password"}`, http.StatusOK},
		{"wrong password", `{"username":"drmehta","password":"nope-nope"}`, http.StatusUnauthorized},
		{"unknown user", `{"username":"ghost","password":"nope-nope"}`, http.StatusUnauthorized},
		{"disabled account", `{"username":"drrao","password":"drrao-password"}`, http.StatusForbidden},
		{"missing password", `{"username":"drmehta"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(e, http.MethodPost, "/api/v1/auth/login", tt.body, "")
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
			if tt.code == http.StatusOK {
				resp := decodeSessionResponse(t, rec)
				if resp.User.ID != u.ID {
					t.Errorf("expected user %s, got %s", u.ID, resp.User.ID)
				}
				cookies := rec.Result().Cookies()
				if len(cookies) != 1 || cookies[0].Value != resp.Token {
					t.Errorf("expected cookie carrying the token, got %+v", cookies)
				}
			}
		})
	}
}

func TestHandler_LogoutAndMe(t *testing.T) {
	e, env := newAuthServer(t)
	issued := env.setupAdmin(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/auth/logout", "", issued.Token)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodGet, "/api/v1/auth/me", "", issued.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"authenticated":false`) || !strings.Contains(body, `"needs_setup":false`) {
		t.Errorf("expected logged-out state, got %s", body)
	}

	// Logging out again is harmless.
	rec = doJSON(e, http.MethodPost, "/api/v1/auth/logout", "", issued.Token)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 on repeated logout, got %d", rec.Code)
	}
}

func TestHandler_ChangePassword(t *testing.T) {
	e, env := newAuthServer(t)
	issued := env.setupAdmin(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/auth/change-password",
		`{"old_password":"admin-pass-1","new_password":"admin-pass-2"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/change-password",
		`{"old_password":"wrong-pass","new_password":"admin-pass-2"}`, issued.Token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong old password, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/change-password",
		`{"old_password":"admin-pass-1","new_password":"admin-pass-2"}`, issued.Token)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/auth/login", `{"username":"admin","password":"admin-pass-2"}`, "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected login with new password, got %d", rec.Code)
	}
}
