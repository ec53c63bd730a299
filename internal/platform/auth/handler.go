package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type setupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type sessionResponse struct {
	User      *User     `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type meResponse struct {
	Authenticated bool       `json:"authenticated"`
	NeedsSetup    bool       `json:"needs_setup"`
	User          *Principal `json:"user,omitempty"`
}

// Handler serves the login, logout, setup and password endpoints.
type Handler struct {
	sessions *SessionManager
	setup    *SetupGate
	cookie   CookieConfig
}

func NewHandler(sessions *SessionManager, setup *SetupGate, cookie CookieConfig) *Handler {
	return &Handler{sessions: sessions, setup: setup, cookie: cookie}
}

// RegisterRoutes mounts the auth endpoints under /auth. throttle is applied
// to the credential-accepting endpoints.
func (h *Handler) RegisterRoutes(api *echo.Group, throttle ...echo.MiddlewareFunc) {
	g := api.Group("/auth")
	g.GET("/setup", h.SetupStatus)
	g.POST("/setup", h.CompleteSetup, throttle...)
	g.POST("/login", h.Login, throttle...)
	g.POST("/logout", h.Logout)
	g.GET("/me", h.Me)
	g.POST("/change-password", h.ChangePassword, RequireSession())
}

func (h *Handler) SetupStatus(c echo.Context) error {
	needs, err := h.setup.NeedsSetup(c.Request().Context())
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"needs_setup": needs})
}

func (h *Handler) CompleteSetup(c echo.Context) error {
	var req setupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Username == "" || req.Password == "" || req.FullName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username, password, and full name are required")
	}

	issued, err := h.setup.CompleteSetup(c.Request().Context(), strings.TrimSpace(req.Username), req.Password, req.FullName)
	if err != nil {
		return HTTPError(err)
	}
	return h.respondSession(c, http.StatusCreated, issued)
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Username == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password required")
	}

	issued, err := h.sessions.Login(c.Request().Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		return HTTPError(err)
	}
	return h.respondSession(c, http.StatusOK, issued)
}

func (h *Handler) respondSession(c echo.Context, status int, issued *IssuedSession) error {
	SetSessionCookie(c, h.cookie, issued.Token, issued.Session.ExpiresAt)
	return c.JSON(status, sessionResponse{
		User:      issued.User,
		Token:     issued.Token,
		ExpiresAt: issued.Session.ExpiresAt,
	})
}

func (h *Handler) Logout(c echo.Context) error {
	if err := h.sessions.Logout(c.Request().Context(), TokenFromRequest(c.Request())); err != nil {
		return HTTPError(err)
	}
	ClearSessionCookie(c, h.cookie)
	return c.NoContent(http.StatusNoContent)
}

// Me reports the caller's session state. It never fails with 401 so the
// client can decide between the setup and login screens.
func (h *Handler) Me(c echo.Context) error {
	if p := PrincipalFromContext(c.Request().Context()); p != nil {
		return c.JSON(http.StatusOK, meResponse{Authenticated: true, User: p})
	}
	needs, err := h.setup.NeedsSetup(c.Request().Context())
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, meResponse{NeedsSetup: needs})
}

func (h *Handler) ChangePassword(c echo.Context) error {
	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "old and new passwords required")
	}

	p := PrincipalFromContext(c.Request().Context())
	if err := h.sessions.ChangePassword(c.Request().Context(), p, req.OldPassword, req.NewPassword); err != nil {
		return HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
