package account

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/domain/access"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
)

type createUserRequest struct {
	Username string             `json:"username"`
	FullName string             `json:"full_name"`
	Password string             `json:"password"`
	Role     auth.Role          `json:"role"`
	Status   auth.AccountStatus `json:"status"`
}

type updateUserRequest struct {
	FullName *string             `json:"full_name"`
	Role     *auth.Role          `json:"role"`
	Status   *auth.AccountStatus `json:"status"`
	Password string              `json:"password"`
}

type Handler struct {
	svc    *Service
	engine *access.Engine
}

func NewHandler(svc *Service, engine *access.Engine) *Handler {
	return &Handler{svc: svc, engine: engine}
}

// RegisterRoutes mounts user management on a group that already requires a
// session. Everything but the directory is admin only.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/users/directory", h.Directory)

	gate := func(op access.UserOp) echo.MiddlewareFunc { return access.RequireUserManagement(h.engine, op) }
	api.GET("/users", h.ListUsers, gate(access.UserOpList))
	api.POST("/users", h.CreateUser, gate(access.UserOpCreate))
	api.PUT("/users/:id", h.UpdateUser, gate(access.UserOpUpdate))
	api.DELETE("/users/:id", h.DeleteUser, gate(access.UserOpDelete))
	api.POST("/users/:id/sessions/revoke", h.RevokeSessions, gate(access.UserOpRevokeSessions))
}

func (h *Handler) ListUsers(c echo.Context) error {
	ctx := c.Request().Context()
	users, err := h.svc.List(ctx, auth.PrincipalFromContext(ctx))
	if err != nil {
		return auth.HTTPError(err)
	}
	return c.JSON(http.StatusOK, users)
}

func (h *Handler) Directory(c echo.Context) error {
	ctx := c.Request().Context()
	entries, err := h.svc.Directory(ctx, auth.PrincipalFromContext(ctx))
	if err != nil {
		return auth.HTTPError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) CreateUser(c echo.Context) error {
	var req createUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	u, err := h.svc.Create(ctx, auth.PrincipalFromContext(ctx), auth.NewUser{
		Username: req.Username,
		FullName: req.FullName,
		Password: req.Password,
		Role:     req.Role,
		Status:   req.Status,
	})
	if err != nil {
		return auth.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) UpdateUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req updateUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	u, err := h.svc.Update(ctx, auth.PrincipalFromContext(ctx), id, Update{
		FullName: req.FullName,
		Role:     req.Role,
		Status:   req.Status,
		Password: req.Password,
	})
	if err != nil {
		return auth.HTTPError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) DeleteUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if err := h.svc.Delete(ctx, auth.PrincipalFromContext(ctx), id); err != nil {
		return auth.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RevokeSessions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	n, err := h.svc.RevokeSessions(ctx, auth.PrincipalFromContext(ctx), id)
	if err != nil {
		return auth.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"revoked": n})
}
