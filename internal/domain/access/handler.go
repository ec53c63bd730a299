package access

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
)

type shareRequest struct {
	UserIDs []uuid.UUID `json:"user_ids"`
	Comment string      `json:"comment"`
}

type shareResponse struct {
	Granted []*Grant       `json:"granted"`
	Access  *AccessSummary `json:"access"`
}

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes mounts the sharing endpoints. api must already require a
// session; every decision below is made by the engine.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:id/access", h.ListAccess)
	api.POST("/patients/:id/access", h.Share)
	api.DELETE("/patients/:id/access/:user_id", h.Revoke)
}

func (h *Handler) ListAccess(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	summary, err := h.engine.ListAccess(c.Request().Context(), auth.PrincipalFromContext(c.Request().Context()), patientID)
	if err != nil {
		return auth.HTTPError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) Share(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var req shareRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	granted, err := h.engine.Share(ctx, auth.PrincipalFromContext(ctx), patientID, req.UserIDs, req.Comment)
	if err != nil {
		return auth.HTTPError(err)
	}
	summary, err := h.engine.GetAccessSummary(ctx, patientID)
	if err != nil {
		return auth.HTTPError(err)
	}
	return c.JSON(http.StatusOK, shareResponse{Granted: granted, Access: summary})
}

func (h *Handler) Revoke(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	ctx := c.Request().Context()
	if err := h.engine.Revoke(ctx, auth.PrincipalFromContext(ctx), patientID, userID); err != nil {
		return auth.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
